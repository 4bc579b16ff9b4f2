package webhook

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mwork/ledger-api/internal/pkg/errorhandler"
	"github.com/mwork/ledger-api/internal/pkg/httputil"
	"github.com/mwork/ledger-api/internal/pkg/response"
)

const defaultMaxBodyBytes int64 = 256 << 10

// Handler handles provider webhook HTTP requests
type Handler struct {
	service      *Service
	maxBodyBytes int64
}

// NewHandler creates webhook handler
func NewHandler(service *Service, maxBodyBytes int64) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &Handler{service: service, maxBodyBytes: maxBodyBytes}
}

// PayPal handles POST /webhooks/paypal
func (h *Handler) PayPal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// verification needs the exact bytes PayPal signed
	body, err := httputil.ReadBodyStrict(w, r, h.maxBodyBytes)
	if err != nil {
		if errors.Is(err, httputil.ErrPayloadTooLarge) {
			errorhandler.HandleWarning(ctx, w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "webhook body too large", err)
			return
		}
		errorhandler.HandleWarning(ctx, w, http.StatusBadRequest, "BAD_REQUEST", "invalid webhook body", err)
		return
	}

	_, err = h.service.ProcessWebhook(ctx, r.Header, body)
	switch {
	case err == nil:
		response.OK(w, map[string]string{"status": "ok"})
	case errors.Is(err, ErrSignatureInvalid):
		response.BadRequest(w, "invalid webhook signature")
	case errors.Is(err, ErrInvalidPayload):
		response.BadRequest(w, "invalid webhook payload")
	case errors.Is(err, ErrDeliveryInFlight):
		response.Conflict(w, "webhook delivery already in progress")
	default:
		// non-2xx makes PayPal redeliver
		errorhandler.HandleError(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "webhook processing failed", err)
	}
}

// Routes returns webhook router (no auth, signature verification happens in the service)
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/paypal", h.PayPal)
	return r
}
