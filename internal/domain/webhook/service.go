package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mwork/ledger-api/internal/domain/credit"
	"github.com/mwork/ledger-api/internal/domain/subscription"
	"github.com/mwork/ledger-api/internal/pkg/logger"
	"github.com/mwork/ledger-api/internal/pkg/metrics"
)

// SignatureVerifier authenticates a delivery against the provider.
type SignatureVerifier interface {
	Verify(ctx context.Context, header http.Header, body []byte) (bool, error)
}

// CreditGranter is the ledger entry point used by handlers.
type CreditGranter interface {
	Grant(ctx context.Context, req credit.GrantRequest) (credit.GrantResult, error)
}

// SubscriptionStore applies lifecycle changes to subscription rows.
type SubscriptionStore interface {
	GetByProviderID(ctx context.Context, providerSubscriptionID string) (*subscription.Subscription, error)
	Activate(ctx context.Context, in subscription.ActivateInput) (*subscription.Subscription, error)
	FlagForReview(ctx context.Context, in subscription.ActivateInput) (*subscription.Subscription, error)
	Cancel(ctx context.Context, providerSubscriptionID string) (*subscription.Subscription, bool, error)
	MarkPastDue(ctx context.Context, providerSubscriptionID string) (*subscription.Subscription, bool, error)
	Renew(ctx context.Context, providerSubscriptionID string) (*subscription.Subscription, error)
}

// Notifier sends user-facing lifecycle notifications. Failures never fail a delivery.
type Notifier interface {
	NotifySubscriptionCanceled(ctx context.Context, userID string, plan string) error
	NotifyPaymentFailed(ctx context.Context, userID string, plan string) error
	NotifySubscriptionInReview(ctx context.Context, userID string) error
}

// Deps wires a Service. Lock, Notifier and Metrics are optional.
type Deps struct {
	Verifier      SignatureVerifier
	Events        EventStore
	Lock          DeliveryLock
	Credits       CreditGranter
	Subscriptions SubscriptionStore
	Gate          *PolicyGate
	Notifier      Notifier
	Metrics       metrics.Recorder
	SourceApp     string
	LockTTL       time.Duration
}

// Service processes verified provider deliveries.
type Service struct {
	verifier      SignatureVerifier
	events        EventStore
	lock          DeliveryLock
	credits       CreditGranter
	subscriptions SubscriptionStore
	gate          *PolicyGate
	notifier      Notifier
	metrics       metrics.Recorder
	sourceApp     string
	lockTTL       time.Duration
}

// NewService creates webhook service
func NewService(d Deps) *Service {
	s := &Service{
		verifier:      d.Verifier,
		events:        d.Events,
		lock:          d.Lock,
		credits:       d.Credits,
		subscriptions: d.Subscriptions,
		gate:          d.Gate,
		notifier:      d.Notifier,
		metrics:       d.Metrics,
		sourceApp:     d.SourceApp,
		lockTTL:       d.LockTTL,
	}
	if s.lock == nil {
		s.lock = NoopLock{}
	}
	if s.metrics == nil {
		s.metrics = metrics.Noop{}
	}
	if s.sourceApp == "" {
		s.sourceApp = "paypal_webhook"
	}
	if s.lockTTL <= 0 {
		s.lockTTL = time.Minute
	}
	return s
}

// ProcessWebhook handles one delivery. Nothing is read or written before the signature verifies.
// A nil error means the delivery must be acknowledged; any returned error other than the
// signature, payload and in-flight sentinels asks the provider to redeliver.
func (s *Service) ProcessWebhook(ctx context.Context, header http.Header, body []byte) (Outcome, error) {
	if err := s.verify(ctx, header, body); err != nil {
		return "", err
	}

	ev, err := DecodeEvent(body)
	if err != nil {
		s.metrics.RecordWebhookError("invalid_payload")
		logger.LogWarn(ctx, "webhook payload rejected", "error", err.Error())
		return "", err
	}

	meta := ev.Meta()
	ctx = logger.WithFields(ctx, map[string]string{
		"event_id":   meta.ID,
		"event_type": meta.Type,
	})

	start := time.Now()
	defer func() {
		s.metrics.RecordWebhookDuration(meta.Type, time.Since(start))
	}()

	release, err := s.lock.Acquire(ctx, meta.ID, s.lockTTL)
	switch {
	case errors.Is(err, ErrDeliveryInFlight):
		s.metrics.RecordWebhookError("in_flight")
		logger.LogInfo(ctx, "webhook delivery already in progress")
		return "", err
	case err != nil:
		// the processed-event claim and ledger keys still hold without the lock
		logger.LogWarn(ctx, "delivery lock unavailable", "error", err.Error())
		release = func() {}
	}
	defer release()

	claim, err := s.events.Claim(ctx, meta, s.lockTTL)
	if err != nil {
		return s.fail(ctx, meta, storeErr("claim webhook event", err), false)
	}
	switch claim {
	case ClaimProcessed:
		s.metrics.RecordWebhookEvent(meta.Type, string(OutcomeDuplicate))
		logger.LogInfo(ctx, "webhook event already processed")
		return OutcomeDuplicate, nil
	case ClaimInFlight:
		s.metrics.RecordWebhookError("in_flight")
		logger.LogInfo(ctx, "webhook event claimed by another delivery")
		return "", ErrDeliveryInFlight
	}

	outcome, err := s.dispatch(ctx, ev)
	if err != nil {
		return s.fail(ctx, meta, err, true)
	}

	if err := s.events.MarkProcessed(ctx, meta.ID, outcome); err != nil {
		// a failed row is claimable at once, a processing row only after lockTTL
		return s.fail(ctx, meta, storeErr("mark webhook event processed", err), true)
	}

	s.metrics.RecordWebhookEvent(meta.Type, string(outcome))
	logger.LogInfo(ctx, "webhook event handled", "outcome", string(outcome), "resource_id", meta.ResourceID)
	return outcome, nil
}

func (s *Service) verify(ctx context.Context, header http.Header, body []byte) error {
	start := time.Now()
	ok, err := s.verifier.Verify(ctx, header, body)

	status := "verified"
	switch {
	case err != nil:
		status = "error"
	case !ok:
		status = "rejected"
	}
	s.metrics.RecordVerification(status, time.Since(start))

	if err != nil || !ok {
		s.metrics.RecordWebhookError("signature_invalid")
		if err != nil {
			logger.LogWarn(ctx, "webhook signature verification failed", "error", err.Error())
			return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
		logger.LogWarn(ctx, "webhook signature rejected")
		return ErrSignatureInvalid
	}
	return nil
}

func (s *Service) fail(ctx context.Context, meta EventMeta, err error, markFailed bool) (Outcome, error) {
	if markFailed {
		if merr := s.events.MarkFailed(ctx, meta.ID, err.Error()); merr != nil {
			logger.LogError(ctx, merr, "failed to mark webhook event failed")
		}
	}
	s.metrics.RecordWebhookError("processing_error")
	s.metrics.RecordWebhookEvent(meta.Type, "error")
	logger.LogError(ctx, err, "webhook processing failed")
	return "", err
}

func firstNonZero(times ...time.Time) time.Time {
	for _, t := range times {
		if !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}
