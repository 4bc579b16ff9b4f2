package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PayPal event type strings.
const (
	TypeCheckoutOrderApproved     = "CHECKOUT.ORDER.APPROVED"
	TypePaymentCaptureCompleted   = "PAYMENT.CAPTURE.COMPLETED"
	TypeSubscriptionActivated     = "BILLING.SUBSCRIPTION.ACTIVATED"
	TypeSubscriptionCancelled     = "BILLING.SUBSCRIPTION.CANCELLED"
	TypeSubscriptionSuspended     = "BILLING.SUBSCRIPTION.SUSPENDED"
	TypePaymentSaleCompleted      = "PAYMENT.SALE.COMPLETED"
	TypePaymentSaleDenied         = "PAYMENT.SALE.DENIED"
	TypeSubscriptionPaymentFailed = "BILLING.SUBSCRIPTION.PAYMENT.FAILED"
)

// Kind is the handler family an event type routes to.
type Kind string

const (
	KindPaymentCompleted      Kind = "payment_completed"
	KindSubscriptionActivated Kind = "subscription_activated"
	KindSubscriptionCancelled Kind = "subscription_cancelled"
	KindSubscriptionRenewed   Kind = "subscription_renewed"
	KindPaymentFailed         Kind = "payment_failed"
	KindUnknown               Kind = "unknown"
)

var kinds = map[string]Kind{
	TypeCheckoutOrderApproved:     KindPaymentCompleted,
	TypePaymentCaptureCompleted:   KindPaymentCompleted,
	TypeSubscriptionActivated:     KindSubscriptionActivated,
	TypeSubscriptionCancelled:     KindSubscriptionCancelled,
	TypeSubscriptionSuspended:     KindSubscriptionCancelled,
	TypePaymentSaleCompleted:      KindSubscriptionRenewed,
	TypePaymentSaleDenied:         KindPaymentFailed,
	TypeSubscriptionPaymentFailed: KindPaymentFailed,
}

// KindOf maps a provider event type to its handler family.
func KindOf(eventType string) Kind {
	if k, ok := kinds[strings.ToUpper(strings.TrimSpace(eventType))]; ok {
		return k
	}
	return KindUnknown
}

// Envelope is the outer PayPal webhook document.
type Envelope struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type"`
	CreateTime   string          `json:"create_time"`
	Summary      string          `json:"summary"`
	Resource     json.RawMessage `json:"resource"`
}

// EventMeta is shared by every decoded event.
type EventMeta struct {
	ID         string
	Type       string
	CreatedAt  time.Time
	ResourceID string
}

// Meta returns the envelope fields.
func (m EventMeta) Meta() EventMeta { return m }

// Event is the tagged union of recognized event families.
type Event interface {
	Meta() EventMeta
	Kind() Kind
}

// Money is a provider amount kept as its decimal string.
type Money struct {
	Currency string
	Value    string
}

// PaymentCompleted is a one-time credit purchase.
type PaymentCompleted struct {
	EventMeta
	OrderID   string
	CaptureID string
	CustomID  string
	Amount    Money
}

func (*PaymentCompleted) Kind() Kind { return KindPaymentCompleted }

// ReferenceID is the order id, or the capture id when the order is unknown.
func (e *PaymentCompleted) ReferenceID() string {
	if e.OrderID != "" {
		return e.OrderID
	}
	return e.CaptureID
}

// SubscriptionActivated starts a recurring plan.
type SubscriptionActivated struct {
	EventMeta
	SubscriptionID  string
	ProviderPlanID  string
	CustomID        string
	StartTime       time.Time
	NextBillingTime time.Time
}

func (*SubscriptionActivated) Kind() Kind { return KindSubscriptionActivated }

// SubscriptionCancelled covers cancellation and suspension.
type SubscriptionCancelled struct {
	EventMeta
	SubscriptionID string
	Suspended      bool
}

func (*SubscriptionCancelled) Kind() Kind { return KindSubscriptionCancelled }

// SubscriptionRenewed is a completed recurring sale.
type SubscriptionRenewed struct {
	EventMeta
	SaleID         string
	SubscriptionID string
	Amount         Money
}

func (*SubscriptionRenewed) Kind() Kind { return KindSubscriptionRenewed }

// PaymentFailed is a denied sale or failed subscription payment.
type PaymentFailed struct {
	EventMeta
	SubscriptionID string
}

func (*PaymentFailed) Kind() Kind { return KindPaymentFailed }

// Unknown is any event type the service does not act on.
type Unknown struct {
	EventMeta
}

func (*Unknown) Kind() Kind { return KindUnknown }

type amountV2 struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type orderResource struct {
	ID            string `json:"id"`
	PurchaseUnits []struct {
		ReferenceID string   `json:"reference_id"`
		CustomID    string   `json:"custom_id"`
		Amount      amountV2 `json:"amount"`
	} `json:"purchase_units"`
}

type captureResource struct {
	ID                string   `json:"id"`
	CustomID          string   `json:"custom_id"`
	Amount            amountV2 `json:"amount"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

type subscriptionResource struct {
	ID          string `json:"id"`
	PlanID      string `json:"plan_id"`
	CustomID    string `json:"custom_id"`
	StartTime   string `json:"start_time"`
	BillingInfo struct {
		NextBillingTime string `json:"next_billing_time"`
	} `json:"billing_info"`
}

type saleResource struct {
	ID                 string `json:"id"`
	BillingAgreementID string `json:"billing_agreement_id"`
	Amount             struct {
		Total    string `json:"total"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

// DecodeEvent decodes the envelope once into its typed variant.
func DecodeEvent(body []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(env.ID) == "" || strings.TrimSpace(env.EventType) == "" {
		return nil, fmt.Errorf("%w: missing id or event_type", ErrInvalidPayload)
	}

	meta := EventMeta{
		ID:        env.ID,
		Type:      strings.ToUpper(strings.TrimSpace(env.EventType)),
		CreatedAt: parseTime(env.CreateTime),
	}

	kind := KindOf(meta.Type)
	if kind == KindUnknown {
		return &Unknown{EventMeta: meta}, nil
	}
	if len(env.Resource) == 0 || string(env.Resource) == "null" {
		return nil, fmt.Errorf("%w: missing resource", ErrInvalidPayload)
	}

	switch kind {
	case KindPaymentCompleted:
		return decodePaymentCompleted(meta, env.Resource)
	case KindSubscriptionActivated:
		var r subscriptionResource
		if err := decodeResource(env.Resource, &r, r.idOf); err != nil {
			return nil, err
		}
		meta.ResourceID = r.ID
		return &SubscriptionActivated{
			EventMeta:       meta,
			SubscriptionID:  r.ID,
			ProviderPlanID:  r.PlanID,
			CustomID:        r.CustomID,
			StartTime:       parseTime(r.StartTime),
			NextBillingTime: parseTime(r.BillingInfo.NextBillingTime),
		}, nil
	case KindSubscriptionCancelled:
		var r subscriptionResource
		if err := decodeResource(env.Resource, &r, r.idOf); err != nil {
			return nil, err
		}
		meta.ResourceID = r.ID
		return &SubscriptionCancelled{
			EventMeta:      meta,
			SubscriptionID: r.ID,
			Suspended:      meta.Type == TypeSubscriptionSuspended,
		}, nil
	case KindSubscriptionRenewed:
		var r saleResource
		if err := json.Unmarshal(env.Resource, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if r.ID == "" {
			return nil, fmt.Errorf("%w: sale without id", ErrInvalidPayload)
		}
		meta.ResourceID = r.ID
		if r.BillingAgreementID == "" {
			// one-off sale, not tied to a subscription
			return &Unknown{EventMeta: meta}, nil
		}
		return &SubscriptionRenewed{
			EventMeta:      meta,
			SaleID:         r.ID,
			SubscriptionID: r.BillingAgreementID,
			Amount:         Money{Currency: r.Amount.Currency, Value: r.Amount.Total},
		}, nil
	case KindPaymentFailed:
		return decodePaymentFailed(meta, env.Resource)
	}

	return &Unknown{EventMeta: meta}, nil
}

func (r *subscriptionResource) idOf() string { return r.ID }

func decodeResource(raw json.RawMessage, v interface{}, id func() string) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if id() == "" {
		return fmt.Errorf("%w: resource without id", ErrInvalidPayload)
	}
	return nil
}

func decodePaymentCompleted(meta EventMeta, raw json.RawMessage) (Event, error) {
	if meta.Type == TypeCheckoutOrderApproved {
		var r orderResource
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if r.ID == "" {
			return nil, fmt.Errorf("%w: order without id", ErrInvalidPayload)
		}
		ev := &PaymentCompleted{OrderID: r.ID}
		if len(r.PurchaseUnits) > 0 {
			unit := r.PurchaseUnits[0]
			ev.CustomID = unit.CustomID
			ev.Amount = Money{Currency: unit.Amount.CurrencyCode, Value: unit.Amount.Value}
		}
		meta.ResourceID = r.ID
		ev.EventMeta = meta
		return ev, nil
	}

	var r captureResource
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if r.ID == "" {
		return nil, fmt.Errorf("%w: capture without id", ErrInvalidPayload)
	}
	meta.ResourceID = r.ID
	return &PaymentCompleted{
		EventMeta: meta,
		OrderID:   r.SupplementaryData.RelatedIDs.OrderID,
		CaptureID: r.ID,
		CustomID:  r.CustomID,
		Amount:    Money{Currency: r.Amount.CurrencyCode, Value: r.Amount.Value},
	}, nil
}

func decodePaymentFailed(meta EventMeta, raw json.RawMessage) (Event, error) {
	if meta.Type == TypePaymentSaleDenied {
		var r saleResource
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if r.ID == "" {
			return nil, fmt.Errorf("%w: sale without id", ErrInvalidPayload)
		}
		meta.ResourceID = r.ID
		if r.BillingAgreementID == "" {
			return &Unknown{EventMeta: meta}, nil
		}
		return &PaymentFailed{EventMeta: meta, SubscriptionID: r.BillingAgreementID}, nil
	}

	var r subscriptionResource
	if err := decodeResource(raw, &r, r.idOf); err != nil {
		return nil, err
	}
	meta.ResourceID = r.ID
	return &PaymentFailed{EventMeta: meta, SubscriptionID: r.ID}, nil
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
