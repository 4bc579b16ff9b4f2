package webhook

import (
	"errors"
	"fmt"
)

var (
	// ErrSignatureInvalid rejects the delivery before any side effect
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// ErrInvalidPayload is returned when the envelope or resource cannot be decoded
	ErrInvalidPayload = errors.New("invalid webhook payload")

	// ErrDeliveryInFlight is returned while another worker holds the delivery lock
	ErrDeliveryInFlight = errors.New("webhook delivery already in progress")

	ErrLegacyFormat        = errors.New("legacy metadata format")
	ErrMetadataUnparseable = errors.New("metadata unparseable")
	ErrPolicyViolation     = errors.New("policy violation")
	ErrManualReviewBlocked = errors.New("subscription requires manual review")

	ErrUnknownProduct = errors.New("unknown credit package")
	ErrUnknownPlan    = errors.New("unknown subscription plan")

	// ErrEventIgnored marks events acknowledged without action
	ErrEventIgnored = errors.New("event ignored")

	// ErrAlreadyProcessed marks a redelivery whose effect already landed
	ErrAlreadyProcessed = errors.New("event already processed")

	// ErrSubscriptionNotFound is retryable: the activation may not have landed yet
	ErrSubscriptionNotFound = errors.New("subscription not found")

	ErrStore = errors.New("store failure")
)

// Outcome of a handled delivery.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
)

// ViolationError is a blocked decision carrying the audited reason.
type ViolationError struct {
	Reason ViolationReason
	Err    error
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Reason)
}

func (e *ViolationError) Unwrap() error {
	return e.Err
}

// outcomeFor maps a handler result to an outcome. Only retryable failures stay errors.
func outcomeFor(err error) (Outcome, error) {
	switch {
	case err == nil:
		return OutcomeProcessed, nil
	case errors.Is(err, ErrLegacyFormat),
		errors.Is(err, ErrMetadataUnparseable),
		errors.Is(err, ErrPolicyViolation),
		errors.Is(err, ErrManualReviewBlocked):
		return OutcomeBlocked, nil
	case errors.Is(err, ErrUnknownProduct),
		errors.Is(err, ErrUnknownPlan),
		errors.Is(err, ErrEventIgnored):
		return OutcomeIgnored, nil
	case errors.Is(err, ErrAlreadyProcessed):
		return OutcomeDuplicate, nil
	default:
		return "", err
	}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
