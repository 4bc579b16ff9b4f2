package metrics

import "time"

// Recorder tracks webhook and ledger operations.
// Callers hold a Recorder and never check for nil; use Noop when metrics are disabled.
type Recorder interface {
	// RecordWebhookEvent records a handled event. outcome: processed, blocked, ignored, duplicate, error.
	RecordWebhookEvent(eventType, outcome string)

	// RecordWebhookDuration records end-to-end handling time of one delivery.
	RecordWebhookDuration(eventType string, duration time.Duration)

	// RecordWebhookError records a rejected or failed delivery.
	// errorType: signature_invalid, invalid_payload, in_flight, processing_error
	RecordWebhookError(errorType string)

	// RecordPolicyViolation records one audited policy violation.
	RecordPolicyViolation(reason string)

	// RecordCreditsGranted records credits committed to the ledger.
	RecordCreditsGranted(txType string, credits int64)

	// RecordVerification records a signature verification call. status: verified, rejected, error
	RecordVerification(status string, duration time.Duration)
}

// Noop is a Recorder that drops everything.
type Noop struct{}

func (Noop) RecordWebhookEvent(_, _ string)                  {}
func (Noop) RecordWebhookDuration(_ string, _ time.Duration) {}
func (Noop) RecordWebhookError(_ string)                     {}
func (Noop) RecordPolicyViolation(_ string)                  {}
func (Noop) RecordCreditsGranted(_ string, _ int64)          {}
func (Noop) RecordVerification(_ string, _ time.Duration)    {}
