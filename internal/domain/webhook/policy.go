package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mwork/ledger-api/internal/domain/audit"
	"github.com/mwork/ledger-api/internal/pkg/logger"
	"github.com/mwork/ledger-api/internal/pkg/metrics"
	"github.com/mwork/ledger-api/internal/pkg/validator"
)

// ViolationReason is the audited cause of a blocked event.
type ViolationReason string

const (
	ReasonLegacyFormat  ViolationReason = "legacy_format_no_policy_metadata"
	ReasonMissingFields ViolationReason = "missing_required_policy_fields"
	ReasonMalformed     ViolationReason = "malformed_policy_fields"
	ReasonManualReview  ViolationReason = "subscription_requires_manual_review"
)

// policyFields is what a current-format record must carry.
type policyFields struct {
	UserID        string `json:"uid" validate:"required"`
	ProductID     string `json:"pid" validate:"required,ident"`
	PolicyVersion string `json:"pv" validate:"required"`
	NoRefundAck   string `json:"nra" validate:"required,oneof=1 true"`
	AcceptedAt    string `json:"ts" validate:"required,unix_ts"`
}

// PolicyDecision is the pure result of evaluating metadata.
type PolicyDecision struct {
	Passed  bool
	Reason  ViolationReason
	Invalid map[string]string
}

// EvaluatePolicy passes only current-format metadata with every required field present and well-formed.
func EvaluatePolicy(md Metadata) PolicyDecision {
	if md.IsLegacy {
		return PolicyDecision{Reason: ReasonLegacyFormat}
	}

	failed := validator.FailedTags(policyFields{
		UserID:        md.get(KeyUserID),
		ProductID:     md.get(KeyProductID),
		PolicyVersion: md.get(KeyPolicyVersion),
		NoRefundAck:   md.get(KeyNoRefundAck),
		AcceptedAt:    md.get(KeyAcceptedAt),
	})
	if len(failed) == 0 {
		return PolicyDecision{Passed: true}
	}

	reason := ReasonMalformed
	for _, tag := range failed {
		if tag == "required" {
			reason = ReasonMissingFields
			break
		}
	}
	return PolicyDecision{Reason: reason, Invalid: failed}
}

// PolicyRef locates the provider object an audit row is about.
type PolicyRef struct {
	EventID     string
	EventType   string
	ReferenceID string
}

// PolicyGate enforces the no-refund acknowledgement policy and writes one audit row per violation.
type PolicyGate struct {
	audit   audit.Repository
	metrics metrics.Recorder
	now     func() time.Time
}

func NewPolicyGate(repo audit.Repository, m metrics.Recorder) *PolicyGate {
	if m == nil {
		m = metrics.Noop{}
	}
	return &PolicyGate{audit: repo, metrics: m, now: time.Now}
}

// Check returns nil when md passes. Otherwise it records the violation and returns a *ViolationError.
// A failed audit write is returned as a store error so the delivery is retried.
func (g *PolicyGate) Check(ctx context.Context, ref PolicyRef, md Metadata) error {
	decision := EvaluatePolicy(md)
	if decision.Passed {
		return nil
	}

	sentinel := ErrPolicyViolation
	if decision.Reason == ReasonLegacyFormat {
		sentinel = ErrLegacyFormat
		if md.Format == FormatUnparseable {
			sentinel = ErrMetadataUnparseable
		}
	}
	return g.block(ctx, ref, md, decision.Reason, decision.Invalid, sentinel)
}

// BlockManualReview records a grant withheld because the subscription is flagged.
func (g *PolicyGate) BlockManualReview(ctx context.Context, ref PolicyRef, md Metadata) error {
	return g.block(ctx, ref, md, ReasonManualReview, nil, ErrManualReviewBlocked)
}

func (g *PolicyGate) block(ctx context.Context, ref PolicyRef, md Metadata, reason ViolationReason, invalid map[string]string, sentinel error) error {
	snapshot, err := json.Marshal(audit.Snapshot{
		EventType: ref.EventType,
		Raw:       md.Raw,
		Format:    string(md.Format),
		IsLegacy:  md.IsLegacy,
		Parsed:    md.Fields,
		Invalid:   invalid,
	})
	if err != nil {
		return storeErr("encode audit snapshot", err)
	}

	row := &audit.PolicyAuditLog{
		ID:                  uuid.New(),
		EventType:           audit.EventTypeViolation,
		ProviderEventID:     ref.EventID,
		ProviderReferenceID: ref.ReferenceID,
		MetadataSnapshot:    snapshot,
		ViolationReason:     string(reason),
		CreatedAt:           g.now(),
	}
	if uid := md.UserID(); uid != "" {
		row.UserID = sql.NullString{String: uid, Valid: true}
	}

	if err := g.audit.Create(ctx, row); err != nil {
		return storeErr("write policy audit log", err)
	}

	g.metrics.RecordPolicyViolation(string(reason))
	logger.LogWarn(ctx, "payment event blocked by policy",
		"reason", string(reason),
		"format", string(md.Format),
		"reference_id", ref.ReferenceID,
	)

	return &ViolationError{Reason: reason, Err: sentinel}
}
