package subscription

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Status represents subscription status
type Status string

const (
	StatusPendingReview Status = "pending_review"
	StatusActive        Status = "active"
	StatusPastDue       Status = "past_due"
	StatusCanceled      Status = "canceled"
)

// BillingCycle represents billing cycle
type BillingCycle string

const (
	BillingMonthly BillingCycle = "monthly"
	BillingYearly  BillingCycle = "yearly"
)

// Subscription is the provider-driven record of a user's plan.
type Subscription struct {
	ID                     uuid.UUID    `db:"id" json:"id"`
	UserID                 string       `db:"user_id" json:"user_id"`
	ProviderSubscriptionID string       `db:"provider_subscription_id" json:"provider_subscription_id"`
	Plan                   string       `db:"plan" json:"plan"`
	Status                 Status       `db:"status" json:"status"`
	BillingCycle           BillingCycle `db:"billing_cycle" json:"billing_cycle"`
	CurrentPeriodStart     time.Time    `db:"current_period_start" json:"current_period_start"`
	CurrentPeriodEnd       time.Time    `db:"current_period_end" json:"current_period_end"`
	CreditsPerMonth        int64        `db:"credits_per_month" json:"credits_per_month"`
	CreditsUsedThisMonth   int64        `db:"credits_used_this_month" json:"credits_used_this_month"`
	CreditsResetAt         sql.NullTime `db:"credits_reset_at" json:"credits_reset_at,omitempty"`
	RequiresManualReview   bool         `db:"requires_manual_review" json:"requires_manual_review"`
	CanceledAt             sql.NullTime `db:"canceled_at" json:"canceled_at,omitempty"`
	CreatedAt              time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time    `db:"updated_at" json:"updated_at"`
}

// transitions lists allowed status changes. canceled is terminal.
var transitions = map[Status][]Status{
	StatusPendingReview: {StatusActive, StatusCanceled},
	StatusActive:        {StatusPastDue, StatusCanceled},
	StatusPastDue:       {StatusActive, StatusCanceled},
}

// CanTransitionTo reports whether status may move to next. Staying in place is always allowed.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsCanceled checks if subscription reached its terminal state
func (s *Subscription) IsCanceled() bool {
	return s.Status == StatusCanceled
}

// RenewalBlocked reports whether a renewal grant must be withheld.
func (s *Subscription) RenewalBlocked() bool {
	return s.RequiresManualReview
}

// PeriodEnd returns the end of a billing period starting at start.
func PeriodEnd(start time.Time, cycle BillingCycle) time.Time {
	if cycle == BillingYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}
