package subscription

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Service applies provider lifecycle events to subscription rows
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates subscription service
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// ActivateInput describes a provider subscription being activated.
type ActivateInput struct {
	UserID                 string
	ProviderSubscriptionID string
	Plan                   string
	Cycle                  BillingCycle
	CreditsPerMonth        int64
	PeriodStart            time.Time
	PeriodEnd              time.Time
}

func (in *ActivateInput) normalize(now time.Time) error {
	in.UserID = strings.TrimSpace(in.UserID)
	in.ProviderSubscriptionID = strings.TrimSpace(in.ProviderSubscriptionID)
	if in.UserID == "" || in.ProviderSubscriptionID == "" {
		return ErrInvalidSubscription
	}
	if in.Cycle == "" {
		in.Cycle = BillingMonthly
	}
	if in.PeriodStart.IsZero() {
		in.PeriodStart = now
	}
	if in.PeriodEnd.IsZero() || !in.PeriodEnd.After(in.PeriodStart) {
		in.PeriodEnd = PeriodEnd(in.PeriodStart, in.Cycle)
	}
	return nil
}

// GetByProviderID returns the subscription or nil when unknown.
func (s *Service) GetByProviderID(ctx context.Context, providerSubscriptionID string) (*Subscription, error) {
	return s.repo.GetByProviderID(ctx, providerSubscriptionID)
}

// Activate upserts an active subscription with the review flag cleared.
// A row for the same provider subscription that is flagged or canceled is left untouched.
func (s *Service) Activate(ctx context.Context, in ActivateInput) (*Subscription, error) {
	now := s.now()
	if err := in.normalize(now); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByProviderID(ctx, in.ProviderSubscriptionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.UserID != in.UserID {
			return existing, ErrOwnerMismatch
		}
		if existing.IsCanceled() {
			return existing, ErrInvalidTransition
		}
		if existing.RequiresManualReview {
			return existing, ErrManualReviewRequired
		}
	}
	if err := s.logSuperseded(ctx, in); err != nil {
		return nil, err
	}

	sub := &Subscription{
		ID:                     uuid.New(),
		UserID:                 in.UserID,
		ProviderSubscriptionID: in.ProviderSubscriptionID,
		Plan:                   in.Plan,
		Status:                 StatusActive,
		BillingCycle:           in.Cycle,
		CurrentPeriodStart:     in.PeriodStart,
		CurrentPeriodEnd:       in.PeriodEnd,
		CreditsPerMonth:        in.CreditsPerMonth,
		CreditsResetAt:         sql.NullTime{Time: now, Valid: true},
	}
	if existing != nil {
		sub.ID = existing.ID
	}

	if err := s.repo.Upsert(ctx, sub); err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", sub.UserID).
		Str("provider_subscription_id", sub.ProviderSubscriptionID).
		Str("plan", sub.Plan).
		Msg("subscription activated")
	return sub, nil
}

// FlagForReview records a subscription whose activation failed the policy gate.
// No credits are associated with a flagged activation; only a human clears the flag.
func (s *Service) FlagForReview(ctx context.Context, in ActivateInput) (*Subscription, error) {
	now := s.now()
	if err := in.normalize(now); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByProviderID(ctx, in.ProviderSubscriptionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.UserID != in.UserID {
			return existing, ErrOwnerMismatch
		}
		if existing.IsCanceled() {
			return existing, ErrInvalidTransition
		}
	}
	if err := s.logSuperseded(ctx, in); err != nil {
		return nil, err
	}

	sub := &Subscription{
		ID:                     uuid.New(),
		UserID:                 in.UserID,
		ProviderSubscriptionID: in.ProviderSubscriptionID,
		Plan:                   in.Plan,
		Status:                 StatusPendingReview,
		BillingCycle:           in.Cycle,
		CurrentPeriodStart:     in.PeriodStart,
		CurrentPeriodEnd:       in.PeriodEnd,
		CreditsPerMonth:        in.CreditsPerMonth,
		RequiresManualReview:   true,
	}
	if existing != nil {
		sub.ID = existing.ID
		// an already running subscription keeps its status, renewals stay blocked by the flag
		if existing.Status != StatusPendingReview {
			sub.Status = existing.Status
		}
	}

	if err := s.repo.Upsert(ctx, sub); err != nil {
		return nil, err
	}

	log.Warn().
		Str("user_id", sub.UserID).
		Str("provider_subscription_id", sub.ProviderSubscriptionID).
		Msg("subscription flagged for manual review")
	return sub, nil
}

// logSuperseded reports the user's live subscription that Upsert is about to cancel.
// Later events for it find a canceled row.
func (s *Service) logSuperseded(ctx context.Context, in ActivateInput) error {
	current, err := s.repo.GetByUserID(ctx, in.UserID)
	if err != nil {
		return err
	}
	if current != nil && current.ProviderSubscriptionID != in.ProviderSubscriptionID {
		log.Info().
			Str("user_id", in.UserID).
			Str("previous_subscription_id", current.ProviderSubscriptionID).
			Str("provider_subscription_id", in.ProviderSubscriptionID).
			Msg("subscription superseded")
	}
	return nil
}

// Cancel moves a subscription to its terminal state. Canceling twice is a no-op.
func (s *Service) Cancel(ctx context.Context, providerSubscriptionID string) (*Subscription, bool, error) {
	sub, err := s.mustGet(ctx, providerSubscriptionID)
	if err != nil {
		return nil, false, err
	}
	if sub.IsCanceled() {
		return sub, false, nil
	}

	sub.Status = StatusCanceled
	sub.CanceledAt = sql.NullTime{Time: s.now(), Valid: true}
	if err := s.repo.Update(ctx, sub); err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

// MarkPastDue records a failed payment. Only active subscriptions change; canceled stays canceled.
func (s *Service) MarkPastDue(ctx context.Context, providerSubscriptionID string) (*Subscription, bool, error) {
	sub, err := s.mustGet(ctx, providerSubscriptionID)
	if err != nil {
		return nil, false, err
	}
	if sub.Status == StatusPastDue || !sub.Status.CanTransitionTo(StatusPastDue) {
		return sub, false, nil
	}

	sub.Status = StatusPastDue
	if err := s.repo.Update(ctx, sub); err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

// Renew rolls the billing period forward and resets monthly usage.
// Callers grant credits before calling Renew so a retried delivery never rolls twice.
func (s *Service) Renew(ctx context.Context, providerSubscriptionID string) (*Subscription, error) {
	sub, err := s.mustGet(ctx, providerSubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.IsCanceled() {
		return sub, ErrInvalidTransition
	}
	if sub.RenewalBlocked() {
		return sub, ErrManualReviewRequired
	}
	if !sub.Status.CanTransitionTo(StatusActive) {
		return sub, ErrInvalidTransition
	}

	now := s.now()
	start := sub.CurrentPeriodEnd
	if start.IsZero() || start.Before(now.Add(-31*24*time.Hour)) {
		start = now
	}

	sub.Status = StatusActive
	sub.CurrentPeriodStart = start
	sub.CurrentPeriodEnd = PeriodEnd(start, sub.BillingCycle)
	sub.CreditsUsedThisMonth = 0
	sub.CreditsResetAt = sql.NullTime{Time: now, Valid: true}

	if err := s.repo.Update(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) mustGet(ctx context.Context, providerSubscriptionID string) (*Subscription, error) {
	sub, err := s.repo.GetByProviderID(ctx, providerSubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}
