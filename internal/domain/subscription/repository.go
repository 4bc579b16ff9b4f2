package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

// Repository defines subscription data access
type Repository interface {
	GetByProviderID(ctx context.Context, providerSubscriptionID string) (*Subscription, error)
	GetByUserID(ctx context.Context, userID string) (*Subscription, error)
	Upsert(ctx context.Context, sub *Subscription) error
	Update(ctx context.Context, sub *Subscription) error
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates subscription repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const selectColumns = `
	SELECT id, user_id, provider_subscription_id, plan, status, billing_cycle,
		current_period_start, current_period_end, credits_per_month, credits_used_this_month,
		credits_reset_at, requires_manual_review, canceled_at, created_at, updated_at
	FROM subscriptions`

func (r *repository) GetByProviderID(ctx context.Context, providerSubscriptionID string) (*Subscription, error) {
	return r.getOne(ctx, selectColumns+` WHERE provider_subscription_id = $1`, providerSubscriptionID)
}

// GetByUserID returns the user's live (not canceled) subscription.
func (r *repository) GetByUserID(ctx context.Context, userID string) (*Subscription, error) {
	return r.getOne(ctx, selectColumns+` WHERE user_id = $1 AND status <> 'canceled'`, userID)
}

func (r *repository) getOne(ctx context.Context, query string, arg string) (*Subscription, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var sub Subscription
	if err := r.db.GetContext(ctx2, &sub, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get subscription", ErrInternal)
	}
	return &sub, nil
}

// Upsert writes the subscription keyed by provider subscription id. A user holds at most one
// live subscription, so any other live row of the same user is canceled in the same transaction.
func (r *repository) Upsert(ctx context.Context, sub *Subscription) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx2, `
		UPDATE subscriptions
		SET status = 'canceled', canceled_at = NOW(), updated_at = NOW()
		WHERE user_id = $1 AND provider_subscription_id <> $2 AND status <> 'canceled'
	`, sub.UserID, sub.ProviderSubscriptionID)
	if err != nil {
		return fmt.Errorf("%w: supersede subscription", ErrInternal)
	}

	query := `
		INSERT INTO subscriptions (
			id, user_id, provider_subscription_id, plan, status, billing_cycle,
			current_period_start, current_period_end, credits_per_month, credits_used_this_month,
			credits_reset_at, requires_manual_review, canceled_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (provider_subscription_id) DO UPDATE SET
			plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			billing_cycle = EXCLUDED.billing_cycle,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			credits_per_month = EXCLUDED.credits_per_month,
			credits_used_this_month = EXCLUDED.credits_used_this_month,
			credits_reset_at = EXCLUDED.credits_reset_at,
			requires_manual_review = EXCLUDED.requires_manual_review,
			canceled_at = EXCLUDED.canceled_at,
			updated_at = NOW()
		WHERE subscriptions.user_id = EXCLUDED.user_id
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRowxContext(ctx2, query,
		sub.ID,
		sub.UserID,
		sub.ProviderSubscriptionID,
		sub.Plan,
		sub.Status,
		sub.BillingCycle,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.CreditsPerMonth,
		sub.CreditsUsedThisMonth,
		sub.CreditsResetAt,
		sub.RequiresManualReview,
		sub.CanceledAt,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOwnerMismatch
	}
	if err != nil {
		return fmt.Errorf("%w: upsert subscription", ErrInternal)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return nil
}

func (r *repository) Update(ctx context.Context, sub *Subscription) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		UPDATE subscriptions
		SET status = $2, current_period_start = $3, current_period_end = $4,
			credits_used_this_month = $5, credits_reset_at = $6,
			requires_manual_review = $7, canceled_at = $8, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx2, query,
		sub.ID,
		sub.Status,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.CreditsUsedThisMonth,
		sub.CreditsResetAt,
		sub.RequiresManualReview,
		sub.CanceledAt,
	)
	if err != nil {
		return fmt.Errorf("%w: update subscription", ErrInternal)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected", ErrInternal)
	}
	if rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}
