package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const queryTimeout = 3 * time.Second

// CreditRepository persists accounts and ledger rows.
type CreditRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

// Grant applies a grant in a single transaction holding the account row lock.
// A known idempotency key returns current balances with Duplicate set and writes nothing.
func (r *CreditRepository) Grant(ctx context.Context, req GrantRequest) (GrantResult, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return GrantResult{}, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	account, err := r.lockAccount(ctx2, tx, req.UserID)
	if err != nil {
		return GrantResult{}, err
	}

	exists, err := r.hasIdempotencyKey(ctx2, tx, req.IdempotencyKey)
	if err != nil {
		return GrantResult{}, err
	}
	if exists {
		if err := tx.Commit(); err != nil {
			return GrantResult{}, fmt.Errorf("%w: commit tx", ErrInternal)
		}
		return GrantResult{Balance: account.Balance, BonusBalance: account.BonusBalance, Duplicate: true}, nil
	}

	account.Balance += req.Credits
	account.BonusBalance += req.Bonus
	account.LifetimeEarned += req.Total()

	if err := r.updateAccount(ctx2, tx, account); err != nil {
		return GrantResult{}, err
	}

	if err := r.insertTransaction(ctx2, tx, req, account.Balance+account.BonusBalance); err != nil {
		if errors.Is(err, ErrDuplicateGrant) {
			// the aborted tx cannot be reused
			_ = tx.Rollback()
			current, getErr := r.GetAccount(ctx, req.UserID)
			if getErr != nil {
				return GrantResult{}, getErr
			}
			return GrantResult{Balance: current.Balance, BonusBalance: current.BonusBalance, Duplicate: true}, nil
		}
		return GrantResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return GrantResult{}, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return GrantResult{Balance: account.Balance, BonusBalance: account.BonusBalance}, nil
}

// GetAccount returns the account or a zero-balance account when none exists yet.
func (r *CreditRepository) GetAccount(ctx context.Context, userID string) (*Account, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var account Account
	err := r.db.GetContext(ctx2, &account, `
		SELECT user_id, balance, bonus_balance, lifetime_earned, created_at, updated_at
		FROM credit_accounts
		WHERE user_id = $1
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &Account{UserID: userID}, nil
		}
		return nil, fmt.Errorf("%w: get account", ErrInternal)
	}

	return &account, nil
}

func (r *CreditRepository) lockAccount(ctx context.Context, tx *sqlx.Tx, userID string) (*Account, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_accounts (user_id, balance, bonus_balance, lifetime_earned)
		VALUES ($1, 0, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return nil, fmt.Errorf("%w: ensure account", ErrInternal)
	}

	var account Account
	err := tx.GetContext(ctx, &account, `
		SELECT user_id, balance, bonus_balance, lifetime_earned, created_at, updated_at
		FROM credit_accounts
		WHERE user_id = $1
		FOR UPDATE
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: lock account", ErrInternal)
	}

	return &account, nil
}

func (r *CreditRepository) hasIdempotencyKey(ctx context.Context, tx *sqlx.Tx, key string) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM credit_transactions WHERE idempotency_key = $1)
	`, key)
	if err != nil {
		return false, fmt.Errorf("%w: check idempotency key", ErrInternal)
	}
	return exists, nil
}

func (r *CreditRepository) updateAccount(ctx context.Context, tx *sqlx.Tx, account *Account) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE credit_accounts
		SET balance = $2, bonus_balance = $3, lifetime_earned = $4, updated_at = NOW()
		WHERE user_id = $1
	`, account.UserID, account.Balance, account.BonusBalance, account.LifetimeEarned)
	if err != nil {
		return fmt.Errorf("%w: update account", ErrInternal)
	}
	return nil
}

func (r *CreditRepository) insertTransaction(ctx context.Context, tx *sqlx.Tx, req GrantRequest, balanceAfter int64) error {
	if strings.TrimSpace(req.Description) == "" {
		req.Description = "credit grant"
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (
			id, user_id, amount, credits, bonus, balance_after, type,
			source_app, source_action, source_reference_id, idempotency_key, description
		)
		VALUES (
			gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`, req.UserID, req.Total(), req.Credits, req.Bonus, balanceAfter, string(req.Type),
		req.SourceApp, req.SourceAction, req.SourceReferenceID, req.IdempotencyKey, req.Description)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateGrant
		}
		return fmt.Errorf("%w: insert transaction", ErrInternal)
	}

	return nil
}
