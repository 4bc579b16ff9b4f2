package credit

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
)

// Repository is the storage contract of the ledger.
type Repository interface {
	Grant(ctx context.Context, req GrantRequest) (GrantResult, error)
	GetAccount(ctx context.Context, userID string) (*Account, error)
}

// Notifier is told about committed grants.
type Notifier interface {
	NotifyCreditsAdded(ctx context.Context, userID string, credits int64, balance int64) error
}

// Service is the credit ledger entry point.
type Service struct {
	repo     Repository
	notifier Notifier
}

// NewService creates a ledger service. notifier may be nil.
func NewService(repo Repository, notifier Notifier) *Service {
	return &Service{repo: repo, notifier: notifier}
}

// Grant credits a user exactly once per idempotency key.
// The notification is sent after commit and its failure never undoes the grant.
func (s *Service) Grant(ctx context.Context, req GrantRequest) (GrantResult, error) {
	if req.Credits < 0 || req.Bonus < 0 || req.Total() <= 0 {
		return GrantResult{}, ErrInvalidAmount
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.IdempotencyKey) == "" || !req.Type.valid() {
		return GrantResult{}, ErrInvalidGrant
	}

	result, err := s.repo.Grant(ctx, req)
	if err != nil {
		return GrantResult{}, err
	}

	if result.Duplicate {
		log.Info().
			Str("user_id", req.UserID).
			Str("idempotency_key", req.IdempotencyKey).
			Msg("credit grant already applied")
		return result, nil
	}

	log.Info().
		Str("user_id", req.UserID).
		Str("type", string(req.Type)).
		Int64("credits", req.Credits).
		Int64("bonus", req.Bonus).
		Int64("balance", result.Balance).
		Str("reference_id", req.SourceReferenceID).
		Msg("credits granted")

	if s.notifier != nil {
		if err := s.notifier.NotifyCreditsAdded(ctx, req.UserID, req.Total(), result.Available()); err != nil {
			log.Warn().Err(err).Str("user_id", req.UserID).Msg("credits added notification failed")
		}
	}

	return result, nil
}

// GetAccount returns current balances for a user.
func (s *Service) GetAccount(ctx context.Context, userID string) (*Account, error) {
	return s.repo.GetAccount(ctx, userID)
}
