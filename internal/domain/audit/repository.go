package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

var ErrInternal = errors.New("internal error")

// Repository is append-only access to policy audit rows.
// Create is idempotent per provider event and reason so redelivery never duplicates a row.
type Repository interface {
	Create(ctx context.Context, log *PolicyAuditLog) error
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates audit repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, log *PolicyAuditLog) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO policy_audit_logs (
			id, event_type, provider_event_id, provider_reference_id, user_id,
			metadata_snapshot, violation_reason, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (provider_event_id, violation_reason) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx2, query,
		log.ID,
		log.EventType,
		log.ProviderEventID,
		log.ProviderReferenceID,
		log.UserID,
		log.MetadataSnapshot,
		log.ViolationReason,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert policy audit log", ErrInternal)
	}
	return nil
}
