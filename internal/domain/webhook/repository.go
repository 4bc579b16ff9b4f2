package webhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

// EventStatus of a stored delivery
type EventStatus string

const (
	EventStatusProcessing EventStatus = "processing"
	EventStatusProcessed  EventStatus = "processed"
	EventStatusFailed     EventStatus = "failed"
)

// StoredEvent is a row of webhook_events.
type StoredEvent struct {
	EventID     string         `db:"event_id"`
	EventType   string         `db:"event_type"`
	ResourceID  string         `db:"resource_id"`
	Status      EventStatus    `db:"status"`
	Outcome     sql.NullString `db:"outcome"`
	Attempts    int            `db:"attempts"`
	LastError   sql.NullString `db:"last_error"`
	ReceivedAt  time.Time      `db:"received_at"`
	ClaimedAt   time.Time      `db:"claimed_at"`
	ProcessedAt sql.NullTime   `db:"processed_at"`
}

// ClaimResult reports whether a delivery may be applied.
type ClaimResult int

const (
	ClaimAcquired ClaimResult = iota

	// ClaimProcessed means the event was already applied and is acknowledged as a duplicate.
	ClaimProcessed

	// ClaimInFlight means another delivery holds a fresh claim.
	ClaimInFlight
)

// EventStore tracks provider event ids so a processed delivery is never applied again.
type EventStore interface {
	// Claim marks the event as processing. A failed event is claimed again; a processing
	// event only once its claim is older than staleAfter.
	Claim(ctx context.Context, meta EventMeta, staleAfter time.Duration) (ClaimResult, error)
	MarkProcessed(ctx context.Context, eventID string, outcome Outcome) error
	MarkFailed(ctx context.Context, eventID string, reason string) error
}

// EventRepository is the Postgres EventStore.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository creates the Postgres event store
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Claim(ctx context.Context, meta EventMeta, staleAfter time.Duration) (ClaimResult, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO webhook_events (event_id, event_type, resource_id, status, attempts, received_at, claimed_at)
		VALUES ($1, $2, $3, 'processing', 1, NOW(), NOW())
		ON CONFLICT (event_id) DO UPDATE
		SET status = 'processing',
			attempts = webhook_events.attempts + 1,
			claimed_at = NOW()
		WHERE webhook_events.status = 'failed'
			OR (webhook_events.status = 'processing'
				AND webhook_events.claimed_at < NOW() - make_interval(secs => $4))
		RETURNING status
	`
	var status string
	err := r.db.QueryRowxContext(ctx2, query, meta.ID, meta.Type, meta.ResourceID, staleAfter.Seconds()).Scan(&status)
	if err == nil {
		return ClaimAcquired, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ClaimInFlight, fmt.Errorf("claim webhook event: %w", err)
	}

	stored, err := r.Get(ctx, meta.ID)
	if err != nil {
		return ClaimInFlight, err
	}
	if stored != nil && stored.Status == EventStatusProcessed {
		return ClaimProcessed, nil
	}
	return ClaimInFlight, nil
}

func (r *EventRepository) MarkProcessed(ctx context.Context, eventID string, outcome Outcome) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		UPDATE webhook_events
		SET status = 'processed', outcome = $2, last_error = NULL, processed_at = NOW()
		WHERE event_id = $1
	`
	if _, err := r.db.ExecContext(ctx2, query, eventID, string(outcome)); err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	return nil
}

func (r *EventRepository) MarkFailed(ctx context.Context, eventID string, reason string) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if len(reason) > 1000 {
		reason = reason[:1000]
	}

	query := `
		UPDATE webhook_events
		SET status = 'failed', last_error = $2
		WHERE event_id = $1 AND status <> 'processed'
	`
	if _, err := r.db.ExecContext(ctx2, query, eventID, reason); err != nil {
		return fmt.Errorf("mark webhook event failed: %w", err)
	}
	return nil
}

// Get returns a stored event or nil.
func (r *EventRepository) Get(ctx context.Context, eventID string) (*StoredEvent, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var ev StoredEvent
	query := `
		SELECT event_id, event_type, resource_id, status, outcome, attempts, last_error, received_at, claimed_at, processed_at
		FROM webhook_events
		WHERE event_id = $1
	`
	err := r.db.GetContext(ctx2, &ev, query, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook event: %w", err)
	}
	return &ev, nil
}
