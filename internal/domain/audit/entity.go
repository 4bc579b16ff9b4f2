package audit

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType of a policy audit row
type EventType string

const (
	EventTypeViolation EventType = "violation"
)

// PolicyAuditLog records a blocked payment event. Rows are never mutated.
type PolicyAuditLog struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	EventType           EventType       `db:"event_type" json:"event_type"`
	ProviderEventID     string          `db:"provider_event_id" json:"provider_event_id"`
	ProviderReferenceID string          `db:"provider_reference_id" json:"provider_reference_id"`
	UserID              sql.NullString  `db:"user_id" json:"user_id,omitempty"`
	MetadataSnapshot    json.RawMessage `db:"metadata_snapshot" json:"metadata_snapshot"`
	ViolationReason     string          `db:"violation_reason" json:"violation_reason"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
}

// Snapshot is the JSON stored in metadata_snapshot.
type Snapshot struct {
	EventType string            `json:"event_type"`
	Raw       string            `json:"raw"`
	Format    string            `json:"format"`
	IsLegacy  bool              `json:"is_legacy"`
	Parsed    map[string]string `json:"parsed"`
	Invalid   map[string]string `json:"invalid_fields,omitempty"`
}
