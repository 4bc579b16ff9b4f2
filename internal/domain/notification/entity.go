package notification

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Type represents notification type
type Type string

const (
	TypeCreditsAdded         Type = "credits_added"          // credits landed on the account
	TypeSubscriptionCanceled Type = "subscription_canceled"  // provider canceled or suspended the subscription
	TypePaymentFailed        Type = "payment_failed"         // recurring payment denied
	TypeSubscriptionReview   Type = "subscription_in_review" // activation held for manual review
)

// Notification represents a user notification
type Notification struct {
	ID        uuid.UUID      `db:"id" json:"id"`
	UserID    string         `db:"user_id" json:"user_id"`
	Type      Type           `db:"type" json:"type"`
	Title     string         `db:"title" json:"title"`
	Message   string         `db:"message" json:"message"`
	ActionURL sql.NullString `db:"action_url" json:"-"`
	IsRead    bool           `db:"is_read" json:"is_read"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// Event is the realtime payload published after a notification is stored.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	ActionURL string    `json:"action_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (n *Notification) event() *Event {
	return &Event{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		ActionURL: n.ActionURL.String,
		CreatedAt: n.CreatedAt,
	}
}
