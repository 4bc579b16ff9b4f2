package notification

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Service handles notification logic
type Service struct {
	repo     Repository
	realtime RealtimePublisher
}

// NewService creates notification service. realtime may be nil.
func NewService(repo Repository, realtime RealtimePublisher) *Service {
	return &Service{repo: repo, realtime: realtime}
}

// Create stores a notification and publishes it. Publish failures are logged only.
func (s *Service) Create(ctx context.Context, userID string, notifType Type, title, message, actionURL string) (*Notification, error) {
	n := &Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      notifType,
		Title:     title,
		Message:   message,
		IsRead:    false,
		CreatedAt: time.Now(),
	}
	if actionURL != "" {
		n.ActionURL = sql.NullString{String: actionURL, Valid: true}
	}

	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}

	if s.realtime != nil {
		if err := s.realtime.Publish(ctx, userID, n.event()); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("failed to publish notification")
		}
	}

	return n, nil
}

// --- Helper methods for creating specific notifications ---

// NotifyCreditsAdded tells the user a grant landed
func (s *Service) NotifyCreditsAdded(ctx context.Context, userID string, credits int64, balance int64) error {
	_, err := s.Create(ctx, userID, TypeCreditsAdded,
		"Credits added",
		fmt.Sprintf("%d credits were added to your account. New balance: %d.", credits, balance),
		"/credits",
	)
	return err
}

// NotifySubscriptionCanceled tells the user the subscription ended
func (s *Service) NotifySubscriptionCanceled(ctx context.Context, userID string, plan string) error {
	_, err := s.Create(ctx, userID, TypeSubscriptionCanceled,
		"Subscription canceled",
		fmt.Sprintf("Your %s subscription has been canceled.", plan),
		"/subscription",
	)
	return err
}

// NotifyPaymentFailed asks the user to update the payment method
func (s *Service) NotifyPaymentFailed(ctx context.Context, userID string, plan string) error {
	_, err := s.Create(ctx, userID, TypePaymentFailed,
		"Payment failed",
		fmt.Sprintf("We could not charge your %s subscription. Please update your payment method.", plan),
		"/subscription",
	)
	return err
}

// NotifySubscriptionInReview tells the user the activation is waiting for support
func (s *Service) NotifySubscriptionInReview(ctx context.Context, userID string) error {
	_, err := s.Create(ctx, userID, TypeSubscriptionReview,
		"Subscription under review",
		"Your subscription is being reviewed by our team. Credits will be available once it is approved.",
		"",
	)
	return err
}
