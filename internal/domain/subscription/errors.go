package subscription

import "errors"

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidTransition    = errors.New("invalid subscription status transition")
	ErrManualReviewRequired = errors.New("subscription requires manual review")
	ErrInvalidSubscription  = errors.New("invalid subscription")
	ErrOwnerMismatch        = errors.New("provider subscription belongs to another user")
	ErrInternal             = errors.New("internal error")
)
