package webhook

import (
	"context"
	"fmt"
)

// dispatch routes a decoded event to its handler and folds the result into an outcome.
func (s *Service) dispatch(ctx context.Context, ev Event) (Outcome, error) {
	var err error

	switch e := ev.(type) {
	case *PaymentCompleted:
		err = s.handlePaymentCompleted(ctx, e)
	case *SubscriptionActivated:
		err = s.handleSubscriptionActivated(ctx, e)
	case *SubscriptionCancelled:
		err = s.handleSubscriptionCancelled(ctx, e)
	case *SubscriptionRenewed:
		err = s.handleSubscriptionRenewed(ctx, e)
	case *PaymentFailed:
		err = s.handlePaymentFailed(ctx, e)
	case *Unknown:
		err = fmt.Errorf("%w: unhandled event type %s", ErrEventIgnored, e.Type)
	default:
		err = fmt.Errorf("%w: unexpected event %T", ErrEventIgnored, ev)
	}

	return outcomeFor(err)
}
