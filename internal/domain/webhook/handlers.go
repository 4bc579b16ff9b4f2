package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwork/ledger-api/internal/domain/credit"
	"github.com/mwork/ledger-api/internal/domain/subscription"
	"github.com/mwork/ledger-api/internal/pkg/logger"
)

// Ledger idempotency keys are per provider resource, so the order approval and
// its capture share one key and grant once.
func purchaseKey(e *PaymentCompleted) string {
	if e.OrderID != "" {
		return "purchase:" + e.OrderID
	}
	return "purchase:capture:" + e.CaptureID
}

func activationKey(subscriptionID string) string { return "activation:" + subscriptionID }

func renewalKey(saleID string) string { return "renewal:" + saleID }

func (s *Service) handlePaymentCompleted(ctx context.Context, e *PaymentCompleted) error {
	md := ParseMetadata(e.CustomID)
	ref := PolicyRef{EventID: e.ID, EventType: e.Type, ReferenceID: e.ReferenceID()}

	if err := s.gate.Check(ctx, ref, md); err != nil {
		return err
	}

	pkg, ok := credit.LookupPackage(md.ProductID())
	if !ok {
		logger.LogWarn(ctx, "unknown credit package", "product_id", md.ProductID(), "reference_id", ref.ReferenceID)
		return fmt.Errorf("%w: %s", ErrUnknownProduct, md.ProductID())
	}

	return s.grant(ctx, credit.GrantRequest{
		UserID:            md.UserID(),
		Credits:           pkg.Credits,
		Bonus:             pkg.Bonus,
		Type:              credit.TxTypePurchase,
		SourceAction:      "credit_purchase",
		SourceReferenceID: ref.ReferenceID,
		IdempotencyKey:    purchaseKey(e),
		Description:       fmt.Sprintf("Purchase of %s", pkg.ID),
	})
}

func (s *Service) handleSubscriptionActivated(ctx context.Context, e *SubscriptionActivated) error {
	md := ParseMetadata(e.CustomID)
	ref := PolicyRef{EventID: e.ID, EventType: e.Type, ReferenceID: e.SubscriptionID}

	existing, err := s.subscriptions.GetByProviderID(ctx, e.SubscriptionID)
	if err != nil {
		return storeErr("load subscription", err)
	}
	if existing != nil {
		if existing.RequiresManualReview {
			return s.gate.BlockManualReview(ctx, ref, md)
		}
		if existing.IsCanceled() {
			logger.LogWarn(ctx, "activation for canceled subscription", "subscription_id", e.SubscriptionID)
			return fmt.Errorf("%w: subscription %s is canceled", ErrEventIgnored, e.SubscriptionID)
		}
	}

	if err := s.gate.Check(ctx, ref, md); err != nil {
		var violation *ViolationError
		if !errors.As(err, &violation) {
			return err
		}
		if flagErr := s.flagActivation(ctx, e, md); flagErr != nil {
			return flagErr
		}
		return err
	}

	plan, ok := credit.LookupPlan(md.ProductID())
	if !ok {
		logger.LogWarn(ctx, "unknown subscription plan", "plan_id", md.ProductID(), "subscription_id", e.SubscriptionID)
		return fmt.Errorf("%w: %s", ErrUnknownPlan, md.ProductID())
	}

	sub, err := s.subscriptions.Activate(ctx, s.activateInput(e, md.UserID(), plan))
	switch {
	case errors.Is(err, subscription.ErrManualReviewRequired):
		return s.gate.BlockManualReview(ctx, ref, md)
	case errors.Is(err, subscription.ErrInvalidTransition):
		return fmt.Errorf("%w: subscription %s is canceled", ErrEventIgnored, e.SubscriptionID)
	case errors.Is(err, subscription.ErrOwnerMismatch):
		logger.LogWarn(ctx, "activation for another user's subscription", "subscription_id", e.SubscriptionID, "user_id", md.UserID())
		return fmt.Errorf("%w: subscription %s belongs to another user", ErrEventIgnored, e.SubscriptionID)
	case err != nil:
		return storeErr("activate subscription", err)
	}

	return s.grant(ctx, credit.GrantRequest{
		UserID:            sub.UserID,
		Credits:           plan.CreditsPerMonth,
		Type:              credit.TxTypeSubscriptionActivation,
		SourceAction:      "subscription_activation",
		SourceReferenceID: e.SubscriptionID,
		IdempotencyKey:    activationKey(e.SubscriptionID),
		Description:       fmt.Sprintf("Subscription %s activated", plan.ID),
	})
}

// flagActivation stores a pending_review subscription for a blocked activation.
// Without a salvageable user id only the audit row exists.
func (s *Service) flagActivation(ctx context.Context, e *SubscriptionActivated, md Metadata) error {
	userID := md.UserID()
	if userID == "" {
		logger.LogWarn(ctx, "blocked activation has no user id, audit only", "subscription_id", e.SubscriptionID)
		return nil
	}

	in := subscription.ActivateInput{
		UserID:                 userID,
		ProviderSubscriptionID: e.SubscriptionID,
		Plan:                   md.ProductID(),
		PeriodStart:            firstNonZero(e.StartTime, e.CreatedAt),
		PeriodEnd:              e.NextBillingTime,
	}
	if plan, ok := credit.LookupPlan(md.ProductID()); ok {
		in = s.activateInput(e, userID, plan)
	}

	_, err := s.subscriptions.FlagForReview(ctx, in)
	switch {
	case errors.Is(err, subscription.ErrOwnerMismatch):
		logger.LogWarn(ctx, "blocked activation for another user's subscription, audit only", "subscription_id", e.SubscriptionID)
		return nil
	case err != nil && !errors.Is(err, subscription.ErrInvalidTransition):
		return storeErr("flag subscription for review", err)
	}

	if s.notifier != nil {
		if nerr := s.notifier.NotifySubscriptionInReview(ctx, userID); nerr != nil {
			logger.LogWarn(ctx, "in-review notification failed", "error", nerr.Error())
		}
	}
	return nil
}

func (s *Service) activateInput(e *SubscriptionActivated, userID string, plan credit.Plan) subscription.ActivateInput {
	return subscription.ActivateInput{
		UserID:                 userID,
		ProviderSubscriptionID: e.SubscriptionID,
		Plan:                   plan.ID,
		Cycle:                  subscription.BillingCycle(plan.Cycle),
		CreditsPerMonth:        plan.CreditsPerMonth,
		PeriodStart:            firstNonZero(e.StartTime, e.CreatedAt),
		PeriodEnd:              e.NextBillingTime,
	}
}

func (s *Service) handleSubscriptionCancelled(ctx context.Context, e *SubscriptionCancelled) error {
	sub, changed, err := s.subscriptions.Cancel(ctx, e.SubscriptionID)
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		logger.LogWarn(ctx, "cancel for unknown subscription", "subscription_id", e.SubscriptionID)
		return fmt.Errorf("%w: unknown subscription %s", ErrEventIgnored, e.SubscriptionID)
	}
	if err != nil {
		return storeErr("cancel subscription", err)
	}
	if !changed {
		return fmt.Errorf("%w: subscription %s already canceled", ErrAlreadyProcessed, e.SubscriptionID)
	}

	logger.LogInfo(ctx, "subscription canceled",
		"subscription_id", e.SubscriptionID,
		"user_id", sub.UserID,
		"suspended", e.Suspended,
	)

	if s.notifier != nil {
		if nerr := s.notifier.NotifySubscriptionCanceled(ctx, sub.UserID, sub.Plan); nerr != nil {
			logger.LogWarn(ctx, "cancel notification failed", "error", nerr.Error())
		}
	}
	return nil
}

func (s *Service) handleSubscriptionRenewed(ctx context.Context, e *SubscriptionRenewed) error {
	sub, err := s.subscriptions.GetByProviderID(ctx, e.SubscriptionID)
	if err != nil {
		return storeErr("load subscription", err)
	}
	if sub == nil {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, e.SubscriptionID)
	}
	if sub.IsCanceled() {
		logger.LogWarn(ctx, "renewal for canceled subscription", "subscription_id", e.SubscriptionID)
		return fmt.Errorf("%w: subscription %s is canceled", ErrEventIgnored, e.SubscriptionID)
	}

	ref := PolicyRef{EventID: e.ID, EventType: e.Type, ReferenceID: e.SubscriptionID}
	if sub.RenewalBlocked() {
		return s.gate.BlockManualReview(ctx, ref, storedMetadata(sub.UserID, sub.Plan))
	}

	credits := sub.CreditsPerMonth
	if credits <= 0 {
		plan, ok := credit.LookupPlan(sub.Plan)
		if !ok {
			logger.LogWarn(ctx, "renewal for unknown plan", "plan", sub.Plan, "subscription_id", e.SubscriptionID)
			return fmt.Errorf("%w: %s", ErrUnknownPlan, sub.Plan)
		}
		credits = plan.CreditsPerMonth
	}

	// grant first: a duplicate grant means this sale already rolled the period
	err = s.grant(ctx, credit.GrantRequest{
		UserID:            sub.UserID,
		Credits:           credits,
		Type:              credit.TxTypeSubscriptionRenewal,
		SourceAction:      "subscription_renewal",
		SourceReferenceID: e.SubscriptionID,
		IdempotencyKey:    renewalKey(e.SaleID),
		Description:       fmt.Sprintf("Subscription %s renewed", sub.Plan),
	})
	if err != nil {
		return err
	}

	if _, err := s.subscriptions.Renew(ctx, e.SubscriptionID); err != nil {
		return storeErr("renew subscription", err)
	}
	return nil
}

func (s *Service) handlePaymentFailed(ctx context.Context, e *PaymentFailed) error {
	sub, changed, err := s.subscriptions.MarkPastDue(ctx, e.SubscriptionID)
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		logger.LogWarn(ctx, "payment failure for unknown subscription", "subscription_id", e.SubscriptionID)
		return fmt.Errorf("%w: unknown subscription %s", ErrEventIgnored, e.SubscriptionID)
	}
	if err != nil {
		return storeErr("mark subscription past due", err)
	}
	if !changed {
		if sub.Status == subscription.StatusPastDue {
			return fmt.Errorf("%w: subscription %s already past due", ErrAlreadyProcessed, e.SubscriptionID)
		}
		return fmt.Errorf("%w: subscription %s is %s", ErrEventIgnored, e.SubscriptionID, sub.Status)
	}

	logger.LogInfo(ctx, "subscription past due", "subscription_id", e.SubscriptionID, "user_id", sub.UserID)

	if s.notifier != nil {
		if nerr := s.notifier.NotifyPaymentFailed(ctx, sub.UserID, sub.Plan); nerr != nil {
			logger.LogWarn(ctx, "payment failed notification failed", "error", nerr.Error())
		}
	}
	return nil
}

// grant applies a ledger grant; a repeated idempotency key reports ErrAlreadyProcessed.
func (s *Service) grant(ctx context.Context, req credit.GrantRequest) error {
	req.SourceApp = s.sourceApp

	result, err := s.credits.Grant(ctx, req)
	if err != nil {
		return storeErr("grant credits", err)
	}
	if result.Duplicate {
		return fmt.Errorf("%w: %s", ErrAlreadyProcessed, req.IdempotencyKey)
	}

	s.metrics.RecordCreditsGranted(string(req.Type), req.Total())
	return nil
}
