package subscription

import (
	"context"
	"errors"
	"testing"
	"time"
)

type repoStub struct {
	byProvider map[string]*Subscription
	upserts    int
	updates    int
}

func newRepoStub(subs ...*Subscription) *repoStub {
	r := &repoStub{byProvider: map[string]*Subscription{}}
	for _, s := range subs {
		r.byProvider[s.ProviderSubscriptionID] = s
	}
	return r
}

func (r *repoStub) GetByProviderID(_ context.Context, id string) (*Subscription, error) {
	if s, ok := r.byProvider[id]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, nil
}

func (r *repoStub) GetByUserID(_ context.Context, userID string) (*Subscription, error) {
	for _, s := range r.byProvider {
		if s.UserID == userID && !s.IsCanceled() {
			copied := *s
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *repoStub) Upsert(_ context.Context, sub *Subscription) error {
	if existing, ok := r.byProvider[sub.ProviderSubscriptionID]; ok && existing.UserID != sub.UserID {
		return ErrOwnerMismatch
	}
	r.upserts++
	for id, s := range r.byProvider {
		if id != sub.ProviderSubscriptionID && s.UserID == sub.UserID && !s.IsCanceled() {
			s.Status = StatusCanceled
		}
	}
	copied := *sub
	r.byProvider[sub.ProviderSubscriptionID] = &copied
	return nil
}

func (r *repoStub) Update(_ context.Context, sub *Subscription) error {
	r.updates++
	if _, ok := r.byProvider[sub.ProviderSubscriptionID]; !ok {
		return ErrSubscriptionNotFound
	}
	copied := *sub
	r.byProvider[sub.ProviderSubscriptionID] = &copied
	return nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo Repository) *Service {
	svc := NewService(repo)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPendingReview, StatusActive, true},
		{StatusPendingReview, StatusCanceled, true},
		{StatusPendingReview, StatusPastDue, false},
		{StatusActive, StatusPastDue, true},
		{StatusActive, StatusCanceled, true},
		{StatusPastDue, StatusActive, true},
		{StatusCanceled, StatusActive, false},
		{StatusCanceled, StatusPastDue, false},
		{StatusCanceled, StatusCanceled, true},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.ok {
			t.Fatalf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.ok, got)
		}
	}
}

func TestActivateComputesPeriodEnd(t *testing.T) {
	repo := newRepoStub()
	svc := newTestService(repo)

	sub, err := svc.Activate(context.Background(), ActivateInput{
		UserID:                 "user-1",
		ProviderSubscriptionID: "I-SUB1",
		Plan:                   "PLAN_PRO",
		CreditsPerMonth:        1000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Status != StatusActive || sub.RequiresManualReview {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
	if !sub.CurrentPeriodEnd.Equal(fixedNow.AddDate(0, 1, 0)) {
		t.Fatalf("expected monthly period end, got %s", sub.CurrentPeriodEnd)
	}
}

func TestActivateKeepsFlaggedSubscription(t *testing.T) {
	repo := newRepoStub(&Subscription{
		UserID:                 "user-1",
		ProviderSubscriptionID: "I-SUB1",
		Status:                 StatusPendingReview,
		RequiresManualReview:   true,
	})
	svc := newTestService(repo)

	sub, err := svc.Activate(context.Background(), ActivateInput{UserID: "user-1", ProviderSubscriptionID: "I-SUB1"})
	if !errors.Is(err, ErrManualReviewRequired) {
		t.Fatalf("expected ErrManualReviewRequired, got %v", err)
	}
	if !sub.RequiresManualReview || repo.upserts != 0 {
		t.Fatal("flag must be kept and nothing written")
	}
}

func TestFlagForReview(t *testing.T) {
	repo := newRepoStub()
	svc := newTestService(repo)

	sub, err := svc.FlagForReview(context.Background(), ActivateInput{
		UserID:                 "user-1",
		ProviderSubscriptionID: "I-SUB1",
		Plan:                   "PLAN_PRO",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Status != StatusPendingReview || !sub.RequiresManualReview {
		t.Fatalf("unexpected subscription: %+v", sub)
	}

	if _, err := svc.FlagForReview(context.Background(), ActivateInput{ProviderSubscriptionID: "I-SUB2"}); !errors.Is(err, ErrInvalidSubscription) {
		t.Fatalf("expected ErrInvalidSubscription without user, got %v", err)
	}
}

func TestActivateRejectsForeignProviderSubscription(t *testing.T) {
	repo := newRepoStub(&Subscription{UserID: "user-1", ProviderSubscriptionID: "I-SUB1", Status: StatusActive})
	svc := newTestService(repo)

	in := ActivateInput{UserID: "user-2", ProviderSubscriptionID: "I-SUB1", Plan: "PLAN_PRO"}
	if _, err := svc.Activate(context.Background(), in); !errors.Is(err, ErrOwnerMismatch) {
		t.Fatalf("expected ErrOwnerMismatch, got %v", err)
	}
	if _, err := svc.FlagForReview(context.Background(), in); !errors.Is(err, ErrOwnerMismatch) {
		t.Fatalf("expected ErrOwnerMismatch on flag, got %v", err)
	}
	if repo.upserts != 0 || repo.byProvider["I-SUB1"].UserID != "user-1" {
		t.Fatal("foreign subscription must stay untouched")
	}
}

func TestActivateSupersedesPreviousSubscription(t *testing.T) {
	repo := newRepoStub(&Subscription{UserID: "user-1", ProviderSubscriptionID: "I-SUB1", Status: StatusActive})
	svc := newTestService(repo)

	sub, err := svc.Activate(context.Background(), ActivateInput{
		UserID:                 "user-1",
		ProviderSubscriptionID: "I-SUB2",
		Plan:                   "PLAN_PRO",
		CreditsPerMonth:        1000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.ProviderSubscriptionID != "I-SUB2" || sub.Status != StatusActive {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
	if repo.byProvider["I-SUB1"].Status != StatusCanceled {
		t.Fatal("previous subscription must be canceled")
	}

	live, err := repo.GetByUserID(context.Background(), "user-1")
	if err != nil || live == nil || live.ProviderSubscriptionID != "I-SUB2" {
		t.Fatalf("expected I-SUB2 as the live subscription, got %+v err=%v", live, err)
	}
}

func TestCancelIsTerminalAndIdempotent(t *testing.T) {
	repo := newRepoStub(&Subscription{UserID: "user-1", ProviderSubscriptionID: "I-SUB1", Status: StatusActive})
	svc := newTestService(repo)

	sub, changed, err := svc.Cancel(context.Background(), "I-SUB1")
	if err != nil || !changed {
		t.Fatalf("expected change, got changed=%v err=%v", changed, err)
	}
	if !sub.CanceledAt.Valid || sub.Status != StatusCanceled {
		t.Fatalf("unexpected subscription: %+v", sub)
	}

	_, changed, err = svc.Cancel(context.Background(), "I-SUB1")
	if err != nil || changed {
		t.Fatalf("expected no-op, got changed=%v err=%v", changed, err)
	}

	_, changed, err = svc.MarkPastDue(context.Background(), "I-SUB1")
	if err != nil || changed {
		t.Fatalf("canceled must stay canceled, got changed=%v err=%v", changed, err)
	}
	if repo.byProvider["I-SUB1"].Status != StatusCanceled {
		t.Fatal("expected canceled status")
	}
}

func TestMarkPastDue(t *testing.T) {
	repo := newRepoStub(&Subscription{UserID: "user-1", ProviderSubscriptionID: "I-SUB1", Status: StatusActive})
	svc := newTestService(repo)

	sub, changed, err := svc.MarkPastDue(context.Background(), "I-SUB1")
	if err != nil || !changed || sub.Status != StatusPastDue {
		t.Fatalf("unexpected result: sub=%+v changed=%v err=%v", sub, changed, err)
	}

	if _, _, err := svc.MarkPastDue(context.Background(), "I-MISSING"); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestRenewRollsPeriodAndResetsUsage(t *testing.T) {
	periodEnd := fixedNow.Add(-time.Hour)
	repo := newRepoStub(&Subscription{
		UserID:                 "user-1",
		ProviderSubscriptionID: "I-SUB1",
		Status:                 StatusPastDue,
		BillingCycle:           BillingMonthly,
		CurrentPeriodEnd:       periodEnd,
		CreditsUsedThisMonth:   700,
	})
	svc := newTestService(repo)

	sub, err := svc.Renew(context.Background(), "I-SUB1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Status != StatusActive || sub.CreditsUsedThisMonth != 0 {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
	if !sub.CurrentPeriodStart.Equal(periodEnd) || !sub.CurrentPeriodEnd.Equal(periodEnd.AddDate(0, 1, 0)) {
		t.Fatalf("unexpected period: %s - %s", sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	}
	if !sub.CreditsResetAt.Valid || !sub.CreditsResetAt.Time.Equal(fixedNow) {
		t.Fatalf("expected credits reset at now, got %+v", sub.CreditsResetAt)
	}
}

func TestRenewBlocked(t *testing.T) {
	repo := newRepoStub(
		&Subscription{UserID: "user-1", ProviderSubscriptionID: "I-FLAG", Status: StatusActive, RequiresManualReview: true},
		&Subscription{UserID: "user-2", ProviderSubscriptionID: "I-CANCELED", Status: StatusCanceled},
	)
	svc := newTestService(repo)

	if _, err := svc.Renew(context.Background(), "I-FLAG"); !errors.Is(err, ErrManualReviewRequired) {
		t.Fatalf("expected ErrManualReviewRequired, got %v", err)
	}
	if _, err := svc.Renew(context.Background(), "I-CANCELED"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := svc.Renew(context.Background(), "I-MISSING"); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
	if repo.updates != 0 {
		t.Fatalf("expected no writes, got %d", repo.updates)
	}
}
