package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/mwork/ledger-api/internal/domain/audit"
	"github.com/mwork/ledger-api/internal/domain/credit"
	"github.com/mwork/ledger-api/internal/domain/subscription"
)

type verifierStub struct {
	mu    sync.Mutex
	ok    bool
	err   error
	calls int
}

func (v *verifierStub) Verify(context.Context, http.Header, []byte) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	return v.ok, v.err
}

type memoryEvents struct {
	mu        sync.Mutex
	status    map[string]EventStatus
	outcomes  map[string]Outcome
	claimedAt map[string]time.Time
	claimErr  error
	markErr   error
}

func newMemoryEvents() *memoryEvents {
	return &memoryEvents{
		status:    map[string]EventStatus{},
		outcomes:  map[string]Outcome{},
		claimedAt: map[string]time.Time{},
	}
}

func (m *memoryEvents) Claim(_ context.Context, meta EventMeta, staleAfter time.Duration) (ClaimResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return ClaimInFlight, m.claimErr
	}
	switch m.status[meta.ID] {
	case EventStatusProcessed:
		return ClaimProcessed, nil
	case EventStatusProcessing:
		if time.Since(m.claimedAt[meta.ID]) < staleAfter {
			return ClaimInFlight, nil
		}
	}
	m.status[meta.ID] = EventStatusProcessing
	m.claimedAt[meta.ID] = time.Now()
	return ClaimAcquired, nil
}

// seedProcessing stores a claim left behind by another delivery.
func (m *memoryEvents) seedProcessing(eventID string, claimedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[eventID] = EventStatusProcessing
	m.claimedAt[eventID] = claimedAt
}

func (m *memoryEvents) MarkProcessed(_ context.Context, eventID string, outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	m.status[eventID] = EventStatusProcessed
	m.outcomes[eventID] = outcome
	return nil
}

func (m *memoryEvents) MarkFailed(_ context.Context, eventID string, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status[eventID] != EventStatusProcessed {
		m.status[eventID] = EventStatusFailed
	}
	return nil
}

func (m *memoryEvents) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.status)
}

type memoryAudit struct {
	mu   sync.Mutex
	rows []*audit.PolicyAuditLog
	err  error
}

func (m *memoryAudit) Create(_ context.Context, row *audit.PolicyAuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, r := range m.rows {
		if r.ProviderEventID == row.ProviderEventID && r.ViolationReason == row.ViolationReason {
			return nil
		}
	}
	m.rows = append(m.rows, row)
	return nil
}

func (m *memoryAudit) all() []*audit.PolicyAuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*audit.PolicyAuditLog(nil), m.rows...)
}

type memoryLedger struct {
	mu       sync.Mutex
	accounts map[string]*credit.Account
	txs      []credit.CreditTransaction
	keys     map[string]bool
	err      error
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{accounts: map[string]*credit.Account{}, keys: map[string]bool{}}
}

func (m *memoryLedger) Grant(_ context.Context, req credit.GrantRequest) (credit.GrantResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return credit.GrantResult{}, m.err
	}

	acc, ok := m.accounts[req.UserID]
	if !ok {
		acc = &credit.Account{UserID: req.UserID}
		m.accounts[req.UserID] = acc
	}
	if m.keys[req.IdempotencyKey] {
		return credit.GrantResult{Balance: acc.Balance, BonusBalance: acc.BonusBalance, Duplicate: true}, nil
	}
	m.keys[req.IdempotencyKey] = true

	acc.Balance += req.Credits
	acc.BonusBalance += req.Bonus
	acc.LifetimeEarned += req.Total()
	m.txs = append(m.txs, credit.CreditTransaction{
		ID:                fmt.Sprintf("tx-%d", len(m.txs)+1),
		UserID:            req.UserID,
		Amount:            req.Total(),
		Credits:           req.Credits,
		Bonus:             req.Bonus,
		BalanceAfter:      acc.Balance + acc.BonusBalance,
		Type:              string(req.Type),
		SourceApp:         req.SourceApp,
		SourceAction:      req.SourceAction,
		SourceReferenceID: req.SourceReferenceID,
		IdempotencyKey:    req.IdempotencyKey,
		Description:       req.Description,
	})
	return credit.GrantResult{Balance: acc.Balance, BonusBalance: acc.BonusBalance}, nil
}

func (m *memoryLedger) GetAccount(_ context.Context, userID string) (*credit.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acc, ok := m.accounts[userID]; ok {
		copied := *acc
		return &copied, nil
	}
	return &credit.Account{UserID: userID}, nil
}

func (m *memoryLedger) transactions() []credit.CreditTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]credit.CreditTransaction(nil), m.txs...)
}

func (m *memoryLedger) accountCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

// memorySubscriptions keeps rows by provider id and allows one live row per user.
type memorySubscriptions struct {
	mu         sync.Mutex
	byProvider map[string]*subscription.Subscription
	err        error
}

func newMemorySubscriptions(subs ...*subscription.Subscription) *memorySubscriptions {
	m := &memorySubscriptions{byProvider: map[string]*subscription.Subscription{}}
	for _, s := range subs {
		m.byProvider[s.ProviderSubscriptionID] = s
	}
	return m
}

func (m *memorySubscriptions) GetByProviderID(_ context.Context, id string) (*subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if s, ok := m.byProvider[id]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, nil
}

func (m *memorySubscriptions) GetByUserID(_ context.Context, userID string) (*subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, s := range m.byProvider {
		if s.UserID == userID && !s.IsCanceled() {
			copied := *s
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memorySubscriptions) Upsert(_ context.Context, sub *subscription.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if existing, ok := m.byProvider[sub.ProviderSubscriptionID]; ok && existing.UserID != sub.UserID {
		return subscription.ErrOwnerMismatch
	}
	for id, s := range m.byProvider {
		if id != sub.ProviderSubscriptionID && s.UserID == sub.UserID && !s.IsCanceled() {
			s.Status = subscription.StatusCanceled
		}
	}
	copied := *sub
	m.byProvider[sub.ProviderSubscriptionID] = &copied
	return nil
}

func (m *memorySubscriptions) Update(_ context.Context, sub *subscription.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.byProvider[sub.ProviderSubscriptionID]; !ok {
		return subscription.ErrSubscriptionNotFound
	}
	copied := *sub
	m.byProvider[sub.ProviderSubscriptionID] = &copied
	return nil
}

func (m *memorySubscriptions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byProvider)
}

type notifierStub struct {
	mu       sync.Mutex
	canceled int
	failed   int
	inReview int
	credits  int
	err      error
}

func (n *notifierStub) NotifyCreditsAdded(context.Context, string, int64, int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.credits++
	return n.err
}

func (n *notifierStub) NotifySubscriptionCanceled(context.Context, string, string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.canceled++
	return n.err
}

func (n *notifierStub) NotifyPaymentFailed(context.Context, string, string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed++
	return n.err
}

func (n *notifierStub) NotifySubscriptionInReview(context.Context, string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inReview++
	return n.err
}

type lockStub struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func (l *lockStub) Acquire(_ context.Context, eventID string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[eventID] {
		return nil, ErrDeliveryInFlight
	}
	l.held[eventID] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, eventID)
	}, nil
}

type harness struct {
	svc      *Service
	verifier *verifierStub
	events   *memoryEvents
	audit    *memoryAudit
	ledger   *memoryLedger
	subs     *memorySubscriptions
	notifier *notifierStub
	lock     *lockStub
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, subs ...*subscription.Subscription) *harness {
	t.Helper()

	h := &harness{
		verifier: &verifierStub{ok: true},
		events:   newMemoryEvents(),
		audit:    &memoryAudit{},
		ledger:   newMemoryLedger(),
		subs:     newMemorySubscriptions(subs...),
		notifier: &notifierStub{},
		lock:     &lockStub{},
	}

	gate := NewPolicyGate(h.audit, nil)
	gate.now = func() time.Time { return fixedNow }

	h.svc = NewService(Deps{
		Verifier:      h.verifier,
		Events:        h.events,
		Lock:          h.lock,
		Credits:       credit.NewService(h.ledger, h.notifier),
		Subscriptions: subscription.NewService(h.subs),
		Gate:          gate,
		Notifier:      h.notifier,
		SourceApp:     "paypal_webhook",
	})
	return h
}

func (h *harness) process(t *testing.T, body []byte) (Outcome, error) {
	t.Helper()
	return h.svc.ProcessWebhook(context.Background(), http.Header{}, body)
}

func (h *harness) balance(userID string) (int64, int64) {
	acc, _ := h.ledger.GetAccount(context.Background(), userID)
	return acc.Balance, acc.BonusBalance
}

// policyMetadata builds a current-format custom_id.
func policyMetadata(userID, productID string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"uid": userID,
		"pid": productID,
		"pv":  "2024-06",
		"nra": true,
		"ts":  1717200000,
	})
	return string(b)
}

func envelope(id, eventType string, resource interface{}) []byte {
	b, err := json.Marshal(map[string]interface{}{
		"id":            id,
		"event_type":    eventType,
		"resource_type": "test",
		"create_time":   "2026-03-01T12:00:00Z",
		"resource":      resource,
	})
	if err != nil {
		panic(err)
	}
	return b
}

func captureEvent(id, captureID, orderID, customID string) []byte {
	return envelope(id, TypePaymentCaptureCompleted, map[string]interface{}{
		"id":        captureID,
		"custom_id": customID,
		"amount":    map[string]string{"currency_code": "USD", "value": "49.00"},
		"supplementary_data": map[string]interface{}{
			"related_ids": map[string]string{"order_id": orderID},
		},
	})
}

func orderApprovedEvent(id, orderID, customID string) []byte {
	return envelope(id, TypeCheckoutOrderApproved, map[string]interface{}{
		"id": orderID,
		"purchase_units": []map[string]interface{}{{
			"reference_id": "default",
			"custom_id":    customID,
			"amount":       map[string]string{"currency_code": "USD", "value": "49.00"},
		}},
	})
}

func activationEvent(id, subscriptionID, customID string) []byte {
	return envelope(id, TypeSubscriptionActivated, map[string]interface{}{
		"id":         subscriptionID,
		"plan_id":    "P-5ML4271244454362WXNWU5NQ",
		"custom_id":  customID,
		"start_time": "2026-03-01T00:00:00Z",
		"billing_info": map[string]string{
			"next_billing_time": "2026-04-01T10:00:00Z",
		},
	})
}

func saleCompletedEvent(id, saleID, subscriptionID string) []byte {
	return envelope(id, TypePaymentSaleCompleted, map[string]interface{}{
		"id":                   saleID,
		"billing_agreement_id": subscriptionID,
		"amount":               map[string]string{"total": "29.00", "currency": "USD"},
	})
}

func subscriptionEvent(id, eventType, subscriptionID string) []byte {
	return envelope(id, eventType, map[string]interface{}{"id": subscriptionID})
}

func activeSubscription(userID, providerID string, flagged bool) *subscription.Subscription {
	return &subscription.Subscription{
		UserID:                 userID,
		ProviderSubscriptionID: providerID,
		Plan:                   "PLAN_PRO",
		Status:                 subscription.StatusActive,
		BillingCycle:           subscription.BillingMonthly,
		CurrentPeriodStart:     fixedNow.AddDate(0, -1, 0),
		CurrentPeriodEnd:       fixedNow,
		CreditsPerMonth:        1000,
		CreditsUsedThisMonth:   250,
		RequiresManualReview:   flagged,
	}
}

var errStore = errors.New("connection reset")
