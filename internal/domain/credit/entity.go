package credit

import "time"

// TxType defines supported credit transaction types.
type TxType string

const (
	TxTypePurchase               TxType = "purchase"
	TxTypeSubscriptionActivation TxType = "subscription_activation"
	TxTypeSubscriptionRenewal    TxType = "subscription_renewal"
)

func (t TxType) valid() bool {
	switch t {
	case TxTypePurchase, TxTypeSubscriptionActivation, TxTypeSubscriptionRenewal:
		return true
	}
	return false
}

// Account is the per-user balance row.
type Account struct {
	UserID         string    `db:"user_id"`
	Balance        int64     `db:"balance"`
	BonusBalance   int64     `db:"bonus_balance"`
	LifetimeEarned int64     `db:"lifetime_earned"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// CreditTransaction is an append-only ledger row.
type CreditTransaction struct {
	ID                string    `db:"id"`
	UserID            string    `db:"user_id"`
	Amount            int64     `db:"amount"`
	Credits           int64     `db:"credits"`
	Bonus             int64     `db:"bonus"`
	BalanceAfter      int64     `db:"balance_after"`
	Type              string    `db:"type"`
	SourceApp         string    `db:"source_app"`
	SourceAction      string    `db:"source_action"`
	SourceReferenceID string    `db:"source_reference_id"`
	IdempotencyKey    string    `db:"idempotency_key"`
	Description       string    `db:"description"`
	CreatedAt         time.Time `db:"created_at"`
}

// GrantRequest describes a single credit grant.
// IdempotencyKey names the provider resource being paid for; a repeated key never grants twice.
type GrantRequest struct {
	UserID            string
	Credits           int64
	Bonus             int64
	Type              TxType
	SourceApp         string
	SourceAction      string
	SourceReferenceID string
	IdempotencyKey    string
	Description       string
}

// Total returns credits plus bonus.
func (r GrantRequest) Total() int64 {
	return r.Credits + r.Bonus
}

// GrantResult reports balances after the grant.
type GrantResult struct {
	Balance      int64
	BonusBalance int64
	Duplicate    bool
}

// Available is the spendable total.
func (r GrantResult) Available() int64 {
	return r.Balance + r.BonusBalance
}
