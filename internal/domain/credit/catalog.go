package credit

import "strings"

// Package is a one-time credit bundle.
type Package struct {
	ID      string
	Credits int64
	Bonus   int64
}

// BillingCycle of a subscription plan.
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

// Plan is a recurring subscription tier. Credits are granted per month regardless of cycle.
type Plan struct {
	ID              string
	CreditsPerMonth int64
	Cycle           BillingCycle
}

const yearlySuffix = "_YEARLY"

var packages = map[string]Package{
	"CREDIT_STARTER":    {ID: "CREDIT_STARTER", Credits: 100, Bonus: 0},
	"CREDIT_POPULAR":    {ID: "CREDIT_POPULAR", Credits: 500, Bonus: 50},
	"CREDIT_PRO":        {ID: "CREDIT_PRO", Credits: 1200, Bonus: 200},
	"CREDIT_ENTERPRISE": {ID: "CREDIT_ENTERPRISE", Credits: 3000, Bonus: 750},
}

var planCredits = map[string]int64{
	"PLAN_BASIC":      300,
	"PLAN_PRO":        1000,
	"PLAN_ENTERPRISE": 5000,
}

// LookupPackage resolves a credit package by id.
func LookupPackage(id string) (Package, bool) {
	p, ok := packages[strings.ToUpper(strings.TrimSpace(id))]
	return p, ok
}

// LookupPlan resolves a plan id. PLAN_PRO_YEARLY resolves to the PLAN_PRO tier billed yearly.
func LookupPlan(id string) (Plan, bool) {
	id = strings.ToUpper(strings.TrimSpace(id))

	cycle := BillingCycleMonthly
	base := id
	if strings.HasSuffix(id, yearlySuffix) {
		cycle = BillingCycleYearly
		base = strings.TrimSuffix(id, yearlySuffix)
	}

	credits, ok := planCredits[base]
	if !ok {
		return Plan{}, false
	}
	return Plan{ID: id, CreditsPerMonth: credits, Cycle: cycle}, true
}
