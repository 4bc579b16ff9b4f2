package credit

import "testing"

func TestLookupPackage(t *testing.T) {
	tests := []struct {
		id      string
		credits int64
		bonus   int64
		ok      bool
	}{
		{"CREDIT_STARTER", 100, 0, true},
		{"CREDIT_POPULAR", 500, 50, true},
		{"credit_pro", 1200, 200, true},
		{"CREDIT_ENTERPRISE", 3000, 750, true},
		{"CREDIT_UNKNOWN", 0, 0, false},
		{"", 0, 0, false},
	}

	for _, tt := range tests {
		p, ok := LookupPackage(tt.id)
		if ok != tt.ok {
			t.Fatalf("%q: expected ok=%v, got %v", tt.id, tt.ok, ok)
		}
		if p.Credits != tt.credits || p.Bonus != tt.bonus {
			t.Fatalf("%q: expected %d+%d, got %d+%d", tt.id, tt.credits, tt.bonus, p.Credits, p.Bonus)
		}
	}
}

func TestLookupPlan(t *testing.T) {
	p, ok := LookupPlan("PLAN_PRO")
	if !ok || p.CreditsPerMonth != 1000 || p.Cycle != BillingCycleMonthly {
		t.Fatalf("unexpected plan: %+v ok=%v", p, ok)
	}

	p, ok = LookupPlan("PLAN_ENTERPRISE_YEARLY")
	if !ok || p.CreditsPerMonth != 5000 || p.Cycle != BillingCycleYearly {
		t.Fatalf("unexpected yearly plan: %+v ok=%v", p, ok)
	}
	if p.ID != "PLAN_ENTERPRISE_YEARLY" {
		t.Fatalf("expected id to be kept, got %s", p.ID)
	}

	if _, ok := LookupPlan("PLAN_GOLD"); ok {
		t.Fatal("expected unknown plan")
	}
}
