package lending

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/generic"
)

const gbp generic.Denomination = "GBP"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testProduct() ProductParams {
	return ProductParams{
		RepaymentPeriod:     21,
		GracePeriod:         15,
		OverpaymentFeeRate:  dec("0.01"),
		LateRepaymentFee:    dec("25"),
		PenaltyInterestRate: dec("0.24"),
	}.WithDefaults()
}

func testPlan(limit string) *LineOfCredit {
	return &LineOfCredit{
		ID:           "loc-1",
		Denomination: gbp,
		CreditLimit:  dec(limit),
		Product:      testProduct(),
		DueDay:       5,
		OpenedAt:     generic.Date(2020, 1, 1),
		Status:       StatusOpen,
	}
}

func testLoan(id generic.AccountID, principal, rate string, term int) *DrawdownLoan {
	return &DrawdownLoan{
		ID:                id,
		PlanID:            "loc-1",
		OriginalPrincipal: dec(principal),
		FixedInterestRate: dec(rate),
		TotalTerm:         term,
		RemainingTerm:     term,
		StartDate:         generic.Date(2020, 1, 1),
		Status:            StatusOpen,
	}
}

// balances builds a balance map from address/amount pairs.
func balances(t *testing.T, pairs ...string) generic.Balances {
	t.Helper()
	if len(pairs)%2 != 0 {
		t.Fatalf("balances: odd number of arguments")
	}
	b := generic.Balances{}
	for i := 0; i < len(pairs); i += 2 {
		b[generic.Key(generic.Address(pairs[i]), gbp)] = dec(pairs[i+1])
	}
	return b
}

func snapshot(plan *LineOfCredit, parent generic.Balances, loans ...*LoanSnapshot) *PlanSnapshot {
	if parent == nil {
		parent = generic.Balances{}
	}
	return &PlanSnapshot{Plan: plan, Balances: parent, Loans: loans}
}
