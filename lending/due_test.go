package lending

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-engine/generic"
)

func TestIsDueDate(t *testing.T) {
	plan := testPlan("10000")
	plan.DueDay = 31

	// GIVEN: due day 31 clamps to the last day of shorter months
	assert.True(t, plan.IsDueDate(generic.Date(2020, 2, 29)))
	assert.False(t, plan.IsDueDate(generic.Date(2020, 2, 28)))
	assert.True(t, plan.IsDueDate(generic.Date(2020, 4, 30)))

	// WHEN: a due calculation happened this month
	plan.LastDueDate = generic.Date(2020, 4, 30)

	// THEN: the next one is next month
	assert.False(t, plan.IsDueDate(generic.Date(2020, 4, 30)))
	assert.True(t, plan.NextDueDate(generic.Date(2020, 5, 1)).Equal(generic.Date(2020, 5, 31)))
}

func TestChangeDueDay(t *testing.T) {
	plan := testPlan("10000")

	t.Run("rejected before the first due calculation", func(t *testing.T) {
		err := plan.ChangeDueDay(20, generic.Date(2020, 1, 15))
		rej := requireRejection(t, err, CodeAgainstTerms)
		assert.Equal(t, "It is not possible to change the due amount calculation day until after the first due amount calculation date", rej.Reason)
	})

	t.Run("out of range", func(t *testing.T) {
		requireRejection(t, plan.ChangeDueDay(32, generic.Date(2020, 1, 15)), CodeAgainstTerms)
	})

	t.Run("never retroactive", func(t *testing.T) {
		plan.LastDueDate = generic.Date(2020, 2, 5)
		require.NoError(t, plan.ChangeDueDay(20, generic.Date(2020, 3, 25)))

		// March 20 is before the change, so April 20 is next.
		assert.False(t, plan.IsDueDate(generic.Date(2020, 3, 20)))
		assert.True(t, plan.NextDueDate(generic.Date(2020, 3, 25)).Equal(generic.Date(2020, 4, 20)))
	})
}

func TestFirstDueDate(t *testing.T) {
	loan := testLoan("loan-1", "1000", "0.149", 12)
	assert.True(t, loan.FirstDueDate(5).Equal(generic.Date(2020, 2, 5)))

	loan.StartDate = generic.Date(2020, 1, 10)
	assert.True(t, loan.FirstDueDate(5).Equal(generic.Date(2020, 3, 5)))
}

// firstCycle returns the 3000 at 3.1% loan after Jan 2 - Feb 5 accruals.
func firstCycle(t *testing.T) (*PlanSnapshot, *LoanSnapshot) {
	emi := ComputeEMI(dec("3000"), dec("0.031"), 12, 2)
	loan := &LoanSnapshot{
		Loan: testLoan("loan-1", "3000", "0.031", 12),
		Balances: balances(t,
			"PRINCIPAL", "3000",
			"EMI", emi.String(),
			"NON_EMI_ACCRUED_INTEREST_RECEIVABLE", "1.01916",
			"ACCRUED_INTEREST_RECEIVABLE", "7.89849"),
	}
	return snapshot(testPlan("10000"), nil, loan), loan
}

func TestDueCalculation_FirstCycle(t *testing.T) {
	snap, loan := firstCycle(t)
	runAt := generic.Date(2020, 2, 5)

	// WHEN
	p := NewPosting(snap, "", string(EventDueCalculation), runAt)
	res, err := DueCalculationEngine{}.Calculate(p, runAt)
	require.NoError(t, err)

	// THEN: 35 days of interest fall due, non-EMI days included, and the
	// principal part of the EMI is moved out of PRINCIPAL
	assert.Equal(t, "8.92", res.InterestDue.StringFixed(2))
	assert.Equal(t, "246.32", res.PrincipalDue.StringFixed(2))
	assert.Equal(t, "8.92", loan.get(AddrInterestDue, gbp).StringFixed(2))
	assert.Equal(t, "2753.68", loan.get(AddrPrincipal, gbp).StringFixed(2))
	assert.True(t, loan.get(AddrAccruedInterest, gbp).IsZero())
	assert.True(t, loan.get(AddrNonEMIAccrued, gbp).IsZero())
	assert.Equal(t, "1", loan.get(AddrDueCalcCounter, gbp).String())

	assert.Equal(t, 11, loan.Loan.RemainingTerm)
	assert.Equal(t, 1, loan.Loan.DueCalcCounter)
	assert.True(t, snap.Plan.LastDueDate.Equal(runAt))
	assert.True(t, snap.Plan.NextOverdueDate.Equal(generic.Date(2020, 2, 26)))
}

func TestDueCalculation_RunTwiceIsNoOp(t *testing.T) {
	snap, loan := firstCycle(t)
	runAt := generic.Date(2020, 2, 5)

	p := NewPosting(snap, "", string(EventDueCalculation), runAt)
	_, err := DueCalculationEngine{}.Calculate(p, runAt)
	require.NoError(t, err)
	before := len(p.Batch.Instructions)

	res, err := DueCalculationEngine{}.Calculate(p, runAt)
	require.NoError(t, err)

	assert.Empty(t, res.Processed)
	assert.Len(t, p.Batch.Instructions, before)
	assert.Equal(t, "246.32", loan.get(AddrPrincipalDue, gbp).StringFixed(2))
}

func TestDueCalculation_SkipsYoungLoans(t *testing.T) {
	snap, loan := firstCycle(t)
	loan.Loan.StartDate = generic.Date(2020, 1, 20)

	p := NewPosting(snap, "", string(EventDueCalculation), generic.Date(2020, 2, 5))
	res, err := DueCalculationEngine{}.Calculate(p, generic.Date(2020, 2, 5))
	require.NoError(t, err)

	assert.Empty(t, res.Processed)
	assert.True(t, p.Empty())
	assert.True(t, snap.Plan.LastDueDate.IsZero())
}

func TestDueCalculation_OverpaymentImpact(t *testing.T) {
	// 1000 overpaid during the first cycle leaves 2000 over 11 remaining terms.
	tests := []struct {
		name     string
		pref     OverpaymentPreference
		wantEMI  string
		wantTerm int
	}{
		{"reduce_emi re-amortises over the same term", ReduceEMI, ComputeEMI(dec("2000"), dec("0.031"), 11, 2).StringFixed(2), 10},
		{"reduce_term keeps the EMI and shortens the term", ReduceTerm, "254.22", 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN
			snap, loan := firstCycle(t)
			snap.Plan.Product.OverpaymentImpactPreference = tt.pref
			loan.Balances = balances(t,
				"PRINCIPAL", "2000",
				"EMI", "254.22",
				"OVERPAYMENT_SINCE_PREV_DUE_AMOUNT_CALC_TRACKER", "1000",
				"ACCRUED_INTEREST_RECEIVABLE", "5")
			loan.Loan.DueCalcCounter = 1
			loan.Loan.RemainingTerm = 11
			runAt := generic.Date(2020, 3, 5)

			// WHEN
			p := NewPosting(snap, "", string(EventDueCalculation), runAt)
			res, err := DueCalculationEngine{}.Calculate(p, runAt)
			require.NoError(t, err)

			// THEN: this cycle's installment is raised on the new schedule
			assert.Equal(t, tt.wantEMI, loan.get(AddrEMI, gbp).StringFixed(2))
			assert.Equal(t, tt.wantTerm, loan.Loan.RemainingTerm)
			assert.True(t, loan.get(AddrOverpaymentSince, gbp).IsZero())
			assert.Equal(t, "5.00", res.InterestDue.StringFixed(2))
			assert.True(t, res.PrincipalDue.Equal(dec(tt.wantEMI).Sub(dec("5"))))
		})
	}
}

func TestTermForPrincipal_AfterOverpayment(t *testing.T) {
	// Eight installments of at most 254.22 repay 2000; seven do not.
	assert.Equal(t, 8, TermForPrincipal(dec("2000"), dec("0.031"), dec("254.22"), 11, 2))
	assert.True(t, ComputeEMI(dec("2000"), dec("0.031"), 7, 2).GreaterThan(dec("254.22")))
}

func TestDueCalculation_SumsAcrossLoans(t *testing.T) {
	tests := []struct {
		name          string
		loans         int
		wantPrincipal string
		wantInterest  string
		wantRepayment string
	}{
		{"one loan", 1, "246.32", "8.92", "255.24"},
		{"two loans", 2, "492.64", "17.84", "510.48"},
		{"three loans", 3, "738.96", "26.76", "765.72"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: identical 3000 at 3.1% loans after their first cycle of accruals
			var loans []*LoanSnapshot
			for i := 0; i < tt.loans; i++ {
				_, l := firstCycle(t)
				l.Loan.ID = generic.AccountID(fmt.Sprintf("loan-%d", i+1))
				loans = append(loans, l)
			}
			snap := snapshot(testPlan("10000"), nil, loans...)
			runAt := generic.Date(2020, 2, 5)

			// WHEN
			res, err := DueCalculationEngine{}.Calculate(NewPosting(snap, "", string(EventDueCalculation), runAt), runAt)
			require.NoError(t, err)

			// THEN: each loan raises its own dues and the totals add up
			assert.Len(t, res.Processed, tt.loans)
			assert.Equal(t, tt.wantPrincipal, res.PrincipalDue.StringFixed(2))
			assert.Equal(t, tt.wantInterest, res.InterestDue.StringFixed(2))
			assert.Equal(t, tt.wantRepayment, res.RepaymentAmount().StringFixed(2))
			for _, l := range loans {
				assert.Equal(t, "246.32", l.get(AddrPrincipalDue, gbp).StringFixed(2), l.Loan.ID)
				assert.Equal(t, "8.92", l.get(AddrInterestDue, gbp).StringFixed(2), l.Loan.ID)
			}
		})
	}
}

func TestDueCalculation_SkipsPaidOffLoans(t *testing.T) {
	// GIVEN: loan-1 repaid in full but not closed, loan-2 mid-cycle
	paid := &LoanSnapshot{Loan: testLoan("loan-1", "1000", "0.149", 12), Balances: generic.Balances{}}
	_, open := firstCycle(t)
	open.Loan.ID = "loan-2"
	snap := snapshot(testPlan("10000"), nil, paid, open)
	runAt := generic.Date(2020, 2, 5)

	// WHEN
	p := NewPosting(snap, "", string(EventDueCalculation), runAt)
	res, err := DueCalculationEngine{}.Calculate(p, runAt)
	require.NoError(t, err)

	// THEN: only loan-2 contributes and nothing is posted to loan-1
	assert.Equal(t, []generic.AccountID{"loan-2"}, res.Processed)
	assert.Equal(t, "255.24", res.RepaymentAmount().StringFixed(2))
	assert.Zero(t, paid.Loan.DueCalcCounter)
	assert.True(t, paid.Loan.LastDueCalcAt.IsZero())
	for _, ins := range p.Batch.Instructions {
		assert.NotEqual(t, generic.AccountID("loan-1"), ins.Debit.AccountID)
		assert.NotEqual(t, generic.AccountID("loan-1"), ins.Credit.AccountID)
	}
}

func TestDueCalculation_UnsupportedPreference(t *testing.T) {
	snap, loan := firstCycle(t)
	loan.Balances[generic.Key(AddrOverpaymentSince, gbp)] = dec("10")
	snap.Plan.Product.OverpaymentImpactPreference = "reduce_nothing"

	p := NewPosting(snap, "", string(EventDueCalculation), generic.Date(2020, 2, 5))
	_, err := DueCalculationEngine{}.Calculate(p, generic.Date(2020, 2, 5))
	assert.ErrorIs(t, err, ErrUnsupportedPreference)
}

func TestOverdue_AgesDuesAndChargesFeeOnce(t *testing.T) {
	first := &LoanSnapshot{Loan: testLoan("loan-1", "1000", "0.149", 12), Balances: balances(t, "PRINCIPAL_DUE", "80", "INTEREST_DUE", "10")}
	second := &LoanSnapshot{Loan: testLoan("loan-2", "3000", "0.031", 12), Balances: balances(t, "INTEREST_DUE", "5")}
	snap := snapshot(testPlan("10000"), nil, first, second)
	runAt := generic.Date(2020, 2, 26)

	p := NewPosting(snap, "", string(EventOverdueCheck), runAt)
	res := OverdueEngine{}.Check(p, runAt)

	assert.True(t, res.Moved())
	assert.Equal(t, "80", res.Principal.String())
	assert.Equal(t, "15", res.Interest.String())
	assert.Equal(t, "25", snap.get(AddrPenalties).String())
	assert.Equal(t, "10", first.get(AddrInterestOverdue, gbp).String())
	assert.True(t, first.get(AddrPrincipalDue, gbp).IsZero())
	assert.True(t, snap.Plan.NextOverdueDate.IsZero())
	assert.True(t, snap.Plan.NextDelinquencyDate.Equal(runAt.AddDate(0, 0, 15)))

	// Delinquency sees what survived the grace period.
	d := DelinquencyEngine{}.Check(snap)
	assert.True(t, d.Delinquent())
	assert.Equal(t, "95", d.Overdue().String())
}

func TestOverdue_NothingDueNoFee(t *testing.T) {
	loan := &LoanSnapshot{Loan: testLoan("loan-1", "1000", "0.149", 12), Balances: balances(t, "PRINCIPAL", "1000")}
	snap := snapshot(testPlan("10000"), nil, loan)

	p := NewPosting(snap, "", string(EventOverdueCheck), generic.Date(2020, 2, 26))
	res := OverdueEngine{}.Check(p, generic.Date(2020, 2, 26))

	assert.False(t, res.Moved())
	assert.True(t, p.Empty())
	assert.False(t, DelinquencyEngine{}.Check(snap).Delinquent())
}

func TestJobTimeOn(t *testing.T) {
	j := JobTime{Hour: 0, Minute: 1, Second: 30}
	got := j.On(time.Date(2020, 2, 5, 17, 0, 0, 0, time.UTC))
	assert.True(t, got.Equal(time.Date(2020, 2, 5, 0, 1, 30, 0, time.UTC)))
}
