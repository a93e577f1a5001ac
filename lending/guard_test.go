package lending

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoLoanSnapshot(t *testing.T) *PlanSnapshot {
	first := &LoanSnapshot{Loan: testLoan("loan-1", "1000", "0.149", 12), Balances: balances(t, "PRINCIPAL", "1000")}
	second := &LoanSnapshot{Loan: testLoan("loan-2", "3000", "0.031", 12), Balances: balances(t, "PRINCIPAL", "3000")}
	return snapshot(testPlan("7500"), nil, first, second)
}

func requireRejection(t *testing.T, err error, code RejectionCode) *RejectionError {
	t.Helper()
	require.Error(t, err)
	var rej *RejectionError
	require.True(t, errors.As(err, &rej), "expected a rejection, got %v", err)
	assert.Equal(t, code, rej.Code)
	assert.True(t, IsRejection(err))
	return rej
}

func TestGuard_DrawdownAgainstRemainingLimit(t *testing.T) {
	snap := twoLoanSnapshot(t)
	g := CreditLimitGuard{}

	// WHEN: one penny over the remaining 3500
	err := g.CheckDrawdown(snap, dec("3500.01"), gbp, Regular())

	// THEN
	rej := requireRejection(t, err, CodeInsufficientFunds)
	assert.Equal(t, "Attempted drawdown 3500.01 exceeds the remaining limit of 3500.00, based on outstanding principal", rej.Reason)

	// Exactly the remaining limit is accepted.
	assert.NoError(t, g.CheckDrawdown(snap, dec("3500"), gbp, Regular()))
}

func TestGuard_ForceOverrideBypassesLimit(t *testing.T) {
	snap := twoLoanSnapshot(t)
	assert.NoError(t, CreditLimitGuard{}.CheckDrawdown(snap, dec("50000"), gbp, ForceOverride()))

	// ...but never the denomination.
	err := CreditLimitGuard{}.CheckDrawdown(snap, dec("100"), "USD", ForceOverride())
	rej := requireRejection(t, err, CodeWrongDenomination)
	assert.Equal(t, "Cannot make transactions in the given denomination, transactions must be one of [GBP]", rej.Reason)
}

func TestGuard_OriginalPrincipalCountsRepaidLoans(t *testing.T) {
	snap := twoLoanSnapshot(t)
	snap.Plan.Product.CreditLimitApplicablePrincipal = ApplicableOriginal
	snap.Loans[1].Balances = balances(t, "PRINCIPAL", "1000")

	err := CreditLimitGuard{}.CheckDrawdown(snap, dec("3600"), gbp, Regular())
	rej := requireRejection(t, err, CodeInsufficientFunds)
	assert.Contains(t, rej.Reason, "based on original principal")
}

func TestGuard_LoanSizeAndCount(t *testing.T) {
	snap := twoLoanSnapshot(t)
	snap.Plan.Product.MinimumLoanPrincipal = dec("100")
	snap.Plan.Product.MaximumLoanPrincipal = dec("2000")
	g := CreditLimitGuard{}

	rej := requireRejection(t, g.CheckDrawdown(snap, dec("99.99"), gbp, Regular()), CodeAgainstTerms)
	assert.Equal(t, "Cannot create loan smaller than minimum loan amount 100.00", rej.Reason)

	rej = requireRejection(t, g.CheckDrawdown(snap, dec("2000.01"), gbp, Regular()), CodeAgainstTerms)
	assert.Equal(t, "Cannot create loan larger than maximum loan amount 2000.00", rej.Reason)

	snap.Plan.Product.MaximumNumberOfOutstandingLoans = 2
	rej = requireRejection(t, g.CheckDrawdown(snap, dec("500"), gbp, Regular()), CodeAgainstTerms)
	assert.Equal(t, "Cannot create new loan due to outstanding loan limit being exceeded. Current number of loans: 2, maximum loan limit: 2", rej.Reason)
}

func TestGuard_ZeroAmountRejected(t *testing.T) {
	rej := requireRejection(t, CreditLimitGuard{}.CheckDrawdown(twoLoanSnapshot(t), dec("0"), gbp, ForceOverride()), CodeAgainstTerms)
	assert.Contains(t, rej.Reason, "greater than 0")
}

func TestGuard_RepaymentCeiling(t *testing.T) {
	snap := twoLoanSnapshot(t)
	g := CreditLimitGuard{}

	// 4000 of principal, fees of round(1000*0.01/0.99)=10.10 and
	// round(3000*0.01/0.99)=30.30
	ceiling := RepaymentCeiling(snap, Regular())
	assert.Equal(t, "4040.40", ceiling.StringFixed(2))

	assert.NoError(t, g.CheckRepayment(snap, ceiling, gbp, Regular()))

	rej := requireRejection(t, g.CheckRepayment(snap, dec("4040.41"), gbp, Regular()), CodeAgainstTerms)
	assert.Equal(t, "Cannot pay more than is owed. Repayment of 4040.41 exceeds the maximum payable amount of 4040.40", rej.Reason)

	// Targeted ceilings are per loan.
	rej = requireRejection(t, g.CheckRepayment(snap, dec("1010.11"), gbp, TargetedRepayment("loan-1")), CodeAgainstTerms)
	assert.Contains(t, rej.Reason, "maximum payable amount of 1010.10")

	requireRejection(t, g.CheckRepayment(snap, dec("10"), gbp, TargetedRepayment("loan-9")), CodeUnsupportedPosting)
}

func TestGuard_CreditLimitAmendment(t *testing.T) {
	snap := twoLoanSnapshot(t)
	g := CreditLimitGuard{}

	assert.NoError(t, g.CheckCreditLimitAmendment(snap, dec("4000")))
	rej := requireRejection(t, g.CheckCreditLimitAmendment(snap, dec("3999.99")), CodeAgainstTerms)
	assert.Contains(t, rej.Reason, "below the outstanding debt of 4000.00")
	requireRejection(t, g.CheckCreditLimitAmendment(snap, dec("0")), CodeAgainstTerms)
}

func TestGuard_ClosedPlanRejectsEverything(t *testing.T) {
	snap := twoLoanSnapshot(t)
	snap.Plan.Status = StatusClosed
	requireRejection(t, CreditLimitGuard{}.CheckRepayment(snap, dec("1"), gbp, ForceOverride()), CodeAccountBlocked)
}
