package lending

import (
	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/generic"
)

// =============================================================================
// CREDIT LIMIT GUARD - Pre-posting business rules
// =============================================================================

// CreditLimitGuard validates postings before anything is computed. A
// force_override intent bypasses the business rules. The denomination check
// and the closed-plan check always apply.
type CreditLimitGuard struct{}

func (CreditLimitGuard) CheckDenomination(snap *PlanSnapshot, denom generic.Denomination) error {
	if denom != snap.denom() {
		return reject(CodeWrongDenomination,
			"Cannot make transactions in the given denomination, transactions must be one of [%s]", snap.denom())
	}
	return nil
}

// CheckDrawdown enforces loan size, loan count and the credit limit.
func (g CreditLimitGuard) CheckDrawdown(snap *PlanSnapshot, amount decimal.Decimal, denom generic.Denomination, intent PostingIntent) error {
	if err := g.checkCommon(snap, amount, denom); err != nil {
		return err
	}
	if intent.IsForceOverride() {
		return nil
	}
	if intent.Kind == IntentTargetedRepayment {
		return reject(CodeUnsupportedPosting, "target_account_id is only supported on repayments")
	}

	params := snap.Plan.Product
	if amount.LessThan(params.MinimumLoanPrincipal) {
		return reject(CodeAgainstTerms,
			"Cannot create loan smaller than minimum loan amount %s", money(params.MinimumLoanPrincipal))
	}
	if params.MaximumLoanPrincipal.IsPositive() && amount.GreaterThan(params.MaximumLoanPrincipal) {
		return reject(CodeAgainstTerms,
			"Cannot create loan larger than maximum loan amount %s", money(params.MaximumLoanPrincipal))
	}
	if limit := params.MaximumNumberOfOutstandingLoans; limit > 0 && len(snap.Loans) >= limit {
		return reject(CodeAgainstTerms,
			"Cannot create new loan due to outstanding loan limit being exceeded. Current number of loans: %d, maximum loan limit: %d",
			len(snap.Loans), limit)
	}

	remaining := snap.Plan.CreditLimit.Sub(ApplicablePrincipalInUse(snap))
	if amount.GreaterThan(remaining) {
		return reject(CodeInsufficientFunds,
			"Attempted drawdown %s exceeds the remaining limit of %s, based on %s principal",
			money(amount), money(decimal.Max(remaining, decimal.Zero)), params.CreditLimitApplicablePrincipal)
	}
	return nil
}

// RepaymentCeiling is the most a single repayment may be: everything owed
// plus the largest overpayment fee the loans can bear.
func RepaymentCeiling(snap *PlanSnapshot, intent PostingIntent) decimal.Decimal {
	if intent.Kind == IntentTargetedRepayment {
		l := snap.Loan(intent.Target)
		if l == nil {
			return decimal.Zero
		}
		return EarlyRepaymentAmount(l, snap.Plan.Product, snap.denom())
	}
	return TotalOutstandingDebt(snap).Add(TotalMaximumOverpaymentFee(snap))
}

// CheckRepayment exempts repayments from size checks but caps them at the
// repayment ceiling, which is echoed back on rejection.
func (g CreditLimitGuard) CheckRepayment(snap *PlanSnapshot, amount decimal.Decimal, denom generic.Denomination, intent PostingIntent) error {
	if err := g.checkCommon(snap, amount, denom); err != nil {
		return err
	}
	if intent.Kind == IntentTargetedRepayment && snap.Loan(intent.Target) == nil {
		return reject(CodeUnsupportedPosting,
			"Target account %s is not an open drawdown loan of this line of credit", intent.Target)
	}
	if intent.IsForceOverride() {
		return nil
	}
	if ceiling := RepaymentCeiling(snap, intent); amount.GreaterThan(ceiling) {
		return rejectOverpayment(amount, ceiling)
	}
	return nil
}

func rejectOverpayment(amount, ceiling decimal.Decimal) error {
	return reject(CodeAgainstTerms,
		"Cannot pay more than is owed. Repayment of %s exceeds the maximum payable amount of %s",
		money(amount), money(ceiling))
}

// CheckCreditLimitAmendment refuses a limit below the current aggregated
// outstanding debt.
func (CreditLimitGuard) CheckCreditLimitAmendment(snap *PlanSnapshot, proposed decimal.Decimal) error {
	if !proposed.IsPositive() {
		return reject(CodeAgainstTerms, "Credit limit must be positive, got %s", money(proposed))
	}
	if debt := TotalOutstandingDebt(snap); proposed.LessThan(debt) {
		return reject(CodeAgainstTerms,
			"Cannot set credit limit %s below the outstanding debt of %s", money(proposed), money(debt))
	}
	return nil
}

func (g CreditLimitGuard) checkCommon(snap *PlanSnapshot, amount decimal.Decimal, denom generic.Denomination) error {
	if snap.Plan.Status == StatusClosed {
		return reject(CodeAccountBlocked, "Line of credit %s is closed", snap.Plan.ID)
	}
	if err := g.CheckDenomination(snap, denom); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return reject(CodeAgainstTerms, "Amount must be greater than 0, got %s", money(amount))
	}
	return nil
}
