package lending

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/generic"
)

// =============================================================================
// DERIVED PARAMETERS - Computed on read, never stored
// =============================================================================

// DerivedParameters are pure functions of current balances and parameters.
type DerivedParameters struct {
	TotalOutstandingDue         decimal.Decimal                       `json:"total_outstanding_due"`
	TotalArrears                decimal.Decimal                       `json:"total_arrears"`
	NextRepaymentDate           time.Time                             `json:"next_repayment_date"`
	PerLoanEarlyRepaymentAmount map[generic.AccountID]decimal.Decimal `json:"per_loan_early_repayment_amount"`
	TotalEarlyRepaymentAmount   decimal.Decimal                       `json:"total_early_repayment_amount"`
	TotalMonthlyRepayment       decimal.Decimal                       `json:"total_monthly_repayment"`
	TotalOriginalPrincipal      decimal.Decimal                       `json:"total_original_principal"`
	TotalOutstandingPrincipal   decimal.Decimal                       `json:"total_outstanding_principal"`
	TotalAvailableCredit        decimal.Decimal                       `json:"total_available_credit"`
	TotalOutstandingDebt        decimal.Decimal                       `json:"total_outstanding_debt"`
	MaximumOverpaymentFee       decimal.Decimal                       `json:"maximum_overpayment_fee"`
}

// Derive computes every derived parameter from a snapshot as of asOf.
func Derive(snap *PlanSnapshot, asOf time.Time) DerivedParameters {
	denom := snap.denom()
	params := snap.Plan.Product
	d := DerivedParameters{
		TotalOutstandingDue:         decimal.Zero,
		TotalArrears:                snap.get(AddrPenalties),
		NextRepaymentDate:           snap.Plan.NextDueDate(asOf),
		PerLoanEarlyRepaymentAmount: map[generic.AccountID]decimal.Decimal{},
		TotalEarlyRepaymentAmount:   snap.get(AddrPenalties),
		TotalMonthlyRepayment:       decimal.Zero,
		TotalOriginalPrincipal:      decimal.Zero,
		TotalOutstandingPrincipal:   OutstandingPrincipal(snap),
		TotalOutstandingDebt:        TotalOutstandingDebt(snap),
		MaximumOverpaymentFee:       TotalMaximumOverpaymentFee(snap),
	}
	for _, l := range snap.Loans {
		d.TotalOutstandingDue = d.TotalOutstandingDue.Add(l.get(AddrPrincipalDue, denom)).Add(l.get(AddrInterestDue, denom))
		d.TotalArrears = d.TotalArrears.
			Add(l.get(AddrPrincipalOverdue, denom)).
			Add(l.get(AddrInterestOverdue, denom)).
			Add(l.get(AddrPenalties, denom))
		d.TotalMonthlyRepayment = d.TotalMonthlyRepayment.Add(l.get(AddrEMI, denom))
		d.TotalOriginalPrincipal = d.TotalOriginalPrincipal.Add(l.Loan.OriginalPrincipal)

		// Rounded per loan, then summed.
		early := EarlyRepaymentAmount(l, params, denom)
		d.PerLoanEarlyRepaymentAmount[l.Loan.ID] = early
		d.TotalEarlyRepaymentAmount = d.TotalEarlyRepaymentAmount.Add(early)
	}
	d.TotalAvailableCredit = decimal.Max(snap.Plan.CreditLimit.Sub(ApplicablePrincipalInUse(snap)), decimal.Zero)
	return d
}

// loanOutstandingPrincipal is PRINCIPAL + PRINCIPAL_DUE + PRINCIPAL_OVERDUE.
func loanOutstandingPrincipal(l *LoanSnapshot, denom generic.Denomination) decimal.Decimal {
	return l.Balances.Sum(denom, AddrPrincipal, AddrPrincipalDue, AddrPrincipalOverdue)
}

// collectableAccrued is the loan's accrued interest rounded for collection.
func collectableAccrued(l *LoanSnapshot, denom generic.Denomination, precision int32) decimal.Decimal {
	return l.Balances.Sum(denom, AddrAccruedInterest, AddrNonEMIAccrued).Round(precision)
}

// loanDebt is everything owed on one loan, accrued interest included.
func loanDebt(l *LoanSnapshot, params ProductParams, denom generic.Denomination) decimal.Decimal {
	return loanOutstandingPrincipal(l, denom).
		Add(l.Balances.Sum(denom, AddrInterestDue, AddrInterestOverdue, AddrPenalties)).
		Add(collectableAccrued(l, denom, params.ApplicationPrecision))
}

// EarlyRepaymentAmount is what fully repays one loan today, overpayment fee
// on the remaining principal included.
func EarlyRepaymentAmount(l *LoanSnapshot, params ProductParams, denom generic.Denomination) decimal.Decimal {
	fee := MaximumOverpaymentFee(l.get(AddrPrincipal, denom), params.OverpaymentFeeRate, params.ApplicationPrecision)
	return loanDebt(l, params, denom).Add(fee)
}

func OutstandingPrincipal(snap *PlanSnapshot) decimal.Decimal {
	total := decimal.Zero
	for _, l := range snap.Loans {
		total = total.Add(loanOutstandingPrincipal(l, snap.denom()))
	}
	return total
}

// ApplicablePrincipalInUse is the principal counted against the credit limit.
func ApplicablePrincipalInUse(snap *PlanSnapshot) decimal.Decimal {
	if snap.Plan.Product.CreditLimitApplicablePrincipal != ApplicableOriginal {
		return OutstandingPrincipal(snap)
	}
	total := decimal.Zero
	for _, l := range snap.Loans {
		total = total.Add(l.Loan.OriginalPrincipal)
	}
	return total
}

// TotalOutstandingDebt sums every loan's debt plus parent-level penalties.
func TotalOutstandingDebt(snap *PlanSnapshot) decimal.Decimal {
	total := snap.get(AddrPenalties)
	for _, l := range snap.Loans {
		total = total.Add(loanDebt(l, snap.Plan.Product, snap.denom()))
	}
	return total
}

func TotalMaximumOverpaymentFee(snap *PlanSnapshot) decimal.Decimal {
	params := snap.Plan.Product
	total := decimal.Zero
	for _, l := range snap.Loans {
		total = total.Add(MaximumOverpaymentFee(l.get(AddrPrincipal, snap.denom()), params.OverpaymentFeeRate, params.ApplicationPrecision))
	}
	return total
}
