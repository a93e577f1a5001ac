/*
amortization.go - EMI and due-split arithmetic

PURPOSE:
  Pure functions. No ledger, no clock. Everything here is decimal and
  rounds half-up at the precision the caller passes (product EMI /
  application precision).

FORMULA:
  EMI = P * r * (1+r)^n / ((1+r)^n - 1),   r = annual_rate / 12
  r == 0 falls back to P / n.

SEE ALSO:
  - due.go: calls SplitDue when crystallising a cycle
  - waterfall.go: overpayments feed ReAmortize / TermForPrincipal
*/
package lending

import (
	"github.com/shopspring/decimal"
)

// workingPrecision bounds intermediate results of the annuity formula.
const workingPrecision = 28

var (
	one    = decimal.NewFromInt(1)
	twelve = decimal.NewFromInt(12)
)

// ComputeEMI returns the equated monthly installment for principal repaid over
// remainingTerm months.
func ComputeEMI(principal, annualRate decimal.Decimal, remainingTerm int, precision int32) decimal.Decimal {
	if remainingTerm <= 0 || !principal.IsPositive() {
		return decimal.Zero
	}
	n := decimal.NewFromInt(int64(remainingTerm))
	r := annualRate.DivRound(twelve, workingPrecision)
	if r.IsZero() {
		return principal.DivRound(n, workingPrecision).Round(precision)
	}
	growth := pow(one.Add(r), remainingTerm)
	numerator := principal.Mul(r).Mul(growth)
	denominator := growth.Sub(one)
	return numerator.DivRound(denominator, workingPrecision).Round(precision)
}

// ReAmortize recomputes the EMI after an overpayment under reduce_emi.
func ReAmortize(outstanding, annualRate decimal.Decimal, remainingTerm int, precision int32) decimal.Decimal {
	return ComputeEMI(outstanding, annualRate, remainingTerm, precision)
}

// TermForPrincipal returns the smallest number of installments of emi that
// repays outstanding, never more than maxTerm. Used under reduce_term, where
// the EMI is kept and the term shortens instead.
func TermForPrincipal(outstanding, annualRate, emi decimal.Decimal, maxTerm int, precision int32) int {
	if !outstanding.IsPositive() {
		return 0
	}
	for n := 1; n < maxTerm; n++ {
		if ComputeEMI(outstanding, annualRate, n, precision).LessThanOrEqual(emi) {
			return n
		}
	}
	return maxTerm
}

// DueSplit is the outcome of crystallising one cycle.
type DueSplit struct {
	InterestDue  decimal.Decimal
	PrincipalDue decimal.Decimal
}

// SplitDue divides a cycle's installment into interest and principal.
//
// interest_due is all interest accrued in the cycle (EMI and non-EMI),
// rounded. principal_due is the EMI less the EMI portion of interest, floored
// at zero and capped at the remaining principal. On the final cycle the whole
// remaining principal falls due.
func SplitDue(emi, emiInterest, totalInterest, remainingPrincipal decimal.Decimal, finalCycle bool, precision int32) DueSplit {
	split := DueSplit{InterestDue: totalInterest.Round(precision)}
	if finalCycle {
		split.PrincipalDue = decimal.Max(remainingPrincipal, decimal.Zero)
		return split
	}
	principal := emi.Sub(emiInterest.Round(precision))
	if principal.IsNegative() {
		principal = decimal.Zero
	}
	split.PrincipalDue = decimal.Min(principal, decimal.Max(remainingPrincipal, decimal.Zero))
	return split
}

// PrincipalExcess is the extra principal a cycle raises because interest was
// lower than it would have been without overpayments.
func PrincipalExcess(expectedInterest, actualInterest decimal.Decimal, precision int32) decimal.Decimal {
	excess := expectedInterest.Round(precision).Sub(actualInterest.Round(precision))
	if excess.IsNegative() {
		return decimal.Zero
	}
	return excess
}

// MaximumOverpaymentFee is the largest fee chargeable on a loan so that fee
// plus net overpayment never exceeds its remaining principal.
func MaximumOverpaymentFee(principal, feeRate decimal.Decimal, precision int32) decimal.Decimal {
	if !principal.IsPositive() || !feeRate.IsPositive() {
		return decimal.Zero
	}
	return principal.Mul(feeRate).DivRound(one.Sub(feeRate), workingPrecision).Round(precision)
}

// OverpaymentFee is the fee deducted from a gross overpayment.
func OverpaymentFee(gross, feeRate decimal.Decimal, precision int32) decimal.Decimal {
	return gross.Mul(feeRate).Round(precision)
}

// DailyInterest is simple interest for one day at the given precision.
func DailyInterest(principal, annualRate decimal.Decimal, daysInYear int64, precision int32) decimal.Decimal {
	if !principal.IsPositive() || !annualRate.IsPositive() || daysInYear <= 0 {
		return decimal.Zero
	}
	return principal.Mul(annualRate).DivRound(decimal.NewFromInt(daysInYear), workingPrecision).Round(precision)
}

// pow raises base to a non-negative integer power, truncating intermediate
// products to the working precision.
func pow(base decimal.Decimal, n int) decimal.Decimal {
	result := one
	for i := 0; i < n; i++ {
		result = result.Mul(base).Truncate(workingPrecision)
	}
	return result
}
