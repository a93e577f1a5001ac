package lending

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/generic"
)

// =============================================================================
// OVERDUE ENGINE - Repayment period expiry
// =============================================================================

// OverdueEngine fires repayment_period days after a due calculation. It moves
// the cycle's unpaid dues to overdue and charges the flat late fee once, at
// the parent.
type OverdueEngine struct{}

type OverdueResult struct {
	Principal           decimal.Decimal
	Interest            decimal.Decimal
	LateFee             decimal.Decimal
	OverdueDate         time.Time
	NextDelinquencyDate time.Time
}

// Moved reports whether any due balance became overdue.
func (r OverdueResult) Moved() bool { return r.Principal.Add(r.Interest).IsPositive() }

func (OverdueEngine) Check(p *Posting, runAt time.Time) OverdueResult {
	snap := p.snapshot
	plan := snap.Plan
	params := plan.Product
	denom := snap.denom()
	date := generic.Day(runAt)

	result := OverdueResult{
		Principal:   decimal.Zero,
		Interest:    decimal.Zero,
		LateFee:     decimal.Zero,
		OverdueDate: date,
	}
	for _, l := range snap.Loans {
		principal, interest := ageDues(p, l, denom)
		result.Principal = result.Principal.Add(principal)
		result.Interest = result.Interest.Add(interest)
	}

	if result.Moved() && params.LateRepaymentFee.IsPositive() {
		result.LateFee = params.LateRepaymentFee
		p.Add(generic.Between(
			leg(plan.ID, AddrPenalties),
			internal(params.InternalAccounts.LateFeeIncome),
			result.LateFee, denom).WithReason("late repayment fee"))
	}

	plan.NextOverdueDate = time.Time{}
	plan.NextDelinquencyDate = date.AddDate(0, 0, params.GracePeriod)
	result.NextDelinquencyDate = plan.NextDelinquencyDate
	return result
}
