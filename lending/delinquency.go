package lending

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// DELINQUENCY ENGINE - Observational check after the grace period
// =============================================================================

// DelinquencyEngine reads the aggregated overdue balance. It never posts.
type DelinquencyEngine struct{}

type DelinquencyResult struct {
	PrincipalOverdue decimal.Decimal
	InterestOverdue  decimal.Decimal
}

func (r DelinquencyResult) Overdue() decimal.Decimal { return r.PrincipalOverdue.Add(r.InterestOverdue) }

// Delinquent reports whether any overdue balance survived the grace period.
func (r DelinquencyResult) Delinquent() bool { return r.Overdue().IsPositive() }

func (DelinquencyEngine) Check(snap *PlanSnapshot) DelinquencyResult {
	denom := snap.denom()
	result := DelinquencyResult{PrincipalOverdue: decimal.Zero, InterestOverdue: decimal.Zero}
	for _, l := range snap.Loans {
		result.PrincipalOverdue = result.PrincipalOverdue.Add(l.get(AddrPrincipalOverdue, denom))
		result.InterestOverdue = result.InterestOverdue.Add(l.get(AddrInterestOverdue, denom))
	}
	return result
}
