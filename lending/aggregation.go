package lending

import (
	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/generic"
)

// =============================================================================
// AGGREGATION ENGINE - Parent TOTAL_* mirrors
// =============================================================================

// AggregationEngine is a pure reduction over loan snapshots. The parent never
// holds references to loans; totals are recomputed from balances fetched by
// id, never incrementally drifted.
type AggregationEngine struct{}

// Total is the value a parent TOTAL_* address should hold.
type Total struct {
	Address generic.Address
	Value   decimal.Decimal
}

// Expected returns every parent total for the snapshot's open loans, in a
// fixed order.
func (AggregationEngine) Expected(snap *PlanSnapshot) []Total {
	denom := snap.denom()
	out := make([]Total, 0, len(aggregated)+1)
	for _, m := range aggregated {
		total := decimal.Zero
		for _, l := range snap.Loans {
			total = total.Add(l.get(m.Loan, denom))
		}
		out = append(out, Total{Address: m.Total, Value: total})
	}
	original := decimal.Zero
	for _, l := range snap.Loans {
		original = original.Add(l.Loan.OriginalPrincipal)
	}
	return append(out, Total{Address: AddrTotalOriginalPrincipal, Value: original})
}

// Aggregate appends the deltas that bring each parent total in line with the
// projected loan balances. It runs last, on the same posting as the
// triggering event.
func (e AggregationEngine) Aggregate(p *Posting) {
	snap := p.snapshot
	for _, want := range e.Expected(snap) {
		delta := want.Value.Sub(snap.get(want.Address))
		p.Add(tracker(snap.Plan.ID, want.Address, delta, snap.denom()))
	}
}

// Verify reports the first parent total that disagrees with its loans.
func (e AggregationEngine) Verify(snap *PlanSnapshot) error {
	for _, want := range e.Expected(snap) {
		if actual := snap.get(want.Address); !actual.Equal(want.Value) {
			return &AggregationMismatchError{PlanID: snap.Plan.ID, Address: want.Address, Expected: want.Value, Actual: actual}
		}
	}
	return nil
}
