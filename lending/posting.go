package lending

import (
	"time"

	"github.com/warp/credit-engine/generic"
)

// Posting accumulates the instructions of one triggering event and projects
// the snapshot balances forward as it goes, so later steps (aggregation,
// paid-off detection) see post-event state before anything is committed.
type Posting struct {
	Batch    generic.Batch
	snapshot *PlanSnapshot
}

func NewPosting(snapshot *PlanSnapshot, key, event string, at time.Time) *Posting {
	return &Posting{
		Batch:    generic.Batch{IdempotencyKey: key, Event: event, EffectiveAt: at},
		snapshot: snapshot,
	}
}

// Add appends instructions and applies them to every touched snapshot.
func (p *Posting) Add(instructions ...generic.Instruction) {
	for _, ins := range instructions {
		before := len(p.Batch.Instructions)
		if ins.Denomination == "" {
			ins.Denomination = p.snapshot.denom()
		}
		p.Batch.Append(ins)
		for _, applied := range p.Batch.Instructions[before:] {
			p.snapshot.Balances.Apply(p.snapshot.Plan.ID, applied)
			for _, l := range p.snapshot.Loans {
				l.Balances.Apply(l.Loan.ID, applied)
			}
		}
	}
}

func (p *Posting) Empty() bool { return p.Batch.IsEmpty() }
