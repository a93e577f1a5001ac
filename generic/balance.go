/*
balance.go - Balance replay from instructions

PURPOSE:
  Computes the balances of an account by replaying its instructions. There
  is no separate "balance" column that can drift: balances are always derived
  from the append-only instruction log.

KEY INSIGHT:
  Engines never mutate balances directly. They compute a list of
  instructions against a snapshot, project the snapshot forward with Apply,
  and only then hand the whole list to the ledger. The projection is what
  lets aggregation and paid-off detection see post-event state before commit.

EXAMPLE:
  balances := generic.Replay("loan-1", instructions)
  principal := balances.Get("PRINCIPAL", "GBP")

SEE ALSO:
  - ledger.go: BalanceAt / Balances read path
  - types.go: Instruction and balance convention
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCES - Net debit balance per key
// =============================================================================

// Balances maps a balance key to its net (debit minus credit) amount.
type Balances map[BalanceKey]decimal.Decimal

// Get returns the committed balance of an address in a denomination.
func (b Balances) Get(address Address, denomination Denomination) decimal.Decimal {
	return b[Key(address, denomination)]
}

// Sum adds the committed balances of several addresses.
func (b Balances) Sum(denomination Denomination, addresses ...Address) decimal.Decimal {
	total := decimal.Zero
	for _, a := range addresses {
		total = total.Add(b.Get(a, denomination))
	}
	return total
}

// Apply projects the balances of account forward by the given instructions.
// Instructions that do not touch the account are ignored.
func (b Balances) Apply(account AccountID, instructions ...Instruction) {
	for _, ins := range instructions {
		if ins.Debit.AccountID == account {
			k := ins.DebitKey()
			b[k] = b[k].Add(ins.Amount)
		}
		if ins.Credit.AccountID == account {
			k := ins.CreditKey()
			b[k] = b[k].Sub(ins.Amount)
		}
	}
}

// Replay builds the balances of account from instructions.
func Replay(account AccountID, instructions []Instruction) Balances {
	b := Balances{}
	b.Apply(account, instructions...)
	return b
}

// ReplayAt builds the balances of account from instructions effective at or
// before at. Instructions must be ordered by EffectiveAt.
func ReplayAt(account AccountID, instructions []Instruction, at time.Time) Balances {
	b := Balances{}
	for _, ins := range instructions {
		if ins.EffectiveAt.After(at) {
			break
		}
		b.Apply(account, ins)
	}
	return b
}
