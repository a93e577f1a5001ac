/*
Package generic provides the core double-entry instruction ledger.

PURPOSE:
  This package contains domain-agnostic types and algorithms for moving
  decimal amounts between named balance addresses on accounts. Whether the
  caller is billing a line of credit, accruing interest on a drawdown loan or
  tracking an idempotency counter, the same ledger handles instruction
  validation, atomic batches and balance replay.

KEY CONCEPTS IN THIS FILE (types.go):
  - AccountID / Address: where a balance lives ("loan-1" / "PRINCIPAL")
  - BalanceKey: (address, asset, denomination, phase) - the unit of balance
  - Instruction: one immutable debit/credit movement between two legs
  - Batch: the atomic, idempotent unit that groups instructions

DESIGN PRINCIPLES:
  1. Immutability: Instructions are never modified, only offset
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for account IDs and addresses
  4. Auditability: Every batch has an event label and idempotency key

BALANCE CONVENTION:
  The net balance of an (account, key) pair is the sum of debits minus the
  sum of credits. Owed amounts (principal, dues, penalties) are positive debit
  balances. Trackers are posted against an INTERNAL_CONTRA address of the same
  account so every instruction stays balanced.

USAGE:
  batch := generic.Batch{
      IdempotencyKey: "accrual:loc-1:2020-01-02",
      Event:          "ACCRUAL",
  }
  batch.Append(generic.Between(
      generic.Leg{AccountID: "loan-1", Address: "ACCRUED_INTEREST_RECEIVABLE"},
      generic.Leg{AccountID: "internal", Address: "ACCRUED_INTEREST_RECEIVABLE"},
      decimal.RequireFromString("0.25479"), "GBP"))

SEE ALSO:
  - balance.go: Balances map and replay
  - ledger.go: Ledger interface
  - store.go: Persistence interface
*/
package generic

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type Address string
type Asset string
type Denomination string
type Phase string
type InstructionID string

const (
	DefaultAsset   Asset = "COMMERCIAL_BANK_MONEY"
	PhaseCommitted Phase = "committed"
)

// BalanceKey identifies a single balance on an account.
type BalanceKey struct {
	Address      Address
	Asset        Asset
	Denomination Denomination
	Phase        Phase
}

// Key returns the committed balance key for an address in a denomination.
func Key(address Address, denomination Denomination) BalanceKey {
	return BalanceKey{Address: address, Asset: DefaultAsset, Denomination: denomination, Phase: PhaseCommitted}
}

// =============================================================================
// INSTRUCTION - Atomic movement between two legs
// =============================================================================

// Leg is one side of an instruction.
type Leg struct {
	AccountID AccountID
	Address   Address
}

type Instruction struct {
	ID           InstructionID
	BatchID      string
	Debit        Leg
	Credit       Leg
	Amount       decimal.Decimal
	Asset        Asset
	Denomination Denomination
	Phase        Phase
	EffectiveAt  time.Time
	Event        string
	Reason       string
	Metadata     map[string]string
}

// Transfer builds a committed instruction that debits debitAddress and
// credits creditAddress. Both legs may sit on the same account.
func Transfer(account AccountID, debitAddress, creditAddress Address, amount decimal.Decimal, denomination Denomination) Instruction {
	return Instruction{
		Debit:        Leg{AccountID: account, Address: debitAddress},
		Credit:       Leg{AccountID: account, Address: creditAddress},
		Amount:       amount,
		Asset:        DefaultAsset,
		Denomination: denomination,
		Phase:        PhaseCommitted,
	}
}

// Between builds a committed instruction across two accounts.
func Between(debit, credit Leg, amount decimal.Decimal, denomination Denomination) Instruction {
	return Instruction{
		Debit:        debit,
		Credit:       credit,
		Amount:       amount,
		Asset:        DefaultAsset,
		Denomination: denomination,
		Phase:        PhaseCommitted,
	}
}

// WithReason returns a copy of the instruction carrying a human readable reason.
func (i Instruction) WithReason(reason string) Instruction {
	i.Reason = reason
	return i
}

// DebitKey returns the balance key affected on the debit leg.
func (i Instruction) DebitKey() BalanceKey {
	return BalanceKey{Address: i.Debit.Address, Asset: i.asset(), Denomination: i.Denomination, Phase: i.phase()}
}

// CreditKey returns the balance key affected on the credit leg.
func (i Instruction) CreditKey() BalanceKey {
	return BalanceKey{Address: i.Credit.Address, Asset: i.asset(), Denomination: i.Denomination, Phase: i.phase()}
}

func (i Instruction) asset() Asset {
	if i.Asset == "" {
		return DefaultAsset
	}
	return i.Asset
}

func (i Instruction) phase() Phase {
	if i.Phase == "" {
		return PhaseCommitted
	}
	return i.Phase
}

// =============================================================================
// BATCH - All-or-nothing group of instructions
// =============================================================================

// Batch is applied atomically: either every instruction is persisted or none.
type Batch struct {
	ID             string
	IdempotencyKey string
	EffectiveAt    time.Time
	Event          string
	Instructions   []Instruction
}

// IsEmpty reports whether the batch would move nothing.
func (b Batch) IsEmpty() bool { return len(b.Instructions) == 0 }

// Append adds instructions to the batch. Zero amounts are skipped and
// negative amounts are posted with their legs swapped.
func (b *Batch) Append(instructions ...Instruction) {
	for _, ins := range instructions {
		if ins.Amount.IsZero() {
			continue
		}
		if ins.Amount.IsNegative() {
			ins.Debit, ins.Credit = ins.Credit, ins.Debit
			ins.Amount = ins.Amount.Neg()
		}
		b.Instructions = append(b.Instructions, ins)
	}
}

// MustParseDecimal parses s and panics if it is not a decimal. Callers
// validate untrusted input first.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("generic: invalid decimal %q: %v", s, err))
	}
	return d
}
