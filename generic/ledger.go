/*
ledger.go - Append-only instruction ledger

PURPOSE:
  The Ledger is the immutable source of truth for all balance changes.
  Every disbursement, accrual, due crystallisation, repayment and tracker
  movement is recorded here. Balances are always computed by replaying
  instructions - there's no separate "balance" field that can get out of sync.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. ATOMIC: A batch is persisted whole or not at all.
  3. IDEMPOTENT: Same batch idempotency key = same batch (no duplicates).
  4. WELL-FORMED: Positive amounts, distinct legs, a denomination.

CORRECTIONS:
  A mistake is never edited. An offsetting instruction (legs swapped) is
  posted instead, so history is preserved.

SEE ALSO:
  - store.go: Low-level persistence interface
  - lending/supervisor.go: Builds batches and posts them
*/
package generic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER - Append-only instruction log
// =============================================================================

// Ledger is the source of truth for all balance changes.
type Ledger interface {
	// Post validates and persists a batch atomically.
	// Fails with ErrDuplicateIdempotencyKey if the key was already used.
	Post(ctx context.Context, batch Batch) error

	// Instructions returns every instruction touching the account, ordered by
	// EffectiveAt.
	Instructions(ctx context.Context, account AccountID) ([]Instruction, error)

	// History returns the instructions touching the account whose
	// EffectiveAt falls within period.
	History(ctx context.Context, account AccountID, period Period) ([]Instruction, error)

	// Balances computes the balances of account at a point in time.
	Balances(ctx context.Context, account AccountID, at time.Time) (Balances, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Post(ctx context.Context, batch Batch) error {
	if batch.IsEmpty() {
		return nil
	}
	if batch.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, batch.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}

	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	for i := range batch.Instructions {
		ins := &batch.Instructions[i]
		if err := Validate(*ins); err != nil {
			return err
		}
		if ins.ID == "" {
			ins.ID = InstructionID(fmt.Sprintf("%s-%03d", batch.ID, i))
		}
		ins.BatchID = batch.ID
		if ins.EffectiveAt.IsZero() {
			ins.EffectiveAt = batch.EffectiveAt
		}
		if ins.Event == "" {
			ins.Event = batch.Event
		}
	}
	return l.Store.AppendBatch(ctx, batch)
}

func (l *DefaultLedger) Instructions(ctx context.Context, account AccountID) ([]Instruction, error) {
	return l.Store.Load(ctx, account)
}

func (l *DefaultLedger) History(ctx context.Context, account AccountID, period Period) ([]Instruction, error) {
	return l.Store.LoadRange(ctx, account, period)
}

func (l *DefaultLedger) Balances(ctx context.Context, account AccountID, at time.Time) (Balances, error) {
	instructions, err := l.Store.Load(ctx, account)
	if err != nil {
		return nil, err
	}
	return ReplayAt(account, instructions, at), nil
}

// Validate checks a single instruction is well formed.
func Validate(ins Instruction) error {
	switch {
	case !ins.Amount.IsPositive():
		return &InvalidInstructionError{Instruction: ins, Reason: "amount must be positive"}
	case ins.Denomination == "":
		return &InvalidInstructionError{Instruction: ins, Reason: "denomination required"}
	case ins.Debit.AccountID == "" || ins.Credit.AccountID == "":
		return &InvalidInstructionError{Instruction: ins, Reason: "both legs need an account"}
	case ins.Debit == ins.Credit:
		return &InvalidInstructionError{Instruction: ins, Reason: "debit and credit legs are identical"}
	}
	return nil
}
