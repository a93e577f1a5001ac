/*
store.go - Persistence interface for instruction batches

PURPOSE:
  Defines the interface between the ledger and the database. The Store
  handles persistence while maintaining append-only semantics. Different
  implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  Store: Core batch persistence (append, load, exists)

TRANSACTIONS:
  Multi-table atomicity (ledger batch plus account records) is a concern
  of the domain store, see lending.Store.WithinTx.

APPEND-ONLY CONTRACT:
  - AppendBatch(): Atomic multi-instruction write
  - NO Update() or Delete() methods exist

IDEMPOTENCY:
  Every batch carries an idempotency key. If the key already exists, the
  write is rejected. This prevents duplicate accruals or due calculations
  when the scheduler re-delivers a job.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - generic/store/memory.go: In-memory for testing
*/
package generic

import "context"

// =============================================================================
// STORE - Interface for instruction persistence (append-only)
// =============================================================================

// Store handles persistence of instruction batches.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
type Store interface {
	// AppendBatch persists a batch atomically. Either all instructions
	// succeed or none do. Returns ErrDuplicateIdempotencyKey if the batch key
	// already exists.
	AppendBatch(ctx context.Context, batch Batch) error

	// Load returns all instructions touching the account, ordered by
	// EffectiveAt then insertion order.
	Load(ctx context.Context, account AccountID) ([]Instruction, error)

	// LoadRange returns the account's instructions effective on any day of period.
	LoadRange(ctx context.Context, account AccountID, period Period) ([]Instruction, error)

	// Exists checks if a batch idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}
