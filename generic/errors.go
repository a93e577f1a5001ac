/*
errors.go - Centralized error types for the generic ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages should wrap these errors with additional context.

ERROR CATEGORIES:
  1. Ledger errors - Batch persistence failures, malformed instructions
  2. Store errors - Database-level failures, missing accounts

USAGE:
  Domain packages treat a duplicate batch as an absorbed retry:

    if errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
        return nil // already applied
    }

SEE ALSO:
  - ledger.go: Uses these errors
  - store.go: Uses these errors
  - lending/errors.go: Business rejections and invariant violations
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when a batch with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvalidInstruction is returned when an instruction is malformed.
	ErrInvalidInstruction = errors.New("invalid instruction")

	// ErrTransactionFailed is returned when a batch cannot be persisted.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidInstructionError provides details about a rejected instruction.
type InvalidInstructionError struct {
	Instruction Instruction
	Reason      string
}

func (e *InvalidInstructionError) Error() string {
	return fmt.Sprintf("invalid instruction %s/%s -> %s/%s (%s): %s",
		e.Instruction.Debit.AccountID, e.Instruction.Debit.Address,
		e.Instruction.Credit.AccountID, e.Instruction.Credit.Address,
		e.Instruction.Amount, e.Reason)
}

func (e *InvalidInstructionError) Unwrap() error {
	return ErrInvalidInstruction
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}
