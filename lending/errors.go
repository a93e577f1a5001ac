package lending

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/generic"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrRejected wraps every business-rule rejection. Rejections are
	// synchronous and never partially applied.
	ErrRejected = errors.New("posting rejected")

	// ErrInvariant wraps refused operations that would break a ledger invariant.
	ErrInvariant = errors.New("invariant violation")

	// ErrUnsupportedPreference is returned for overpayment preferences other
	// than reduce_emi and reduce_term.
	ErrUnsupportedPreference = errors.New("unsupported overpayment impact preference")

	// ErrPlanNotFound and ErrLoanNotFound wrap generic.ErrAccountNotFound.
	ErrPlanNotFound = fmt.Errorf("line of credit: %w", generic.ErrAccountNotFound)
	ErrLoanNotFound = fmt.Errorf("drawdown loan: %w", generic.ErrAccountNotFound)
)

// =============================================================================
// REJECTIONS
// =============================================================================

type RejectionCode string

const (
	CodeAgainstTerms       RejectionCode = "AGAINST_TERMS_AND_CONDITIONS"
	CodeInsufficientFunds  RejectionCode = "INSUFFICIENT_FUNDS"
	CodeWrongDenomination  RejectionCode = "WRONG_DENOMINATION"
	CodeAccountBlocked     RejectionCode = "AGAINST_ACCOUNT_STATUS"
	CodeUnsupportedPosting RejectionCode = "UNSUPPORTED_POSTING"
)

// RejectionError carries the reason returned to the posting caller. The
// reason always states the bound that was violated.
type RejectionError struct {
	Code   RejectionCode
	Reason string
}

func (e *RejectionError) Error() string { return e.Reason }

func (e *RejectionError) Unwrap() error { return ErrRejected }

func reject(code RejectionCode, format string, args ...any) error {
	return &RejectionError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// =============================================================================
// INVARIANT VIOLATIONS
// =============================================================================

type InvariantError struct {
	Op     string
	Reason string
}

func (e *InvariantError) Error() string { return e.Op + ": " + e.Reason }

func (e *InvariantError) Unwrap() error { return ErrInvariant }

// AggregationMismatchError reports a parent total that differs from the sum
// of its open loans.
type AggregationMismatchError struct {
	PlanID   generic.AccountID
	Address  generic.Address
	Expected decimal.Decimal
	Actual   decimal.Decimal
}

func (e *AggregationMismatchError) Error() string {
	return fmt.Sprintf("plan %s: %s is %s, loans sum to %s", e.PlanID, e.Address, e.Actual, e.Expected)
}

func (e *AggregationMismatchError) Unwrap() error { return ErrInvariant }

// =============================================================================
// HELPERS
// =============================================================================

func IsRejection(err error) bool { return errors.Is(err, ErrRejected) }

func IsInvariantViolation(err error) bool { return errors.Is(err, ErrInvariant) }

// money formats an amount the way rejection reasons and notifications show it.
func money(d decimal.Decimal) string { return d.StringFixed(2) }
