/*
ledger_test.go - Instruction ledger invariants

ORGANIZATION:
  1. Idempotency - duplicate batch keys are rejected
  2. Atomicity - a failing batch leaves no trace
  3. Validation - malformed instructions never reach the store
  4. Replay - balances derive from debits minus credits
*/
package generic_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-engine/generic"
	"github.com/warp/credit-engine/generic/store"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

func newLedger() *generic.DefaultLedger {
	return generic.NewLedger(store.NewMemory())
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func disbursement(key string, at time.Time, amount string) generic.Batch {
	b := generic.Batch{IdempotencyKey: key, EffectiveAt: at, Event: "DRAWDOWN"}
	b.Append(generic.Between(
		generic.Leg{AccountID: "loan-1", Address: "PRINCIPAL"},
		generic.Leg{AccountID: "loc-1", Address: "DEFAULT"},
		dec(amount), "GBP"))
	return b
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestLedger_DuplicateIdempotencyKeyRejected(t *testing.T) {
	// GIVEN: a batch keyed "drawdown-1" already posted
	// WHEN: the same key is posted again
	// THEN: ErrDuplicateIdempotencyKey and the balance is unchanged
	ctx := context.Background()
	ledger := newLedger()
	at := generic.Date(2020, time.January, 1)

	require.NoError(t, ledger.Post(ctx, disbursement("drawdown-1", at, "1000")))
	err := ledger.Post(ctx, disbursement("drawdown-1", at, "1000"))
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	balances, err := ledger.Balances(ctx, "loan-1", at)
	require.NoError(t, err)
	assert.True(t, balances.Get("PRINCIPAL", "GBP").Equal(dec("1000")))
}

// =============================================================================
// ATOMICITY
// =============================================================================

func TestLedger_InvalidInstructionRejectsWholeBatch(t *testing.T) {
	// GIVEN: a batch whose second instruction has identical legs
	// WHEN: it is posted
	// THEN: nothing is persisted
	ctx := context.Background()
	ledger := newLedger()
	at := generic.Date(2020, time.January, 1)

	b := disbursement("bad", at, "10")
	b.Instructions = append(b.Instructions, generic.Transfer("loan-1", "EMI", "EMI", dec("1"), "GBP"))

	err := ledger.Post(ctx, b)
	var invalid *generic.InvalidInstructionError
	require.True(t, errors.As(err, &invalid))
	assert.ErrorIs(t, err, generic.ErrInvalidInstruction)

	instructions, err := ledger.Instructions(ctx, "loan-1")
	require.NoError(t, err)
	assert.Empty(t, instructions)
}

func TestLedger_History_FiltersByDay(t *testing.T) {
	// GIVEN: disbursements on Jan 1, Jan 15 (mid-day) and Feb 1
	ctx := context.Background()
	ledger := newLedger()
	jan15 := generic.Date(2020, time.January, 15).Add(13 * time.Hour)
	require.NoError(t, ledger.Post(ctx, disbursement("a", generic.Date(2020, time.January, 1), "100")))
	require.NoError(t, ledger.Post(ctx, disbursement("b", jan15, "50")))
	require.NoError(t, ledger.Post(ctx, disbursement("c", generic.Date(2020, time.February, 1), "25")))

	// WHEN: reading the history for Jan 2 through Jan 15
	period, err := generic.NewPeriod(generic.Date(2020, time.January, 2), generic.Date(2020, time.January, 15))
	require.NoError(t, err)
	history, err := ledger.History(ctx, "loan-1", period)

	// THEN: only the mid-January disbursement is returned
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Amount.Equal(dec("50")))
	assert.True(t, history[0].EffectiveAt.Equal(jan15))
}

func TestMustParseDecimal(t *testing.T) {
	assert.True(t, generic.MustParseDecimal("0.031").Equal(dec("0.031")))
	assert.Panics(t, func() { generic.MustParseDecimal("not-a-number") })
	assert.Panics(t, func() { generic.MustParseDecimal("") })
}

// =============================================================================
// REPLAY
// =============================================================================

func TestBatchAppend_NegativeAmountSwapsLegs(t *testing.T) {
	var b generic.Batch
	b.Append(generic.Transfer("loan-1", "EMI", "INTERNAL_CONTRA", dec("-3.50"), "GBP"))
	b.Append(generic.Transfer("loan-1", "EMI", "INTERNAL_CONTRA", decimal.Zero, "GBP"))

	require.Len(t, b.Instructions, 1)
	assert.Equal(t, generic.Address("INTERNAL_CONTRA"), b.Instructions[0].Debit.Address)
	assert.True(t, b.Instructions[0].Amount.Equal(dec("3.50")))

	balances := generic.Replay("loan-1", b.Instructions)
	assert.True(t, balances.Get("EMI", "GBP").Equal(dec("-3.50")))
}

func TestLedger_BalancesAt_IgnoresLaterInstructions(t *testing.T) {
	// GIVEN: disbursements on Jan 1 and Feb 1
	// WHEN: balances are read for Jan 15
	// THEN: only the first counts, and the parent mirrors it as a credit
	ctx := context.Background()
	ledger := newLedger()
	require.NoError(t, ledger.Post(ctx, disbursement("d1", generic.Date(2020, time.January, 1), "100")))
	require.NoError(t, ledger.Post(ctx, disbursement("d2", generic.Date(2020, time.February, 1), "50")))

	loan, err := ledger.Balances(ctx, "loan-1", generic.Date(2020, time.January, 15))
	require.NoError(t, err)
	assert.True(t, loan.Get("PRINCIPAL", "GBP").Equal(dec("100")))

	parent, err := ledger.Balances(ctx, "loc-1", generic.Date(2020, time.March, 1))
	require.NoError(t, err)
	assert.True(t, parent.Get("DEFAULT", "GBP").Equal(dec("-150")))
}

// =============================================================================
// CALENDAR
// =============================================================================

func TestAddMonths_ClampsToMonthEnd(t *testing.T) {
	assert.Equal(t, generic.Date(2020, time.February, 29), generic.AddMonths(generic.Date(2020, time.January, 31), 1))
	assert.Equal(t, generic.Date(2021, time.February, 28), generic.AddMonths(generic.Date(2021, time.January, 31), 1))
	assert.Equal(t, generic.Date(2021, time.January, 5), generic.AddMonths(generic.Date(2020, time.December, 5), 1))
}

func TestDaysInYear(t *testing.T) {
	assert.Equal(t, 366, generic.DaysInYear(2020))
	assert.Equal(t, 365, generic.DaysInYear(2021))
}

func TestPeriod_Days(t *testing.T) {
	p, err := generic.NewPeriod(generic.Date(2020, time.January, 30), generic.Date(2020, time.February, 2))
	require.NoError(t, err)
	assert.Equal(t, 4, p.Len())
	assert.Len(t, p.Days(), 4)
	assert.True(t, p.Contains(generic.Date(2020, time.February, 1).Add(13*time.Hour)))

	_, err = generic.NewPeriod(generic.Date(2020, time.February, 2), generic.Date(2020, time.January, 1))
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
}
