package lending_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-engine/generic"
	"github.com/warp/credit-engine/lending"
	"github.com/warp/credit-engine/notify"
	"github.com/warp/credit-engine/store/sqlite"
)

type harness struct {
	ctx   context.Context
	store *sqlite.Store
	sink  *notify.MemorySink
	sup   *lending.Supervisor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger, _ := test.NewNullLogger()
	sink := notify.NewMemorySink()
	return &harness{
		ctx:   context.Background(),
		store: store,
		sink:  sink,
		sup: lending.NewSupervisor(store,
			lending.WithFlagService(store),
			lending.WithNotificationSink(sink),
			lending.WithLogger(logger)),
	}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (h *harness) open(t *testing.T, limit string, product lending.ProductParams) {
	t.Helper()
	_, err := h.sup.OpenLineOfCredit(h.ctx, lending.OpenRequest{
		ID:           "loc-1",
		Denomination: "GBP",
		CreditLimit:  d(limit),
		DueDay:       5,
		Product:      product,
		OpenedAt:     generic.Date(2020, 1, 1),
	})
	require.NoError(t, err)
}

func (h *harness) drawdown(t *testing.T, id generic.AccountID, amount, rate string) *lending.DrawdownLoan {
	t.Helper()
	loan, err := h.sup.Drawdown(h.ctx, lending.DrawdownRequest{
		PlanID:            "loc-1",
		LoanID:            id,
		Amount:            d(amount),
		Denomination:      "GBP",
		FixedInterestRate: d(rate),
		Term:              12,
		At:                generic.Date(2020, 1, 1),
	})
	require.NoError(t, err)
	return loan
}

// runDays fires every scheduled event for each day in [from, to].
func (h *harness) runDays(t *testing.T, from, to time.Time) {
	t.Helper()
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		for _, kind := range lending.ScheduledEventTypes {
			require.NoError(t, h.sup.HandleEvent(h.ctx, lending.ScheduledEvent{Type: kind, PlanID: "loc-1", RunAt: day}))
		}
	}
}

func (h *harness) balance(t *testing.T, account generic.AccountID, address generic.Address, at time.Time) string {
	t.Helper()
	b, err := h.sup.Balances(h.ctx, account, at)
	require.NoError(t, err)
	return b.Get(address, "GBP").StringFixed(2)
}

func baseProduct() lending.ProductParams {
	return lending.ProductParams{
		RepaymentPeriod:     21,
		GracePeriod:         15,
		LateRepaymentFee:    d("25"),
		PenaltyInterestRate: d("0.24"),
		Flags: lending.BlockingFlags{
			DueCalculation: []string{"REPAYMENT_HOLIDAY"},
			Overdue:        []string{"REPAYMENT_HOLIDAY"},
			Repayment:      []string{"REPAYMENT_HOLIDAY"},
		},
	}
}

func TestSupervisor_FirstCycleDueAmounts(t *testing.T) {
	h := newHarness(t)
	h.open(t, "10000", baseProduct())
	h.drawdown(t, "loan-1", "3000", "0.031")
	assert.Equal(t, "254.22", h.balance(t, "loan-1", lending.AddrEMI, generic.Date(2020, 1, 1)))

	// WHEN: every job runs daily until the first due date
	h.runDays(t, generic.Date(2020, 1, 1), generic.Date(2020, 2, 5))

	// THEN: 35 days of interest (4 of them non-EMI) and the EMI principal fall due
	feb5 := generic.Date(2020, 2, 5)
	assert.Equal(t, "246.32", h.balance(t, "loan-1", lending.AddrPrincipalDue, feb5))
	assert.Equal(t, "8.92", h.balance(t, "loan-1", lending.AddrInterestDue, feb5))
	assert.Equal(t, "2753.68", h.balance(t, "loan-1", lending.AddrPrincipal, feb5))
	assert.Equal(t, "0.00", h.balance(t, "loan-1", lending.AddrAccruedInterest, feb5))
	assert.Equal(t, "246.32", h.balance(t, "loc-1", lending.AddrTotalPrincipalDue, feb5))
	require.NoError(t, h.sup.VerifyAggregation(h.ctx, "loc-1", feb5))

	due := h.sink.OfType(lending.NotifyRepaymentDue)
	require.Len(t, due, 1)
	assert.Equal(t, "255.24", due[0].Fields["repayment_amount"])
	assert.Equal(t, "2020-02-26", due[0].Fields["overdue_date"])

	plan, err := h.sup.LineOfCredit(h.ctx, "loc-1")
	require.NoError(t, err)
	assert.True(t, plan.LastDueDate.Equal(feb5))

	// Re-delivery of the same due calculation changes nothing.
	require.NoError(t, h.sup.HandleEvent(h.ctx, lending.ScheduledEvent{Type: lending.EventDueCalculation, PlanID: "loc-1", RunAt: feb5}))
	assert.Equal(t, "246.32", h.balance(t, "loan-1", lending.AddrPrincipalDue, feb5))
	assert.Len(t, h.sink.OfType(lending.NotifyRepaymentDue), 1)
}

func TestSupervisor_RepaidOnTimeNeverOverdue(t *testing.T) {
	h := newHarness(t)
	h.open(t, "10000", baseProduct())
	h.drawdown(t, "loan-1", "3000", "0.031")
	h.runDays(t, generic.Date(2020, 1, 1), generic.Date(2020, 2, 9))

	res, err := h.sup.Repay(h.ctx, lending.RepaymentRequest{
		PlanID: "loc-1", Amount: d("255.24"), Denomination: "GBP", At: generic.Date(2020, 2, 10),
	})
	require.NoError(t, err)
	assert.True(t, res.Distribution.Fees().IsZero())
	assert.Empty(t, res.PaidOff)

	h.runDays(t, generic.Date(2020, 2, 10), generic.Date(2020, 3, 12))

	mar12 := generic.Date(2020, 3, 12)
	assert.Equal(t, "0.00", h.balance(t, "loan-1", lending.AddrPrincipalOverdue, mar12))
	assert.Equal(t, "0.00", h.balance(t, "loc-1", lending.AddrPenalties, mar12))
	assert.Empty(t, h.sink.OfType(lending.NotifyRepaymentOverdue))
	assert.Empty(t, h.sink.OfType(lending.NotifyDelinquent))
	require.NoError(t, h.sup.VerifyAggregation(h.ctx, "loc-1", mar12))
}

func TestSupervisor_UnpaidDuesBecomeOverdueThenDelinquent(t *testing.T) {
	h := newHarness(t)
	h.open(t, "10000", baseProduct())
	h.drawdown(t, "loan-1", "3000", "0.031")

	// WHEN: nothing is repaid through the repayment and grace periods
	h.runDays(t, generic.Date(2020, 1, 1), generic.Date(2020, 3, 4))

	// THEN: dues aged on Feb 26 with a single late fee
	mar4 := generic.Date(2020, 3, 4)
	assert.Equal(t, "246.32", h.balance(t, "loan-1", lending.AddrPrincipalOverdue, mar4))
	assert.Equal(t, "8.92", h.balance(t, "loan-1", lending.AddrInterestOverdue, mar4))
	assert.Equal(t, "25.00", h.balance(t, "loc-1", lending.AddrPenalties, mar4))
	require.Len(t, h.sink.OfType(lending.NotifyRepaymentOverdue), 1)

	// Penalty interest accrues daily on the overdue balance from Feb 27.
	penalties, err := decimal.NewFromString(h.balance(t, "loan-1", lending.AddrPenalties, mar4))
	require.NoError(t, err)
	assert.True(t, penalties.IsPositive())

	// Grace period ends Mar 12: flag and notification.
	flagged, err := h.store.IsFlagActive(h.ctx, "loc-1", "ACCOUNT_DELINQUENT", generic.Date(2020, 3, 12))
	require.NoError(t, err)
	assert.False(t, flagged)

	h.runDays(t, generic.Date(2020, 3, 5), generic.Date(2020, 3, 12))

	flagged, err = h.store.IsFlagActive(h.ctx, "loc-1", "ACCOUNT_DELINQUENT", generic.Date(2020, 3, 12))
	require.NoError(t, err)
	assert.True(t, flagged)
	delinquent := h.sink.OfType(lending.NotifyDelinquent)
	require.Len(t, delinquent, 1)
	assert.Equal(t, "255.24", delinquent[0].Fields["total_overdue"])
	require.NoError(t, h.sup.VerifyAggregation(h.ctx, "loc-1", generic.Date(2020, 3, 12)))
}

func TestSupervisor_RepaymentHolidayBlocksDueAndRepayment(t *testing.T) {
	h := newHarness(t)
	h.open(t, "10000", baseProduct())
	h.drawdown(t, "loan-1", "3000", "0.031")
	require.NoError(t, h.store.SetFlag(h.ctx, "loc-1", "REPAYMENT_HOLIDAY", generic.Date(2020, 2, 1), generic.Date(2020, 3, 1)))

	h.runDays(t, generic.Date(2020, 1, 1), generic.Date(2020, 2, 5))

	// Interest still accrues, nothing falls due.
	feb5 := generic.Date(2020, 2, 5)
	assert.Equal(t, "0.00", h.balance(t, "loan-1", lending.AddrPrincipalDue, feb5))
	assert.Equal(t, "7.90", h.balance(t, "loan-1", lending.AddrAccruedInterest, feb5))
	assert.Empty(t, h.sink.OfType(lending.NotifyRepaymentDue))

	_, err := h.sup.Repay(h.ctx, lending.RepaymentRequest{
		PlanID: "loc-1", Amount: d("10"), Denomination: "GBP", At: generic.Date(2020, 2, 10),
	})
	var rej *lending.RejectionError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, lending.CodeAccountBlocked, rej.Code)
	assert.Equal(t, "Repayments blocked for this account", rej.Reason)
}

func TestSupervisor_CreditLimitAcrossLoans(t *testing.T) {
	h := newHarness(t)
	h.open(t, "7500", baseProduct())
	h.drawdown(t, "loan-1", "1000", "0.149")
	h.drawdown(t, "loan-2", "3000", "0.031")

	_, err := h.sup.Drawdown(h.ctx, lending.DrawdownRequest{
		PlanID: "loc-1", LoanID: "loan-3", Amount: d("3500.01"), Denomination: "GBP",
		FixedInterestRate: d("0.1"), Term: 12, At: generic.Date(2020, 1, 2),
	})
	require.True(t, lending.IsRejection(err))
	assert.Contains(t, err.Error(), "exceeds the remaining limit of 3500.00")

	loans, err := h.sup.Loans(h.ctx, "loc-1")
	require.NoError(t, err)
	assert.Len(t, loans, 2, "rejected drawdown leaves no loan behind")

	loan := h.drawdown(t, "loan-3", "3500", "0.1")
	assert.Equal(t, 3, loan.Position)

	params, err := h.sup.DerivedParameters(h.ctx, "loc-1", generic.Date(2020, 1, 2))
	require.NoError(t, err)
	assert.True(t, params.TotalAvailableCredit.IsZero())
	assert.Equal(t, "7500", params.TotalOriginalPrincipal.String())
}

func TestSupervisor_PostingToLoanRejected(t *testing.T) {
	h := newHarness(t)
	h.open(t, "10000", baseProduct())
	h.drawdown(t, "loan-1", "1000", "0.149")

	_, err := h.sup.Repay(h.ctx, lending.RepaymentRequest{
		PlanID: "loan-1", Amount: d("10"), Denomination: "GBP", At: generic.Date(2020, 1, 2),
	})
	var rej *lending.RejectionError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, lending.CodeUnsupportedPosting, rej.Code)
}

func TestSupervisor_PayOffAndClose(t *testing.T) {
	h := newHarness(t)
	h.open(t, "10000", baseProduct())
	h.drawdown(t, "loan-1", "1000", "0.149")
	h.drawdown(t, "loan-2", "3000", "0.031")
	h.runDays(t, generic.Date(2020, 1, 1), generic.Date(2020, 1, 20))

	// Closing with money still owed is refused.
	err := h.sup.CloseLoan(h.ctx, "loan-1", generic.Date(2020, 1, 20))
	require.True(t, lending.IsInvariantViolation(err))

	// WHEN: loan-1's early repayment amount is paid, targeted at it
	params, err := h.sup.DerivedParameters(h.ctx, "loc-1", generic.Date(2020, 1, 21))
	require.NoError(t, err)
	amount := params.PerLoanEarlyRepaymentAmount["loan-1"]
	res, err := h.sup.Repay(h.ctx, lending.RepaymentRequest{
		PlanID: "loc-1", Amount: amount, Denomination: "GBP", At: generic.Date(2020, 1, 21),
		Details: map[string]string{lending.DetailTargetAccountID: "loan-1"},
	})
	require.NoError(t, err)

	// THEN: only loan-1 is paid off and it can close
	assert.Equal(t, []generic.AccountID{"loan-1"}, res.PaidOff)
	paid := h.sink.OfType(lending.NotifyLoansPaidOff)
	require.Len(t, paid, 1)
	assert.Equal(t, "loan-1", paid[0].Fields["account_ids"])

	require.NoError(t, h.sup.CloseLoan(h.ctx, "loan-1", generic.Date(2020, 1, 21)))
	jan21 := generic.Date(2020, 1, 21)
	assert.Equal(t, "3000.00", h.balance(t, "loc-1", lending.AddrTotalPrincipal, jan21))
	assert.Equal(t, "3000.00", h.balance(t, "loc-1", lending.AddrTotalOriginalPrincipal, jan21))
	assert.Equal(t, "0.00", h.balance(t, "loc-1", lending.AddrDefault, jan21))
	require.NoError(t, h.sup.VerifyAggregation(h.ctx, "loc-1", jan21))

	// Closing twice is a no-op.
	require.NoError(t, h.sup.CloseLoan(h.ctx, "loan-1", generic.Date(2020, 1, 22)))
}

func TestSupervisor_RepaymentAboveCeilingRejectedWhole(t *testing.T) {
	h := newHarness(t)
	h.open(t, "10000", baseProduct())
	h.drawdown(t, "loan-1", "1000", "0.149")

	_, err := h.sup.Repay(h.ctx, lending.RepaymentRequest{
		PlanID: "loc-1", Amount: d("2000"), Denomination: "GBP", At: generic.Date(2020, 1, 2),
	})
	require.True(t, lending.IsRejection(err))
	assert.Contains(t, err.Error(), "Cannot pay more than is owed")
	assert.Equal(t, "1000.00", h.balance(t, "loan-1", lending.AddrPrincipal, generic.Date(2020, 1, 2)))
}

func TestSupervisor_AmendCreditLimitAndDueDay(t *testing.T) {
	h := newHarness(t)
	h.open(t, "10000", baseProduct())
	h.drawdown(t, "loan-1", "3000", "0.031")

	require.True(t, lending.IsRejection(h.sup.AmendCreditLimit(h.ctx, "loc-1", d("2999"), generic.Date(2020, 1, 2))))
	require.NoError(t, h.sup.AmendCreditLimit(h.ctx, "loc-1", d("5000"), generic.Date(2020, 1, 2)))

	require.True(t, lending.IsRejection(h.sup.ChangeDueDay(h.ctx, "loc-1", 20, generic.Date(2020, 1, 2))))

	h.runDays(t, generic.Date(2020, 1, 1), generic.Date(2020, 2, 5))
	require.NoError(t, h.sup.ChangeDueDay(h.ctx, "loc-1", 20, generic.Date(2020, 2, 6)))

	plan, err := h.sup.LineOfCredit(h.ctx, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, 20, plan.DueDay)
	assert.Equal(t, "5000", plan.CreditLimit.String())
	assert.True(t, plan.NextDueDate(generic.Date(2020, 2, 6)).Equal(generic.Date(2020, 3, 20)))
}

func TestSupervisor_RepaymentDueSummedAcrossLoans(t *testing.T) {
	tests := []struct {
		name          string
		loans         []generic.AccountID
		wantRepayment string
		wantPrincipal string
		wantInterest  string
	}{
		{"one loan", []generic.AccountID{"loan-1"}, "255.24", "246.32", "8.92"},
		{"two loans", []generic.AccountID{"loan-1", "loan-2"}, "510.48", "492.64", "17.84"},
		{"three loans", []generic.AccountID{"loan-1", "loan-2", "loan-3"}, "765.72", "738.96", "26.76"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: 3000 at 3.1% drawn per loan on the same day
			h := newHarness(t)
			h.open(t, "10000", baseProduct())
			for _, id := range tt.loans {
				h.drawdown(t, id, "3000", "0.031")
			}

			// WHEN
			h.runDays(t, generic.Date(2020, 1, 1), generic.Date(2020, 2, 5))

			// THEN: every loan raises the same dues and one notice carries the sum
			feb5 := generic.Date(2020, 2, 5)
			for _, id := range tt.loans {
				assert.Equal(t, "254.22", h.balance(t, id, lending.AddrEMI, feb5), id)
				assert.Equal(t, "246.32", h.balance(t, id, lending.AddrPrincipalDue, feb5), id)
				assert.Equal(t, "8.92", h.balance(t, id, lending.AddrInterestDue, feb5), id)
			}
			assert.Equal(t, tt.wantPrincipal, h.balance(t, "loc-1", lending.AddrTotalPrincipalDue, feb5))

			due := h.sink.OfType(lending.NotifyRepaymentDue)
			require.Len(t, due, 1)
			assert.Equal(t, tt.wantRepayment, due[0].Fields["repayment_amount"])
			assert.Equal(t, tt.wantPrincipal, due[0].Fields["principal_due"])
			assert.Equal(t, tt.wantInterest, due[0].Fields["interest_due"])
			require.NoError(t, h.sup.VerifyAggregation(h.ctx, "loc-1", feb5))
		})
	}
}

func TestSupervisor_PaidOffLoanLeftOutOfRepaymentDue(t *testing.T) {
	h := newHarness(t)
	h.open(t, "10000", baseProduct())
	h.drawdown(t, "loan-1", "1000", "0.149")
	h.drawdown(t, "loan-2", "3000", "0.031")
	h.runDays(t, generic.Date(2020, 1, 1), generic.Date(2020, 1, 20))

	// GIVEN: loan-1 repaid in full on Jan 21 and left open
	jan21 := generic.Date(2020, 1, 21)
	params, err := h.sup.DerivedParameters(h.ctx, "loc-1", jan21)
	require.NoError(t, err)
	res, err := h.sup.Repay(h.ctx, lending.RepaymentRequest{
		PlanID: "loc-1", Amount: params.PerLoanEarlyRepaymentAmount["loan-1"], Denomination: "GBP", At: jan21,
		Details: map[string]string{lending.DetailTargetAccountID: "loan-1"},
	})
	require.NoError(t, err)
	require.Equal(t, []generic.AccountID{"loan-1"}, res.PaidOff)

	// WHEN: the first due date passes
	h.runDays(t, jan21, generic.Date(2020, 2, 5))

	// THEN: only loan-2 is calculated and notified
	due := h.sink.OfType(lending.NotifyRepaymentDue)
	require.Len(t, due, 1)
	assert.Equal(t, "loan-2", due[0].Fields["account_ids"])
	assert.Equal(t, "255.24", due[0].Fields["repayment_amount"])
	feb5 := generic.Date(2020, 2, 5)
	assert.Equal(t, "0.00", h.balance(t, "loan-1", lending.AddrDueCalcCounter, feb5))
	assert.Equal(t, "1.00", h.balance(t, "loan-2", lending.AddrDueCalcCounter, feb5))
	require.NoError(t, h.sup.VerifyAggregation(h.ctx, "loc-1", feb5))
}

func TestSupervisor_OverpaymentFeeCapCascades(t *testing.T) {
	type split struct {
		account         generic.AccountID
		gross, net, fee string
		principalAfter  string
	}
	tests := []struct {
		name        string
		amount      string
		want        []split
		wantFees    string
		wantPaidOff []generic.AccountID
	}{
		{
			name:   "excess over loan-1's cap moves to loan-2",
			amount: "1500",
			want: []split{
				{"loan-1", "931.76", "922.44", "9.32", "0.00"},
				{"loan-2", "568.24", "562.56", "5.68", "2437.44"},
			},
			wantFees:    "15.00",
			wantPaidOff: []generic.AccountID{"loan-1"},
		},
		{
			name:   "within loan-1's cap stays on loan-1",
			amount: "500",
			want: []split{
				{"loan-1", "500.00", "495.00", "5.00", "427.44"},
			},
			wantFees: "5.00",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: nothing due yet, 1% overpayment fee
			product := baseProduct()
			product.OverpaymentFeeRate = d("0.01")
			h := newHarness(t)
			h.open(t, "10000", product)
			h.drawdown(t, "loan-1", "922.44", "0.149")
			h.drawdown(t, "loan-2", "3000", "0.031")
			jan1 := generic.Date(2020, 1, 1)

			// WHEN
			res, err := h.sup.Repay(h.ctx, lending.RepaymentRequest{
				PlanID: "loc-1", Amount: d(tt.amount), Denomination: "GBP", At: jan1,
			})
			require.NoError(t, err)

			// THEN: each loan takes at most principal plus its capped fee
			var got []split
			for _, a := range res.Distribution.Allocations {
				require.Equal(t, lending.TierOverpayment, a.Tier)
				got = append(got, split{
					account:        a.Account,
					gross:          a.Amount.StringFixed(2),
					net:            a.Net.StringFixed(2),
					fee:            a.Fee.StringFixed(2),
					principalAfter: h.balance(t, a.Account, lending.AddrPrincipal, jan1),
				})
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantFees, res.Distribution.Fees().StringFixed(2))
			assert.Equal(t, tt.wantPaidOff, res.PaidOff)
			require.NoError(t, h.sup.VerifyAggregation(h.ctx, "loc-1", jan1))
		})
	}
}

func TestSupervisor_WaterfallExhaustion(t *testing.T) {
	tests := []struct {
		name         string
		amount       func(ceiling decimal.Decimal) decimal.Decimal
		wantRejected bool
		wantPaidOff  []generic.AccountID
	}{
		{
			name:   "dues only",
			amount: func(decimal.Decimal) decimal.Decimal { return d("100") },
		},
		{
			name:   "dues and fee-bearing overpayment",
			amount: func(decimal.Decimal) decimal.Decimal { return d("1000") },
		},
		{
			name:        "everything owed",
			amount:      func(ceiling decimal.Decimal) decimal.Decimal { return ceiling },
			wantPaidOff: []generic.AccountID{"loan-1", "loan-2"},
		},
		{
			name:         "one cent more than everything owed",
			amount:       func(ceiling decimal.Decimal) decimal.Decimal { return ceiling.Add(d("0.01")) },
			wantRejected: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: two loans with dues raised on Feb 5 and accruals since
			product := baseProduct()
			product.OverpaymentFeeRate = d("0.01")
			h := newHarness(t)
			h.open(t, "10000", product)
			h.drawdown(t, "loan-1", "1000", "0.149")
			h.drawdown(t, "loan-2", "3000", "0.031")
			h.runDays(t, generic.Date(2020, 1, 1), generic.Date(2020, 2, 9))

			feb10 := generic.Date(2020, 2, 10)
			params, err := h.sup.DerivedParameters(h.ctx, "loc-1", feb10)
			require.NoError(t, err)
			amount := tt.amount(params.TotalEarlyRepaymentAmount)
			defaultBefore := h.balance(t, "loc-1", lending.AddrDefault, feb10)
			principalBefore := h.balance(t, "loan-2", lending.AddrPrincipal, feb10)

			// WHEN
			res, err := h.sup.Repay(h.ctx, lending.RepaymentRequest{
				PlanID: "loc-1", Amount: amount, Denomination: "GBP", At: feb10,
			})

			// THEN: the whole amount reaches the buckets and nothing is stranded in DEFAULT
			assert.Equal(t, defaultBefore, h.balance(t, "loc-1", lending.AddrDefault, feb10))
			assert.Equal(t, "0.00", h.balance(t, "loc-1", lending.AddrDefault, feb10))
			require.NoError(t, h.sup.VerifyAggregation(h.ctx, "loc-1", feb10))
			if tt.wantRejected {
				require.True(t, lending.IsRejection(err))
				assert.Contains(t, err.Error(), "Cannot pay more than is owed")
				assert.Equal(t, principalBefore, h.balance(t, "loan-2", lending.AddrPrincipal, feb10))
				return
			}
			require.NoError(t, err)
			applied := decimal.Zero
			for _, a := range res.Distribution.Allocations {
				applied = applied.Add(a.Amount)
			}
			assert.True(t, applied.Equal(amount), "applied %s of %s", applied, amount)
			assert.True(t, res.Distribution.Unapplied.IsZero())
			assert.Equal(t, tt.wantPaidOff, res.PaidOff)
		})
	}
}
