package lending

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/generic"
)

// =============================================================================
// ACCRUAL ENGINE - Daily simple interest and penalty interest
// =============================================================================

// AccrualEngine posts one day of interest per open loan. The accrual run on
// date E covers the day ending at E.
//
// Interest accrued up to one month before a loan's first due date is the
// extra length of a first cycle longer than a month; it posts to
// NON_EMI_ACCRUED_INTEREST_RECEIVABLE and is excluded from the EMI split.
type AccrualEngine struct{}

type AccrualResult struct {
	Loans    int
	Interest decimal.Decimal
	Penalty  decimal.Decimal
}

func (AccrualEngine) Accrue(p *Posting, date time.Time, blocking BlockingPolicy) AccrualResult {
	snap := p.snapshot
	plan := snap.Plan
	params := plan.Product
	denom := snap.denom()
	date = generic.Day(date)
	days := params.DaysInYear.Days(date)

	result := AccrualResult{Interest: decimal.Zero, Penalty: decimal.Zero}
	for _, l := range snap.Loans {
		loan := l.Loan
		if !date.After(generic.Day(loan.StartDate)) {
			continue
		}
		if !loan.LastAccrualAt.IsZero() && !generic.Day(loan.LastAccrualAt).Before(date) {
			continue
		}
		loan.LastAccrualAt = date
		result.Loans++

		if !blocking.Accrual {
			principal := l.get(AddrPrincipal, denom).Add(l.get(AddrPrincipalDue, denom))
			daily := DailyInterest(principal, loan.FixedInterestRate, days, params.AccrualPrecision)

			address := AddrAccruedInterest
			if isNonEMIDay(loan, plan.DueDay, date) {
				address = AddrNonEMIAccrued
			}
			p.Add(generic.Between(
				leg(loan.ID, address),
				internal(params.InternalAccounts.AccruedInterestReceivable),
				daily, denom).WithReason("daily interest accrual"))
			result.Interest = result.Interest.Add(daily)

			if overpaid := l.get(AddrOverpayment, denom); overpaid.IsPositive() && address == AddrAccruedInterest {
				expected := DailyInterest(principal.Add(overpaid), loan.FixedInterestRate, days, params.AccrualPrecision)
				p.Add(tracker(loan.ID, AddrExpectedInterest, expected, denom))
			}
		}

		if !blocking.Penalty {
			penalty := penaltyInterest(l, params, denom, days)
			if penalty.IsPositive() {
				p.Add(generic.Between(
					leg(loan.ID, AddrPenalties),
					internal(params.InternalAccounts.PenaltyIncome),
					penalty, denom).WithReason("penalty interest accrual"))
				result.Penalty = result.Penalty.Add(penalty)
			}
		}
	}
	return result
}

// isNonEMIDay reports whether an accrual on date belongs to the extra days of
// the loan's first cycle.
func isNonEMIDay(loan *DrawdownLoan, dueDay int, date time.Time) bool {
	if loan.DueCalcCounter > 0 {
		return false
	}
	return !date.After(generic.AddMonths(loan.FirstDueDate(dueDay), -1))
}

// penaltyInterest is one day of penalty interest on the loan's overdue
// balance, at application precision.
func penaltyInterest(l *LoanSnapshot, params ProductParams, denom generic.Denomination, days int64) decimal.Decimal {
	overdue := l.get(AddrPrincipalOverdue, denom).Add(l.get(AddrInterestOverdue, denom))
	rate := l.Loan.PenaltyInterestRate
	if rate.IsZero() {
		rate = params.PenaltyInterestRate
	}
	if params.IncludeBaseRateInPenaltyRate {
		rate = rate.Add(l.Loan.FixedInterestRate)
	}
	return DailyInterest(overdue, rate, days, params.ApplicationPrecision)
}
