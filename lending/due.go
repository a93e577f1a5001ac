package lending

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/generic"
)

// =============================================================================
// DUE CALCULATION ENGINE - Monthly crystallisation per loan
// =============================================================================

// DueCalculationEngine runs on the plan's due day. For each open loan, in
// association order:
//
//  1. skip loans younger than one calendar month, and paid-off loans that
//     are not closed yet
//  2. skip loans already calculated for this run (LastDueCalcAt >= runAt)
//  3. age the prior cycle's unpaid dues into overdue
//  4. re-amortise (reduce_emi) or shorten the term (reduce_term) when an
//     overpayment happened since the previous calculation
//  5. crystallise accrued interest and the principal portion of the EMI
//  6. bump DUE_CALCULATION_EVENT_COUNTER and the loan's DueCalcCounter
type DueCalculationEngine struct{}

type DueResult struct {
	Processed       []generic.AccountID
	PrincipalDue    decimal.Decimal
	InterestDue     decimal.Decimal
	AgedPrincipal   decimal.Decimal
	AgedInterest    decimal.Decimal
	DueDate         time.Time
	NextOverdueDate time.Time
}

// RepaymentAmount is the total newly due this cycle.
func (r DueResult) RepaymentAmount() decimal.Decimal { return r.PrincipalDue.Add(r.InterestDue) }

func (DueCalculationEngine) Calculate(p *Posting, runAt time.Time) (DueResult, error) {
	snap := p.snapshot
	plan := snap.Plan
	params := plan.Product
	denom := snap.denom()
	date := generic.Day(runAt)

	result := DueResult{
		PrincipalDue:  decimal.Zero,
		InterestDue:   decimal.Zero,
		AgedPrincipal: decimal.Zero,
		AgedInterest:  decimal.Zero,
		DueDate:       date,
	}

	for _, l := range snap.Loans {
		loan := l.Loan
		if date.Before(generic.AddMonths(loan.StartDate, 1)) || IsPaidOff(l, denom) {
			continue
		}
		if !loan.LastDueCalcAt.IsZero() && !loan.LastDueCalcAt.Before(runAt) {
			continue
		}

		agedPrincipal, agedInterest := ageDues(p, l, denom)
		result.AgedPrincipal = result.AgedPrincipal.Add(agedPrincipal)
		result.AgedInterest = result.AgedInterest.Add(agedInterest)

		if err := applyOverpaymentImpact(p, l, params, denom); err != nil {
			return DueResult{}, err
		}

		split := crystallise(p, l, params, denom)
		result.PrincipalDue = result.PrincipalDue.Add(split.PrincipalDue)
		result.InterestDue = result.InterestDue.Add(split.InterestDue)

		p.Add(tracker(loan.ID, AddrDueCalcCounter, one, denom))
		loan.DueCalcCounter++
		loan.LastDueCalcAt = runAt
		if split.PrincipalDue.IsPositive() && loan.RemainingTerm > 0 {
			loan.RemainingTerm--
		}
		result.Processed = append(result.Processed, loan.ID)
	}

	if len(result.Processed) > 0 {
		plan.LastDueDate = date
		plan.NextOverdueDate = date.AddDate(0, 0, params.RepaymentPeriod)
		result.NextOverdueDate = plan.NextOverdueDate
	}
	return result, nil
}

// ageDues moves whatever is left of PRINCIPAL_DUE and INTEREST_DUE, whole,
// into the overdue buckets.
func ageDues(p *Posting, l *LoanSnapshot, denom generic.Denomination) (principal, interest decimal.Decimal) {
	principal = decimal.Max(l.get(AddrPrincipalDue, denom), decimal.Zero)
	interest = decimal.Max(l.get(AddrInterestDue, denom), decimal.Zero)
	p.Add(
		rebalance(l.Loan.ID, AddrPrincipalDue, AddrPrincipalOverdue, principal, denom).WithReason("unpaid principal due"),
		rebalance(l.Loan.ID, AddrInterestDue, AddrInterestOverdue, interest, denom).WithReason("unpaid interest due"),
	)
	return principal, interest
}

func applyOverpaymentImpact(p *Posting, l *LoanSnapshot, params ProductParams, denom generic.Denomination) error {
	since := l.get(AddrOverpaymentSince, denom)
	if since.IsZero() {
		return nil
	}
	loan := l.Loan
	principal := l.get(AddrPrincipal, denom)
	switch params.OverpaymentImpactPreference {
	case ReduceEMI:
		emi := ReAmortize(principal, loan.FixedInterestRate, loan.RemainingTerm, params.EMIPrecision)
		p.Add(tracker(loan.ID, AddrEMI, emi.Sub(l.get(AddrEMI, denom)), denom).WithReason("re-amortised after overpayment"))
	case ReduceTerm:
		loan.RemainingTerm = TermForPrincipal(principal, loan.FixedInterestRate, l.get(AddrEMI, denom), loan.RemainingTerm, params.EMIPrecision)
	default:
		return ErrUnsupportedPreference
	}
	p.Add(tracker(loan.ID, AddrOverpaymentSince, since.Neg(), denom))
	return nil
}

// crystallise turns the cycle's accrued interest into INTEREST_DUE and the
// principal portion of the EMI into PRINCIPAL_DUE. The sub-cent rounding
// remainder is settled against the accrued-interest internal account so the
// accrued addresses end at exactly zero.
func crystallise(p *Posting, l *LoanSnapshot, params ProductParams, denom generic.Denomination) DueSplit {
	loan := l.Loan
	emiInterest := l.get(AddrAccruedInterest, denom)
	nonEMIInterest := l.get(AddrNonEMIAccrued, denom)
	total := emiInterest.Add(nonEMIInterest)

	split := SplitDue(
		l.get(AddrEMI, denom),
		emiInterest,
		total,
		l.get(AddrPrincipal, denom),
		loan.RemainingTerm <= 1,
		params.ApplicationPrecision,
	)

	p.Add(
		rebalance(loan.ID, AddrAccruedInterest, AddrInterestDue, emiInterest, denom),
		rebalance(loan.ID, AddrNonEMIAccrued, AddrInterestDue, nonEMIInterest, denom),
		generic.Between(
			leg(loan.ID, AddrInterestDue),
			internal(params.InternalAccounts.AccruedInterestReceivable),
			split.InterestDue.Sub(total), denom).WithReason("interest due rounding"),
		rebalance(loan.ID, AddrPrincipal, AddrPrincipalDue, split.PrincipalDue, denom),
	)

	if expected := l.get(AddrExpectedInterest, denom); !expected.IsZero() {
		excess := PrincipalExcess(expected, emiInterest, params.ApplicationPrecision)
		p.Add(
			tracker(loan.ID, AddrEMIPrincipalExcess, excess, denom),
			tracker(loan.ID, AddrExpectedInterest, expected.Neg(), denom),
		)
	}
	return split
}

// =============================================================================
// DUE DAY CHANGE
// =============================================================================

// ChangeDueDay moves the plan's due day. It is only accepted once a due
// calculation has happened, and takes effect from the first date with the new
// day that lies in a month after the last due date and after the change
// itself. It is never retroactive.
func (p *LineOfCredit) ChangeDueDay(day int, at time.Time) error {
	if day < 1 || day > 31 {
		return reject(CodeAgainstTerms, "Due amount calculation day must be between 1 and 31, got %d", day)
	}
	if !p.HasHadDueEvent() {
		return reject(CodeAgainstTerms, "It is not possible to change the due amount calculation day until after the first due amount calculation date")
	}
	if day == p.DueDay {
		return nil
	}
	p.DueDay = day
	p.DueDayChangedAt = at
	return nil
}
