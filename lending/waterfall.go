/*
waterfall.go - Repayment distribution across loans and buckets

PURPOSE:
  Fans one inbound repayment out across the plan's loans in strict priority
  order. Each tier is exhausted across all candidate loans (association
  order) before the next tier starts:

    PENALTIES (parent first, untargeted only, then per loan)
    -> INTEREST_OVERDUE -> PRINCIPAL_OVERDUE
    -> INTEREST_DUE -> PRINCIPAL_DUE
    -> OVERPAYMENT of non-due principal (fee-bearing, capped per loan)
    -> ACCRUED_INTEREST of loans whose principal this payment clears

OVERPAYMENT FEE:
  fee = round(gross * fee_rate), net = gross - fee. The gross applied to a
  loan is capped at principal + round(principal * f / (1 - f)) so fee plus
  net never exceeds the remaining principal; the rest cascades to the next
  loan.

DRY RUN:
  Distribute is pure. The supervisor runs it first and rejects the whole
  posting if anything is left unapplied, so the waterfall never partially
  executes.

SEE ALSO:
  - guard.go: repayment ceiling
  - supervisor.go: Repay
*/
package lending

import (
	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/generic"
)

type Tier string

const (
	TierPenalties        Tier = "PENALTIES"
	TierInterestOverdue  Tier = "INTEREST_OVERDUE"
	TierPrincipalOverdue Tier = "PRINCIPAL_OVERDUE"
	TierInterestDue      Tier = "INTEREST_DUE"
	TierPrincipalDue     Tier = "PRINCIPAL_DUE"
	TierOverpayment      Tier = "OVERPAYMENT"
	TierAccruedInterest  Tier = "ACCRUED_INTEREST"
)

// bucketTiers pay down a single address each.
var bucketTiers = []struct {
	Tier    Tier
	Address generic.Address
}{
	{TierPenalties, AddrPenalties},
	{TierInterestOverdue, AddrInterestOverdue},
	{TierPrincipalOverdue, AddrPrincipalOverdue},
	{TierInterestDue, AddrInterestDue},
	{TierPrincipalDue, AddrPrincipalDue},
}

// Allocation is the part of a repayment taken by one loan in one tier.
// Amount is what the repayment pays; for overpayments Net reaches
// principal and Fee is income; for accrued interest EMIAccrued and
// NonEMIAccrued are the exact balances cleared.
type Allocation struct {
	Tier          Tier
	Account       generic.AccountID
	Address       generic.Address
	Amount        decimal.Decimal
	Net           decimal.Decimal
	Fee           decimal.Decimal
	EMIAccrued    decimal.Decimal
	NonEMIAccrued decimal.Decimal
}

type Distribution struct {
	Amount      decimal.Decimal
	Allocations []Allocation
	Unapplied   decimal.Decimal
}

func (d Distribution) Fees() decimal.Decimal {
	total := decimal.Zero
	for _, a := range d.Allocations {
		total = total.Add(a.Fee)
	}
	return total
}

// Overpaid returns the net overpayment credited to each loan.
func (d Distribution) Overpaid() map[generic.AccountID]decimal.Decimal {
	out := map[generic.AccountID]decimal.Decimal{}
	for _, a := range d.Allocations {
		if a.Tier == TierOverpayment {
			out[a.Account] = out[a.Account].Add(a.Net)
		}
	}
	return out
}

// RepaymentDistributor computes the waterfall.
type RepaymentDistributor struct{}

func (RepaymentDistributor) Distribute(snap *PlanSnapshot, amount decimal.Decimal, intent PostingIntent) Distribution {
	denom := snap.denom()
	params := snap.Plan.Product
	remaining := amount
	dist := Distribution{Amount: amount}

	candidates := snap.Loans
	if intent.Kind == IntentTargetedRepayment {
		candidates = nil
		if l := snap.Loan(intent.Target); l != nil {
			candidates = []*LoanSnapshot{l}
		}
	}

	take := func(tier Tier, account generic.AccountID, address generic.Address, owed decimal.Decimal) {
		if !remaining.IsPositive() || !owed.IsPositive() {
			return
		}
		paid := decimal.Min(remaining, owed)
		remaining = remaining.Sub(paid)
		dist.Allocations = append(dist.Allocations, Allocation{Tier: tier, Account: account, Address: address, Amount: paid})
	}

	if intent.Kind != IntentTargetedRepayment {
		take(TierPenalties, snap.Plan.ID, AddrPenalties, snap.get(AddrPenalties))
	}
	for _, t := range bucketTiers {
		for _, l := range candidates {
			take(t.Tier, l.Loan.ID, t.Address, l.get(t.Address, denom))
		}
	}

	// Principal left on each loan after the overpayment tier.
	principalLeft := map[generic.AccountID]decimal.Decimal{}
	for _, l := range candidates {
		principal := l.get(AddrPrincipal, denom)
		principalLeft[l.Loan.ID] = principal
		if !remaining.IsPositive() || !principal.IsPositive() {
			continue
		}
		gross := decimal.Min(remaining, principal.Add(MaximumOverpaymentFee(principal, params.OverpaymentFeeRate, params.ApplicationPrecision)))
		fee := OverpaymentFee(gross, params.OverpaymentFeeRate, params.ApplicationPrecision)
		net := gross.Sub(fee)
		if net.GreaterThan(principal) {
			net = principal
			fee = gross.Sub(principal)
		}
		remaining = remaining.Sub(gross)
		principalLeft[l.Loan.ID] = principal.Sub(net)
		dist.Allocations = append(dist.Allocations, Allocation{
			Tier: TierOverpayment, Account: l.Loan.ID, Address: AddrPrincipal,
			Amount: gross, Net: net, Fee: fee,
		})
	}

	for _, l := range candidates {
		if !remaining.IsPositive() || !principalLeft[l.Loan.ID].IsZero() {
			continue
		}
		emi := l.get(AddrAccruedInterest, denom)
		nonEMI := l.get(AddrNonEMIAccrued, denom)
		collectable := emi.Add(nonEMI).Round(params.ApplicationPrecision)
		if !collectable.IsPositive() {
			continue
		}
		a := Allocation{Tier: TierAccruedInterest, Account: l.Loan.ID, Address: AddrAccruedInterest}
		if remaining.GreaterThanOrEqual(collectable) {
			a.Amount, a.EMIAccrued, a.NonEMIAccrued = collectable, emi, nonEMI
		} else {
			// Partial collection clears non-EMI interest first, no rounding settlement.
			a.Amount = remaining
			a.NonEMIAccrued = decimal.Min(remaining, decimal.Max(nonEMI, decimal.Zero))
			a.EMIAccrued = decimal.Min(remaining.Sub(a.NonEMIAccrued), decimal.Max(emi, decimal.Zero))
		}
		remaining = remaining.Sub(a.Amount)
		dist.Allocations = append(dist.Allocations, a)
	}

	dist.Unapplied = remaining
	return dist
}

// Instructions turns a distribution into ledger instructions: the deposit
// funds the parent DEFAULT address, which then pays each bucket.
func (d Distribution) Instructions(plan *LineOfCredit) []generic.Instruction {
	denom := plan.Denomination
	accounts := plan.Product.InternalAccounts
	parent := leg(plan.ID, AddrDefault)

	out := []generic.Instruction{
		generic.Between(internal(accounts.Deposit), parent, d.Amount, denom).WithReason("repayment received"),
	}
	for _, a := range d.Allocations {
		switch a.Tier {
		case TierOverpayment:
			out = append(out,
				generic.Between(parent, leg(a.Account, AddrPrincipal), a.Net, denom).WithReason("overpayment"),
				generic.Between(parent, internal(accounts.OverpaymentFeeIncome), a.Fee, denom).WithReason("overpayment fee"),
				tracker(a.Account, AddrOverpayment, a.Net, denom),
				tracker(a.Account, AddrOverpaymentSince, a.Net, denom),
			)
		case TierAccruedInterest:
			out = append(out,
				generic.Between(parent, leg(a.Account, AddrAccruedInterest), a.EMIAccrued, denom).WithReason("accrued interest repayment"),
				generic.Between(parent, leg(a.Account, AddrNonEMIAccrued), a.NonEMIAccrued, denom).WithReason("accrued interest repayment"),
				generic.Between(parent, internal(accounts.AccruedInterestReceivable),
					a.Amount.Sub(a.EMIAccrued).Sub(a.NonEMIAccrued), denom).WithReason("accrued interest rounding"),
			)
		default:
			out = append(out, generic.Between(parent, leg(a.Account, a.Address), a.Amount, denom).WithReason("repayment of "+string(a.Tier)))
		}
	}
	return out
}

// IsPaidOff reports whether a loan owes nothing on the addresses that make it
// fully paid.
func IsPaidOff(l *LoanSnapshot, denom generic.Denomination) bool {
	for _, a := range []generic.Address{
		AddrPrincipal, AddrPrincipalDue, AddrInterestDue,
		AddrPrincipalOverdue, AddrInterestOverdue, AddrPenalties,
	} {
		if !l.get(a, denom).IsZero() {
			return false
		}
	}
	return true
}

// clearTrackers zeroes the schedule trackers of a loan that has been paid off.
func clearTrackers(p *Posting, l *LoanSnapshot, denom generic.Denomination) {
	for _, a := range []generic.Address{AddrEMI, AddrOverpayment, AddrEMIPrincipalExcess, AddrOverpaymentSince} {
		p.Add(tracker(l.Loan.ID, a, l.get(a, denom).Neg(), denom))
	}
}
