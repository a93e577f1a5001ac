package lending

import (
	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/generic"
)

// =============================================================================
// LOAN ADDRESSES
// =============================================================================

const (
	AddrPrincipal          generic.Address = "PRINCIPAL"
	AddrEMI                generic.Address = "EMI"
	AddrPrincipalDue       generic.Address = "PRINCIPAL_DUE"
	AddrInterestDue        generic.Address = "INTEREST_DUE"
	AddrPrincipalOverdue   generic.Address = "PRINCIPAL_OVERDUE"
	AddrInterestOverdue    generic.Address = "INTEREST_OVERDUE"
	AddrPenalties          generic.Address = "PENALTIES"
	AddrOverpayment        generic.Address = "OVERPAYMENT"
	AddrAccruedInterest    generic.Address = "ACCRUED_INTEREST_RECEIVABLE"
	AddrNonEMIAccrued      generic.Address = "NON_EMI_ACCRUED_INTEREST_RECEIVABLE"
	AddrExpectedInterest   generic.Address = "ACCRUED_EXPECTED_INTEREST"
	AddrEMIPrincipalExcess generic.Address = "EMI_PRINCIPAL_EXCESS"
	AddrOverpaymentSince   generic.Address = "OVERPAYMENT_SINCE_PREV_DUE_AMOUNT_CALC_TRACKER"
	AddrDueCalcCounter     generic.Address = "DUE_CALCULATION_EVENT_COUNTER"
	AddrInternalContra     generic.Address = "INTERNAL_CONTRA"
)

// =============================================================================
// PARENT ADDRESSES
// =============================================================================

const (
	AddrDefault                generic.Address = "DEFAULT"
	AddrTotalPrincipal         generic.Address = "TOTAL_PRINCIPAL"
	AddrTotalEMI               generic.Address = "TOTAL_EMI"
	AddrTotalPrincipalDue      generic.Address = "TOTAL_PRINCIPAL_DUE"
	AddrTotalInterestDue       generic.Address = "TOTAL_INTEREST_DUE"
	AddrTotalPrincipalOverdue  generic.Address = "TOTAL_PRINCIPAL_OVERDUE"
	AddrTotalInterestOverdue   generic.Address = "TOTAL_INTEREST_OVERDUE"
	AddrTotalAccruedInterest   generic.Address = "TOTAL_ACCRUED_INTEREST_RECEIVABLE"
	AddrTotalOriginalPrincipal generic.Address = "TOTAL_ORIGINAL_PRINCIPAL"
	AddrTotalPenalties         generic.Address = "TOTAL_PENALTIES"
)

// aggregated maps each parent total to the loan address it mirrors.
// TOTAL_ORIGINAL_PRINCIPAL is sourced from the loan record instead.
var aggregated = []struct {
	Total generic.Address
	Loan  generic.Address
}{
	{AddrTotalPrincipal, AddrPrincipal},
	{AddrTotalEMI, AddrEMI},
	{AddrTotalPrincipalDue, AddrPrincipalDue},
	{AddrTotalInterestDue, AddrInterestDue},
	{AddrTotalPrincipalOverdue, AddrPrincipalOverdue},
	{AddrTotalInterestOverdue, AddrInterestOverdue},
	{AddrTotalAccruedInterest, AddrAccruedInterest},
	{AddrTotalPenalties, AddrPenalties},
}

// closureAddresses must all be zero before a loan may close.
var closureAddresses = []generic.Address{
	AddrPrincipal, AddrEMI, AddrPrincipalDue, AddrInterestDue,
	AddrPrincipalOverdue, AddrInterestOverdue, AddrPenalties,
	AddrOverpayment, AddrAccruedInterest, AddrNonEMIAccrued,
}

// =============================================================================
// INSTRUCTION HELPERS
// =============================================================================

// tracker moves a same-account tracker address against INTERNAL_CONTRA.
// Negative deltas are posted reversed by Batch.Append.
func tracker(account generic.AccountID, address generic.Address, delta decimal.Decimal, denom generic.Denomination) generic.Instruction {
	return generic.Transfer(account, address, AddrInternalContra, delta, denom)
}

// rebalance moves amount from one address to another on the same account:
// debit to, credit from.
func rebalance(account generic.AccountID, from, to generic.Address, amount decimal.Decimal, denom generic.Denomination) generic.Instruction {
	return generic.Transfer(account, to, from, amount, denom)
}

func leg(account generic.AccountID, address generic.Address) generic.Leg {
	return generic.Leg{AccountID: account, Address: address}
}

func internal(account generic.AccountID) generic.Leg {
	return generic.Leg{AccountID: account, Address: AddrDefault}
}
