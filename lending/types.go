/*
Package lending implements the supervisory billing engine for a revolving
line of credit and its drawdown loans.

PURPOSE:
  A line of credit (the parent, or "plan") spawns drawdown loans (children),
  each an independently amortising loan drawn against a shared credit limit.
  This package holds the engines that drive both: daily accrual, monthly due
  calculation, overdue escalation, delinquency detection, penalty interest,
  the repayment waterfall and parent-level aggregation.

KEY CONCEPTS IN THIS FILE (types.go):
  - LineOfCredit: parent account record with first-class schedule state
  - DrawdownLoan: child account record with versioned trackers
  - ProductParams: validated product configuration shared by both
  - PlanSnapshot / LoanSnapshot: balances fetched by id for one event

STATE OWNERSHIP:
  Money lives in the ledger (generic.Ledger), never in these structs.
  The records only hold immutable terms and schedule trackers
  (LastDueDate, DueCalcCounter, LastAccrualAt...). The two are written in
  the same store transaction.

SEE ALSO:
  - addresses.go: balance address names
  - supervisor.go: orchestrates the engines per event
  - generic/: the instruction ledger
*/
package lending

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/generic"
)

// =============================================================================
// PRODUCT PARAMETERS
// =============================================================================

// ApplicablePrincipal selects which principal counts against the credit limit.
type ApplicablePrincipal string

const (
	ApplicableOutstanding ApplicablePrincipal = "outstanding"
	ApplicableOriginal    ApplicablePrincipal = "original"
)

// OverpaymentPreference decides what an overpayment shortens.
type OverpaymentPreference string

const (
	ReduceEMI  OverpaymentPreference = "reduce_emi"
	ReduceTerm OverpaymentPreference = "reduce_term"
)

// DaysInYear is the day-count convention for daily interest.
type DaysInYear string

const (
	DaysActual DaysInYear = "actual"
	Days365    DaysInYear = "365"
	Days366    DaysInYear = "366"
	Days360    DaysInYear = "360"
)

// Days returns the divisor for a daily accrual on date.
func (d DaysInYear) Days(date time.Time) int64 {
	switch d {
	case DaysActual:
		return int64(generic.DaysInYear(date.Year()))
	case Days366:
		return 366
	case Days360:
		return 360
	default:
		return 365
	}
}

// JobTime is the time of day a scheduled job fires.
type JobTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	Second int `json:"second"`
}

// On returns the job's timestamp on the given day.
func (j JobTime) On(day time.Time) time.Time {
	d := generic.Day(day)
	return time.Date(d.Year(), d.Month(), d.Day(), j.Hour, j.Minute, j.Second, 0, time.UTC)
}

// Schedule holds the time of day of each recurring job.
type Schedule struct {
	Accrual          JobTime `json:"accrual"`
	DueCalculation   JobTime `json:"due_calculation"`
	OverdueCheck     JobTime `json:"overdue_check"`
	DelinquencyCheck JobTime `json:"delinquency_check"`
}

// For returns the time of day of the given job.
func (s Schedule) For(t ScheduledEventType) JobTime {
	switch t {
	case EventDueCalculation:
		return s.DueCalculation
	case EventOverdueCheck:
		return s.OverdueCheck
	case EventDelinquencyCheck:
		return s.DelinquencyCheck
	default:
		return s.Accrual
	}
}

// BlockingFlags names the flags that suppress each concern. A concern is
// blocked when any of its flags is active on the plan.
type BlockingFlags struct {
	Accrual         []string `json:"accrual"`
	DueCalculation  []string `json:"due_calculation"`
	Overdue         []string `json:"overdue"`
	Delinquency     []string `json:"delinquency"`
	Penalty         []string `json:"penalty"`
	Notification    []string `json:"notification"`
	Repayment       []string `json:"repayment"`
	DelinquencyFlag string   `json:"delinquency_flag"`
}

// InternalAccounts are the bank-side accounts that fund and receive flows.
type InternalAccounts struct {
	Deposit                   generic.AccountID `json:"deposit"`
	AccruedInterestReceivable generic.AccountID `json:"accrued_interest_receivable"`
	PenaltyIncome             generic.AccountID `json:"penalty_income"`
	LateFeeIncome             generic.AccountID `json:"late_fee_income"`
	OverpaymentFeeIncome      generic.AccountID `json:"overpayment_fee_income"`
}

type ProductParams struct {
	CreditLimitApplicablePrincipal  ApplicablePrincipal   `json:"credit_limit_applicable_principal"`
	RepaymentPeriod                 int                   `json:"repayment_period"`
	GracePeriod                     int                   `json:"grace_period"`
	OverpaymentImpactPreference     OverpaymentPreference `json:"overpayment_impact_preference"`
	OverpaymentFeeRate              decimal.Decimal       `json:"overpayment_fee_rate"`
	MinimumLoanPrincipal            decimal.Decimal       `json:"minimum_loan_principal"`
	MaximumLoanPrincipal            decimal.Decimal       `json:"maximum_loan_principal"`
	MaximumNumberOfOutstandingLoans int                   `json:"maximum_number_of_outstanding_loans"`
	LateRepaymentFee                decimal.Decimal       `json:"late_repayment_fee"`
	PenaltyInterestRate             decimal.Decimal       `json:"penalty_interest_rate"`
	IncludeBaseRateInPenaltyRate    bool                  `json:"include_base_rate_in_penalty_rate"`
	DaysInYear                      DaysInYear            `json:"days_in_year"`
	AccrualPrecision                int32                 `json:"accrual_precision"`
	ApplicationPrecision            int32                 `json:"application_precision"`
	EMIPrecision                    int32                 `json:"emi_precision"`
	Schedule                        Schedule              `json:"schedule"`
	Flags                           BlockingFlags         `json:"flags"`
	InternalAccounts                InternalAccounts      `json:"internal_accounts"`
}

// WithDefaults fills unset precisions, conventions and internal accounts.
func (p ProductParams) WithDefaults() ProductParams {
	if p.CreditLimitApplicablePrincipal == "" {
		p.CreditLimitApplicablePrincipal = ApplicableOutstanding
	}
	if p.OverpaymentImpactPreference == "" {
		p.OverpaymentImpactPreference = ReduceEMI
	}
	if p.DaysInYear == "" {
		p.DaysInYear = Days365
	}
	if p.AccrualPrecision == 0 {
		p.AccrualPrecision = 5
	}
	if p.ApplicationPrecision == 0 {
		p.ApplicationPrecision = 2
	}
	if p.EMIPrecision == 0 {
		p.EMIPrecision = 2
	}
	if p.Flags.DelinquencyFlag == "" {
		p.Flags.DelinquencyFlag = "ACCOUNT_DELINQUENT"
	}
	ia := &p.InternalAccounts
	if ia.Deposit == "" {
		ia.Deposit = "internal_deposit"
	}
	if ia.AccruedInterestReceivable == "" {
		ia.AccruedInterestReceivable = "internal_accrued_interest_receivable"
	}
	if ia.PenaltyIncome == "" {
		ia.PenaltyIncome = "internal_penalty_interest_income"
	}
	if ia.LateFeeIncome == "" {
		ia.LateFeeIncome = "internal_late_fee_income"
	}
	if ia.OverpaymentFeeIncome == "" {
		ia.OverpaymentFeeIncome = "internal_overpayment_fee_income"
	}
	return p
}

// Validate rejects unsupported enumerations. Struct-level constraints
// (ranges, required fields) are enforced by the factory.
func (p ProductParams) Validate() error {
	switch p.OverpaymentImpactPreference {
	case ReduceEMI, ReduceTerm:
	default:
		return ErrUnsupportedPreference
	}
	switch p.CreditLimitApplicablePrincipal {
	case ApplicableOutstanding, ApplicableOriginal:
	default:
		return &RejectionError{Code: CodeAgainstTerms, Reason: "unsupported credit_limit_applicable_principal " + string(p.CreditLimitApplicablePrincipal)}
	}
	if p.OverpaymentFeeRate.IsNegative() || p.OverpaymentFeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return &RejectionError{Code: CodeAgainstTerms, Reason: "overpayment_fee_rate must be in [0, 1)"}
	}
	return nil
}

// =============================================================================
// ACCOUNT RECORDS
// =============================================================================

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// LineOfCredit is the parent account.
type LineOfCredit struct {
	ID           generic.AccountID
	Denomination generic.Denomination
	CreditLimit  decimal.Decimal
	Product      ProductParams
	DueDay       int
	OpenedAt     time.Time
	Status       Status

	// Schedule state. Zero values mean "not yet".
	DueDayChangedAt     time.Time
	LastDueDate         time.Time
	NextOverdueDate     time.Time
	NextDelinquencyDate time.Time

	Version int
}

// HasHadDueEvent reports whether any due calculation has happened on the plan.
func (p *LineOfCredit) HasHadDueEvent() bool { return !p.LastDueDate.IsZero() }

// IsDueDate reports whether a due calculation should fire on date: the day
// must be the (clamped) due day, in a month after the last due date, and
// strictly after any due-day change.
func (p *LineOfCredit) IsDueDate(date time.Time) bool {
	d := generic.Day(date)
	if d.Day() != generic.ClampDay(d.Year(), d.Month(), p.DueDay) {
		return false
	}
	if !p.LastDueDate.IsZero() && generic.MonthIndex(d) <= generic.MonthIndex(p.LastDueDate) {
		return false
	}
	if !p.DueDayChangedAt.IsZero() && !d.After(generic.Day(p.DueDayChangedAt)) {
		return false
	}
	return true
}

// NextDueDate returns the first due date on or after from.
func (p *LineOfCredit) NextDueDate(from time.Time) time.Time {
	d := generic.Day(from)
	for i := 0; i < 400; i++ {
		if p.IsDueDate(d) {
			return d
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Time{}
}

// DrawdownLoan is a child account.
type DrawdownLoan struct {
	ID                  generic.AccountID
	PlanID              generic.AccountID
	Position            int
	OriginalPrincipal   decimal.Decimal
	FixedInterestRate   decimal.Decimal
	TotalTerm           int
	RemainingTerm       int
	PenaltyInterestRate decimal.Decimal
	StartDate           time.Time
	Status              Status

	DueCalcCounter int
	LastDueCalcAt  time.Time
	LastAccrualAt  time.Time
	ClosedAt       time.Time

	Version int
}

func (l *DrawdownLoan) IsOpen() bool { return l.Status != StatusClosed }

// FirstDueDate is the first date on or after start + 1 month whose day is the
// plan's due day. Accruals up to one month before it are non-EMI interest.
func (l *DrawdownLoan) FirstDueDate(dueDay int) time.Time {
	d := generic.AddMonths(l.StartDate, 1)
	for {
		if d.Day() == generic.ClampDay(d.Year(), d.Month(), dueDay) {
			return d
		}
		d = d.AddDate(0, 0, 1)
	}
}

// =============================================================================
// SNAPSHOTS - Balances re-fetched by id for a single event
// =============================================================================

type LoanSnapshot struct {
	Loan     *DrawdownLoan
	Balances generic.Balances
}

// PlanSnapshot is the input to every engine. Loans are in association order
// and exclude closed loans.
type PlanSnapshot struct {
	Plan     *LineOfCredit
	Balances generic.Balances
	Loans    []*LoanSnapshot
}

func (s *PlanSnapshot) denom() generic.Denomination { return s.Plan.Denomination }

// Loan returns the snapshot of an open loan, or nil.
func (s *PlanSnapshot) Loan(id generic.AccountID) *LoanSnapshot {
	for _, l := range s.Loans {
		if l.Loan.ID == id {
			return l
		}
	}
	return nil
}

func (s *PlanSnapshot) get(address generic.Address) decimal.Decimal {
	return s.Balances.Get(address, s.denom())
}

func (l *LoanSnapshot) get(address generic.Address, denom generic.Denomination) decimal.Decimal {
	return l.Balances.Get(address, denom)
}
