/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the lending records from the external API contract. Amounts are decimal
  strings; dates are YYYY-MM-DD, timestamps RFC 3339.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Lines of credit:
    PlanDTO, OpenPlanRequest, AmendCreditLimitRequest, ChangeDueDayRequest

  Loans:
    LoanDTO, DrawdownRequest, CloseLoanRequest

  Repayments:
    RepaymentRequest, RepaymentResponse, AllocationDTO

  Ledger:
    BalancesResponse, BalanceDTO, InstructionDTO

  Jobs:
    RunEventRequest, RunUntilRequest, JobRunDTO, FlagDTO

VALIDATION:
  Request structs carry go-playground/validator tags; handlers run them
  before calling the supervisor. Business rules stay in lending.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/product.go: ProductJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/factory"
	"github.com/warp/credit-engine/generic"
	"github.com/warp/credit-engine/lending"
	"github.com/warp/credit-engine/store/sqlite"
)

// =============================================================================
// LINES OF CREDIT
// =============================================================================

// OpenPlanRequest opens a line of credit. Product takes precedence over
// Preset; with neither the standard preset is used.
type OpenPlanRequest struct {
	ID           string               `json:"id,omitempty"`
	Denomination string               `json:"denomination" validate:"required,len=3"`
	CreditLimit  decimal.Decimal      `json:"credit_limit"`
	DueDay       int                  `json:"due_day" validate:"gte=1,lte=31"`
	Preset       string               `json:"preset,omitempty"`
	Product      *factory.ProductJSON `json:"product,omitempty"`
	OpenedAt     string               `json:"opened_at,omitempty"`
}

type AmendCreditLimitRequest struct {
	CreditLimit decimal.Decimal `json:"credit_limit"`
	At          string          `json:"at,omitempty"`
}

type ChangeDueDayRequest struct {
	DueDay int    `json:"due_day" validate:"gte=1,lte=31"`
	At     string `json:"at,omitempty"`
}

// PlanDTO represents a line of credit in API responses.
type PlanDTO struct {
	ID                  string              `json:"id"`
	Denomination        string              `json:"denomination"`
	CreditLimit         decimal.Decimal     `json:"credit_limit"`
	DueDay              int                 `json:"due_day"`
	Status              string              `json:"status"`
	OpenedAt            time.Time           `json:"opened_at"`
	LastDueDate         *string             `json:"last_due_date,omitempty"`
	NextOverdueDate     *string             `json:"next_overdue_date,omitempty"`
	NextDelinquencyDate *string             `json:"next_delinquency_date,omitempty"`
	Product             factory.ProductJSON `json:"product"`
	Loans               []LoanDTO           `json:"loans,omitempty"`
}

// =============================================================================
// LOANS
// =============================================================================

type DrawdownRequest struct {
	LoanID              string            `json:"loan_id,omitempty"`
	Amount              decimal.Decimal   `json:"amount"`
	Denomination        string            `json:"denomination" validate:"required,len=3"`
	FixedInterestRate   decimal.Decimal   `json:"fixed_interest_rate"`
	Term                int               `json:"term" validate:"gte=1,lte=600"`
	PenaltyInterestRate decimal.Decimal   `json:"penalty_interest_rate"`
	At                  string            `json:"at,omitempty"`
	Details             map[string]string `json:"details,omitempty"`
}

type CloseLoanRequest struct {
	At string `json:"at,omitempty"`
}

// LoanDTO represents a drawdown loan in API responses.
type LoanDTO struct {
	ID                string          `json:"id"`
	PlanID            string          `json:"plan_id"`
	Position          int             `json:"position"`
	OriginalPrincipal decimal.Decimal `json:"original_principal"`
	FixedInterestRate decimal.Decimal `json:"fixed_interest_rate"`
	TotalTerm         int             `json:"total_term"`
	RemainingTerm     int             `json:"remaining_term"`
	StartDate         string          `json:"start_date"`
	Status            string          `json:"status"`
	DueCalcCounter    int             `json:"due_calc_counter"`
	ClosedAt          *string         `json:"closed_at,omitempty"`
}

// =============================================================================
// REPAYMENTS
// =============================================================================

type RepaymentRequest struct {
	Amount         decimal.Decimal   `json:"amount"`
	Denomination   string            `json:"denomination" validate:"required,len=3"`
	At             string            `json:"at,omitempty"`
	Details        map[string]string `json:"details,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

type RepaymentResponse struct {
	Amount      decimal.Decimal `json:"amount"`
	Fees        decimal.Decimal `json:"fees"`
	Allocations []AllocationDTO `json:"allocations"`
	PaidOff     []string        `json:"paid_off"`
}

type AllocationDTO struct {
	Tier    string          `json:"tier"`
	Account string          `json:"account"`
	Address string          `json:"address"`
	Amount  decimal.Decimal `json:"amount"`
	Fee     decimal.Decimal `json:"fee"`
}

// =============================================================================
// LEDGER
// =============================================================================

// BalancesResponse lists the plan's balances and each loan's.
type BalancesResponse struct {
	AsOf    time.Time                  `json:"as_of"`
	Plan    []BalanceDTO               `json:"plan"`
	Loans   map[string][]BalanceDTO    `json:"loans"`
	Derived *lending.DerivedParameters `json:"derived,omitempty"`
}

type BalanceDTO struct {
	Address      string          `json:"address"`
	Denomination string          `json:"denomination"`
	Amount       decimal.Decimal `json:"amount"`
}

type InstructionDTO struct {
	ID           string          `json:"id"`
	BatchID      string          `json:"batch_id"`
	Debit        string          `json:"debit"`
	Credit       string          `json:"credit"`
	Amount       decimal.Decimal `json:"amount"`
	Denomination string          `json:"denomination"`
	EffectiveAt  time.Time       `json:"effective_at"`
	Event        string          `json:"event,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}

// =============================================================================
// JOBS AND FLAGS
// =============================================================================

// RunEventRequest runs a single scheduled job instance.
type RunEventRequest struct {
	Type  string `json:"type" validate:"required,oneof=ACCRUAL DUE_AMOUNT_CALCULATION CHECK_OVERDUE CHECK_DELINQUENCY"`
	RunAt string `json:"run_at" validate:"required"`
}

// RunUntilRequest drives the scheduler up to a point in time.
type RunUntilRequest struct {
	Until string `json:"until" validate:"required"`
}

type RunSummaryDTO struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type JobRunDTO struct {
	EventType   string     `json:"event_type"`
	PlanID      string     `json:"plan_id"`
	RunAt       time.Time  `json:"run_at"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type SetFlagRequest struct {
	Name  string `json:"name" validate:"required"`
	From  string `json:"from" validate:"required"`
	Until string `json:"until,omitempty"`
}

type FlagDTO struct {
	Name        string     `json:"name"`
	ActiveFrom  time.Time  `json:"active_from"`
	ActiveUntil *time.Time `json:"active_until,omitempty"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toPlanDTO(p *lending.LineOfCredit, f *factory.ProductFactory) PlanDTO {
	return PlanDTO{
		ID:                  string(p.ID),
		Denomination:        string(p.Denomination),
		CreditLimit:         p.CreditLimit,
		DueDay:              p.DueDay,
		Status:              string(p.Status),
		OpenedAt:            p.OpenedAt,
		LastDueDate:         datePtr(p.LastDueDate),
		NextOverdueDate:     datePtr(p.NextOverdueDate),
		NextDelinquencyDate: datePtr(p.NextDelinquencyDate),
		Product:             f.ToJSON(p.Product),
	}
}

func toLoanDTO(l *lending.DrawdownLoan) LoanDTO {
	return LoanDTO{
		ID:                string(l.ID),
		PlanID:            string(l.PlanID),
		Position:          l.Position,
		OriginalPrincipal: l.OriginalPrincipal,
		FixedInterestRate: l.FixedInterestRate,
		TotalTerm:         l.TotalTerm,
		RemainingTerm:     l.RemainingTerm,
		StartDate:         generic.FormatDate(l.StartDate),
		Status:            string(l.Status),
		DueCalcCounter:    l.DueCalcCounter,
		ClosedAt:          datePtr(l.ClosedAt),
	}
}

func toRepaymentResponse(res *lending.RepaymentResult) RepaymentResponse {
	resp := RepaymentResponse{
		Amount:      res.Distribution.Amount,
		Fees:        res.Distribution.Fees(),
		Allocations: make([]AllocationDTO, 0, len(res.Distribution.Allocations)),
		PaidOff:     make([]string, 0, len(res.PaidOff)),
	}
	for _, a := range res.Distribution.Allocations {
		resp.Allocations = append(resp.Allocations, AllocationDTO{
			Tier:    string(a.Tier),
			Account: string(a.Account),
			Address: string(a.Address),
			Amount:  a.Amount,
			Fee:     a.Fee,
		})
	}
	for _, id := range res.PaidOff {
		resp.PaidOff = append(resp.PaidOff, string(id))
	}
	return resp
}

// toBalanceDTOs lists the non-zero committed balances, sorted by address.
func toBalanceDTOs(b generic.Balances) []BalanceDTO {
	out := []BalanceDTO{}
	for k, v := range b {
		if v.IsZero() {
			continue
		}
		out = append(out, BalanceDTO{Address: string(k.Address), Denomination: string(k.Denomination), Amount: v})
	}
	sortBalances(out)
	return out
}

func toInstructionDTO(in generic.Instruction) InstructionDTO {
	return InstructionDTO{
		ID:           string(in.ID),
		BatchID:      in.BatchID,
		Debit:        string(in.Debit.AccountID) + "/" + string(in.Debit.Address),
		Credit:       string(in.Credit.AccountID) + "/" + string(in.Credit.Address),
		Amount:       in.Amount,
		Denomination: string(in.Denomination),
		EffectiveAt:  in.EffectiveAt,
		Event:        in.Event,
		Reason:       in.Reason,
	}
}

func toJobRunDTO(r sqlite.JobRun) JobRunDTO {
	return JobRunDTO{
		EventType:   string(r.EventType),
		PlanID:      string(r.PlanID),
		RunAt:       r.RunAt,
		Status:      r.Status,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: timePtr(r.CompletedAt),
	}
}

func toFlagDTO(f sqlite.Flag) FlagDTO {
	return FlagDTO{Name: f.Name, ActiveFrom: f.ActiveFrom, ActiveUntil: timePtr(f.ActiveUntil)}
}

func datePtr(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := generic.FormatDate(t)
	return &s
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
