/*
Package factory provides JSON to Go product conversion.

PURPOSE:
  Converts JSON product definitions into lending.ProductParams. Products can
  be configured without code changes: the API accepts them on account
  opening, and the server can load a catalogue from disk.

JSON SCHEMA:
  {
    "credit_limit_applicable_principal": "outstanding",
    "repayment_period": 21,
    "grace_period": 15,
    "overpayment_impact_preference": "reduce_emi",
    "overpayment_fee_rate": "0.01",
    "minimum_loan_principal": "100",
    "maximum_loan_principal": "10000",
    "maximum_number_of_outstanding_loans": 5,
    "late_repayment_fee": "25",
    "penalty_interest_rate": "0.24",
    "days_in_year": "365",
    "schedule": {"accrual": {"hour": 0, "minute": 0, "second": 1}},
    "blocking_flags": {"due_calculation": ["REPAYMENT_HOLIDAY"]}
  }

  Monetary values and rates are strings so they never pass through a
  float.

KEY FEATURES:
  - Validates structure with go-playground/validator tags
  - Sets sensible defaults (precisions, day count, internal accounts)
  - Round-trips through ToJSON for storage and display

USAGE:
  f := factory.NewProductFactory()
  params, err := f.ParseProduct(jsonString)

  // From a preset
  params, err := f.ParseProduct(factory.StandardProductJSON())

SEE ALSO:
  - lending/types.go: ProductParams
  - api/handlers.go: account opening
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/generic"
	"github.com/warp/credit-engine/lending"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ProductJSON is the JSON representation of a product.
type ProductJSON struct {
	CreditLimitApplicablePrincipal  string        `json:"credit_limit_applicable_principal,omitempty" validate:"omitempty,oneof=outstanding original"`
	RepaymentPeriod                 int           `json:"repayment_period" validate:"gte=1,lte=31"`
	GracePeriod                     int           `json:"grace_period" validate:"gte=0,lte=90"`
	OverpaymentImpactPreference     string        `json:"overpayment_impact_preference,omitempty" validate:"omitempty,oneof=reduce_emi reduce_term"`
	OverpaymentFeeRate              string        `json:"overpayment_fee_rate,omitempty" validate:"omitempty,decimal"`
	MinimumLoanPrincipal            string        `json:"minimum_loan_principal,omitempty" validate:"omitempty,decimal"`
	MaximumLoanPrincipal            string        `json:"maximum_loan_principal,omitempty" validate:"omitempty,decimal"`
	MaximumNumberOfOutstandingLoans int           `json:"maximum_number_of_outstanding_loans,omitempty" validate:"gte=0"`
	LateRepaymentFee                string        `json:"late_repayment_fee,omitempty" validate:"omitempty,decimal"`
	PenaltyInterestRate             string        `json:"penalty_interest_rate,omitempty" validate:"omitempty,decimal"`
	IncludeBaseRateInPenaltyRate    bool          `json:"include_base_rate_in_penalty_rate,omitempty"`
	DaysInYear                      string        `json:"days_in_year,omitempty" validate:"omitempty,oneof=actual 365 366 360"`
	AccrualPrecision                int32         `json:"accrual_precision,omitempty" validate:"gte=0,lte=10"`
	ApplicationPrecision            int32         `json:"application_precision,omitempty" validate:"gte=0,lte=10"`
	EMIPrecision                    int32         `json:"emi_precision,omitempty" validate:"gte=0,lte=10"`
	Schedule                        *ScheduleJSON `json:"schedule,omitempty"`
	BlockingFlags                   *FlagsJSON    `json:"blocking_flags,omitempty"`
	InternalAccounts                *AccountsJSON `json:"internal_accounts,omitempty"`
}

// ScheduleJSON holds the time of day each job fires.
type ScheduleJSON struct {
	Accrual          *JobTimeJSON `json:"accrual,omitempty"`
	DueCalculation   *JobTimeJSON `json:"due_calculation,omitempty"`
	OverdueCheck     *JobTimeJSON `json:"overdue_check,omitempty"`
	DelinquencyCheck *JobTimeJSON `json:"delinquency_check,omitempty"`
}

type JobTimeJSON struct {
	Hour   int `json:"hour" validate:"gte=0,lte=23"`
	Minute int `json:"minute" validate:"gte=0,lte=59"`
	Second int `json:"second" validate:"gte=0,lte=59"`
}

// FlagsJSON names the flags that suppress each concern.
type FlagsJSON struct {
	Accrual         []string `json:"accrual,omitempty" validate:"dive,required"`
	DueCalculation  []string `json:"due_calculation,omitempty" validate:"dive,required"`
	Overdue         []string `json:"overdue,omitempty" validate:"dive,required"`
	Delinquency     []string `json:"delinquency,omitempty" validate:"dive,required"`
	Penalty         []string `json:"penalty,omitempty" validate:"dive,required"`
	Notification    []string `json:"notification,omitempty" validate:"dive,required"`
	Repayment       []string `json:"repayment,omitempty" validate:"dive,required"`
	DelinquencyFlag string   `json:"delinquency_flag,omitempty"`
}

type AccountsJSON struct {
	Deposit                   string `json:"deposit,omitempty"`
	AccruedInterestReceivable string `json:"accrued_interest_receivable,omitempty"`
	PenaltyIncome             string `json:"penalty_income,omitempty"`
	LateFeeIncome             string `json:"late_fee_income,omitempty"`
	OverpaymentFeeIncome      string `json:"overpayment_fee_income,omitempty"`
}

// =============================================================================
// PRODUCT FACTORY
// =============================================================================

// ProductFactory converts JSON products to lending.ProductParams.
type ProductFactory struct {
	validate *validator.Validate
}

// NewProductFactory creates a new product factory.
func NewProductFactory() *ProductFactory {
	return &ProductFactory{validate: NewValidator()}
}

// NewValidator returns a validator that also understands the "decimal" tag
// used by ProductJSON. Structs embedding a ProductJSON must be validated
// with it.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("decimal", func(fl validator.FieldLevel) bool {
		_, err := decimal.NewFromString(fl.Field().String())
		return err == nil
	})
	return v
}

// ParseProduct parses a JSON string into product parameters.
func (f *ProductFactory) ParseProduct(jsonStr string) (lending.ProductParams, error) {
	var pj ProductJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return lending.ProductParams{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON validates pj and converts it, filling defaults.
func (f *ProductFactory) FromJSON(pj ProductJSON) (lending.ProductParams, error) {
	if err := f.validate.Struct(pj); err != nil {
		return lending.ProductParams{}, fmt.Errorf("invalid product: %w", describe(err))
	}

	p := lending.ProductParams{
		CreditLimitApplicablePrincipal:  lending.ApplicablePrincipal(pj.CreditLimitApplicablePrincipal),
		RepaymentPeriod:                 pj.RepaymentPeriod,
		GracePeriod:                     pj.GracePeriod,
		OverpaymentImpactPreference:     lending.OverpaymentPreference(pj.OverpaymentImpactPreference),
		OverpaymentFeeRate:              parseDecimal(pj.OverpaymentFeeRate),
		MinimumLoanPrincipal:            parseDecimal(pj.MinimumLoanPrincipal),
		MaximumLoanPrincipal:            parseDecimal(pj.MaximumLoanPrincipal),
		MaximumNumberOfOutstandingLoans: pj.MaximumNumberOfOutstandingLoans,
		LateRepaymentFee:                parseDecimal(pj.LateRepaymentFee),
		PenaltyInterestRate:             parseDecimal(pj.PenaltyInterestRate),
		IncludeBaseRateInPenaltyRate:    pj.IncludeBaseRateInPenaltyRate,
		DaysInYear:                      lending.DaysInYear(pj.DaysInYear),
		AccrualPrecision:                pj.AccrualPrecision,
		ApplicationPrecision:            pj.ApplicationPrecision,
		EMIPrecision:                    pj.EMIPrecision,
	}
	if s := pj.Schedule; s != nil {
		p.Schedule = lending.Schedule{
			Accrual:          jobTime(s.Accrual),
			DueCalculation:   jobTime(s.DueCalculation),
			OverdueCheck:     jobTime(s.OverdueCheck),
			DelinquencyCheck: jobTime(s.DelinquencyCheck),
		}
	}
	if fl := pj.BlockingFlags; fl != nil {
		p.Flags = lending.BlockingFlags{
			Accrual:         fl.Accrual,
			DueCalculation:  fl.DueCalculation,
			Overdue:         fl.Overdue,
			Delinquency:     fl.Delinquency,
			Penalty:         fl.Penalty,
			Notification:    fl.Notification,
			Repayment:       fl.Repayment,
			DelinquencyFlag: fl.DelinquencyFlag,
		}
	}
	if a := pj.InternalAccounts; a != nil {
		p.InternalAccounts = lending.InternalAccounts{
			Deposit:                   generic.AccountID(a.Deposit),
			AccruedInterestReceivable: generic.AccountID(a.AccruedInterestReceivable),
			PenaltyIncome:             generic.AccountID(a.PenaltyIncome),
			LateFeeIncome:             generic.AccountID(a.LateFeeIncome),
			OverpaymentFeeIncome:      generic.AccountID(a.OverpaymentFeeIncome),
		}
	}

	p = p.WithDefaults()
	if p.MaximumLoanPrincipal.IsPositive() && p.MinimumLoanPrincipal.GreaterThan(p.MaximumLoanPrincipal) {
		return lending.ProductParams{}, fmt.Errorf("invalid product: minimum_loan_principal %s exceeds maximum_loan_principal %s",
			p.MinimumLoanPrincipal, p.MaximumLoanPrincipal)
	}
	if err := p.Validate(); err != nil {
		return lending.ProductParams{}, fmt.Errorf("invalid product: %w", err)
	}
	return p, nil
}

// ToJSON converts product parameters back to JSON form.
func (f *ProductFactory) ToJSON(p lending.ProductParams) ProductJSON {
	s := p.Schedule
	return ProductJSON{
		CreditLimitApplicablePrincipal:  string(p.CreditLimitApplicablePrincipal),
		RepaymentPeriod:                 p.RepaymentPeriod,
		GracePeriod:                     p.GracePeriod,
		OverpaymentImpactPreference:     string(p.OverpaymentImpactPreference),
		OverpaymentFeeRate:              p.OverpaymentFeeRate.String(),
		MinimumLoanPrincipal:            p.MinimumLoanPrincipal.String(),
		MaximumLoanPrincipal:            p.MaximumLoanPrincipal.String(),
		MaximumNumberOfOutstandingLoans: p.MaximumNumberOfOutstandingLoans,
		LateRepaymentFee:                p.LateRepaymentFee.String(),
		PenaltyInterestRate:             p.PenaltyInterestRate.String(),
		IncludeBaseRateInPenaltyRate:    p.IncludeBaseRateInPenaltyRate,
		DaysInYear:                      string(p.DaysInYear),
		AccrualPrecision:                p.AccrualPrecision,
		ApplicationPrecision:            p.ApplicationPrecision,
		EMIPrecision:                    p.EMIPrecision,
		Schedule: &ScheduleJSON{
			Accrual:          jobTimeJSON(s.Accrual),
			DueCalculation:   jobTimeJSON(s.DueCalculation),
			OverdueCheck:     jobTimeJSON(s.OverdueCheck),
			DelinquencyCheck: jobTimeJSON(s.DelinquencyCheck),
		},
		BlockingFlags: &FlagsJSON{
			Accrual:         p.Flags.Accrual,
			DueCalculation:  p.Flags.DueCalculation,
			Overdue:         p.Flags.Overdue,
			Delinquency:     p.Flags.Delinquency,
			Penalty:         p.Flags.Penalty,
			Notification:    p.Flags.Notification,
			Repayment:       p.Flags.Repayment,
			DelinquencyFlag: p.Flags.DelinquencyFlag,
		},
		InternalAccounts: &AccountsJSON{
			Deposit:                   string(p.InternalAccounts.Deposit),
			AccruedInterestReceivable: string(p.InternalAccounts.AccruedInterestReceivable),
			PenaltyIncome:             string(p.InternalAccounts.PenaltyIncome),
			LateFeeIncome:             string(p.InternalAccounts.LateFeeIncome),
			OverpaymentFeeIncome:      string(p.InternalAccounts.OverpaymentFeeIncome),
		},
	}
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	return generic.MustParseDecimal(s)
}

func jobTime(j *JobTimeJSON) lending.JobTime {
	if j == nil {
		return lending.JobTime{}
	}
	return lending.JobTime{Hour: j.Hour, Minute: j.Minute, Second: j.Second}
}

func jobTimeJSON(j lending.JobTime) *JobTimeJSON {
	return &JobTimeJSON{Hour: j.Hour, Minute: j.Minute, Second: j.Second}
}

// describe flattens validator errors into "field: rule" pairs.
func describe(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fe.Namespace()+": "+rule)
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}
