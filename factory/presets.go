package factory

import (
	"fmt"
)

// StandardProductJSON is a revolving line with a 1% overpayment fee that
// re-amortises after overpayments. Repayment holidays suspend due
// calculation, overdue checks, penalties and repayments.
func StandardProductJSON() string {
	return `{
		"credit_limit_applicable_principal": "outstanding",
		"repayment_period": 21,
		"grace_period": 15,
		"overpayment_impact_preference": "reduce_emi",
		"overpayment_fee_rate": "0.01",
		"minimum_loan_principal": "100",
		"maximum_loan_principal": "25000",
		"maximum_number_of_outstanding_loans": 10,
		"late_repayment_fee": "25",
		"penalty_interest_rate": "0.24",
		"days_in_year": "365",
		"schedule": {
			"accrual": {"hour": 0, "minute": 0, "second": 1},
			"due_calculation": {"hour": 0, "minute": 1, "second": 0},
			"overdue_check": {"hour": 0, "minute": 2, "second": 0},
			"delinquency_check": {"hour": 0, "minute": 3, "second": 0}
		},
		"blocking_flags": {
			"due_calculation": ["REPAYMENT_HOLIDAY"],
			"overdue": ["REPAYMENT_HOLIDAY"],
			"delinquency": ["REPAYMENT_HOLIDAY"],
			"penalty": ["REPAYMENT_HOLIDAY"],
			"repayment": ["REPAYMENT_HOLIDAY"]
		}
	}`
}

// ShortTermProductJSON counts original principal against the limit and
// shortens the term after overpayments.
func ShortTermProductJSON(maxLoans int, lateFee string) string {
	return fmt.Sprintf(`{
		"credit_limit_applicable_principal": "original",
		"repayment_period": 14,
		"grace_period": 7,
		"overpayment_impact_preference": "reduce_term",
		"maximum_number_of_outstanding_loans": %d,
		"late_repayment_fee": %q,
		"penalty_interest_rate": "0.1",
		"include_base_rate_in_penalty_rate": true,
		"days_in_year": "actual"
	}`, maxLoans, lateFee)
}

// Presets lists the built-in products by name.
func Presets() map[string]string {
	return map[string]string{
		"standard":   StandardProductJSON(),
		"short_term": ShortTermProductJSON(3, "10"),
	}
}
