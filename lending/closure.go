package lending

import (
	"strings"

	"github.com/warp/credit-engine/generic"
)

// CheckClosure refuses to close a loan while any balance, accrued-interest
// dust included, is non-zero.
func CheckClosure(l *LoanSnapshot, denom generic.Denomination) error {
	var open []string
	for _, a := range closureAddresses {
		if v := l.get(a, denom); !v.IsZero() {
			open = append(open, string(a)+"="+v.String())
		}
	}
	if len(open) == 0 {
		return nil
	}
	return &InvariantError{
		Op:     "close loan " + string(l.Loan.ID),
		Reason: "outstanding balances must be cleared first: " + strings.Join(open, ", "),
	}
}
