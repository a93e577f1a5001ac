package lending

import (
	"context"
	"time"

	"github.com/warp/credit-engine/generic"
)

// Repository persists account records. Balances are not stored here.
type Repository interface {
	CreateLineOfCredit(ctx context.Context, plan *LineOfCredit) error
	GetLineOfCredit(ctx context.Context, id generic.AccountID) (*LineOfCredit, error)
	// UpdateLineOfCredit fails with generic.ErrConcurrentModification when the
	// stored version differs from plan.Version, and bumps the version.
	UpdateLineOfCredit(ctx context.Context, plan *LineOfCredit) error
	ListLinesOfCredit(ctx context.Context) ([]*LineOfCredit, error)

	CreateLoan(ctx context.Context, loan *DrawdownLoan) error
	GetLoan(ctx context.Context, id generic.AccountID) (*DrawdownLoan, error)
	UpdateLoan(ctx context.Context, loan *DrawdownLoan) error
	// ListLoans returns every loan associated with the plan, closed ones
	// included, in association order.
	ListLoans(ctx context.Context, planID generic.AccountID) ([]*DrawdownLoan, error)
}

// Store is the persistence the supervisor needs: the instruction ledger and
// the records, written in one transaction.
type Store interface {
	generic.Store
	Repository

	WithinTx(ctx context.Context, fn func(Store) error) error
}

// loadSnapshot fetches the plan's open loans and every balance by id.
func loadSnapshot(ctx context.Context, store Store, plan *LineOfCredit, at time.Time) (*PlanSnapshot, error) {
	ledger := generic.NewLedger(store)
	balances, err := ledger.Balances(ctx, plan.ID, at)
	if err != nil {
		return nil, err
	}
	snap := &PlanSnapshot{Plan: plan, Balances: balances}

	loans, err := store.ListLoans(ctx, plan.ID)
	if err != nil {
		return nil, err
	}
	for _, loan := range loans {
		if !loan.IsOpen() {
			continue
		}
		b, err := ledger.Balances(ctx, loan.ID, at)
		if err != nil {
			return nil, err
		}
		snap.Loans = append(snap.Loans, &LoanSnapshot{Loan: loan, Balances: b})
	}
	return snap, nil
}
