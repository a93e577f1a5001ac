package lending

import (
	"context"
	"time"

	"github.com/warp/credit-engine/generic"
)

// FlagService answers whether a named flag is active on an account.
type FlagService interface {
	IsFlagActive(ctx context.Context, account generic.AccountID, flag string, at time.Time) (bool, error)
	// SetFlag activates flag from the given time; a zero until means open-ended.
	SetFlag(ctx context.Context, account generic.AccountID, flag string, from, until time.Time) error
}

// BlockingPolicy records which concerns are suppressed for one invocation.
// It is computed once and threaded through every engine call.
type BlockingPolicy struct {
	Accrual        bool
	DueCalculation bool
	Overdue        bool
	Delinquency    bool
	Penalty        bool
	Notification   bool
	Repayment      bool
}

// ResolveBlocking queries the flag service once per configured flag.
func ResolveBlocking(ctx context.Context, flags FlagService, plan *LineOfCredit, at time.Time) (BlockingPolicy, error) {
	var policy BlockingPolicy
	if flags == nil {
		return policy, nil
	}
	cfg := plan.Product.Flags
	targets := []struct {
		names []string
		dst   *bool
	}{
		{cfg.Accrual, &policy.Accrual},
		{cfg.DueCalculation, &policy.DueCalculation},
		{cfg.Overdue, &policy.Overdue},
		{cfg.Delinquency, &policy.Delinquency},
		{cfg.Penalty, &policy.Penalty},
		{cfg.Notification, &policy.Notification},
		{cfg.Repayment, &policy.Repayment},
	}
	cache := map[string]bool{}
	for _, t := range targets {
		for _, name := range t.names {
			active, seen := cache[name]
			if !seen {
				var err error
				active, err = flags.IsFlagActive(ctx, plan.ID, name, at)
				if err != nil {
					return BlockingPolicy{}, err
				}
				cache[name] = active
			}
			if active {
				*t.dst = true
			}
		}
	}
	return policy, nil
}
