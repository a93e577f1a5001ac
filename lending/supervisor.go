/*
supervisor.go - Orchestrates the engines for one plan

PURPOSE:
  The Supervisor is the only entry point that mutates state. Every call
  follows the same shape:

    1. serialise on the plan (keyed mutex)
    2. resolve the BlockingPolicy once from the flag service
    3. open a store transaction and load a snapshot (balances by id)
    4. run the engine(s), collecting instructions on a Posting
    5. aggregate parent totals onto the same Posting
    6. post the batch and update the plan/loan records, then commit
    7. after commit: run flag hooks and publish notifications

  A duplicate idempotency key at step 6 means the event was already
  applied; the transaction is rolled back and the call returns nil.

SCHEDULED EVENTS:
  ACCRUAL               daily, every open loan
  DUE_AMOUNT_CALCULATION on the plan's due day
  CHECK_OVERDUE          on NextOverdueDate (or the first unblocked day after)
  CHECK_DELINQUENCY      on NextDelinquencyDate (or the first unblocked day after)

SEE ALSO:
  - api/scheduler.go: fires the scheduled events
  - store/sqlite: Store implementation
*/
package lending

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/credit-engine/generic"
)

// =============================================================================
// EVENTS
// =============================================================================

type ScheduledEventType string

const (
	EventAccrual          ScheduledEventType = "ACCRUAL"
	EventDueCalculation   ScheduledEventType = "DUE_AMOUNT_CALCULATION"
	EventOverdueCheck     ScheduledEventType = "CHECK_OVERDUE"
	EventDelinquencyCheck ScheduledEventType = "CHECK_DELINQUENCY"
)

// ScheduledEventTypes lists the jobs in the order they run within a day.
var ScheduledEventTypes = []ScheduledEventType{
	EventAccrual, EventDueCalculation, EventOverdueCheck, EventDelinquencyCheck,
}

// ScheduledEvent identifies one job instance.
type ScheduledEvent struct {
	Type   ScheduledEventType
	PlanID generic.AccountID
	RunAt  time.Time
}

func (e ScheduledEvent) String() string {
	return fmt.Sprintf("%s/%s/%s", e.Type, e.PlanID, e.RunAt.UTC().Format(time.RFC3339))
}

// EventsOn returns the plan's job instances for one day, in run order.
func EventsOn(plan *LineOfCredit, day time.Time) []ScheduledEvent {
	out := make([]ScheduledEvent, 0, len(ScheduledEventTypes))
	for _, t := range ScheduledEventTypes {
		out = append(out, ScheduledEvent{Type: t, PlanID: plan.ID, RunAt: plan.Product.Schedule.For(t).On(day)})
	}
	return out
}

// Batch event labels for postings.
const (
	EventDrawdown         = "DRAWDOWN"
	EventRepayment        = "REPAYMENT"
	EventCreditLimitAmend = "CREDIT_LIMIT_AMENDMENT"
	EventDueDayChange     = "DUE_DAY_CHANGE"
	EventLoanClosure      = "LOAN_CLOSURE"
)

var errAlreadyApplied = errors.New("batch already applied")

// =============================================================================
// SUPERVISOR
// =============================================================================

type Supervisor struct {
	store Store
	flags FlagService
	sink  NotificationSink
	log   logrus.FieldLogger
	locks planLocks

	guard       CreditLimitGuard
	accrual     AccrualEngine
	due         DueCalculationEngine
	overdue     OverdueEngine
	delinquency DelinquencyEngine
	distributor RepaymentDistributor
	aggregation AggregationEngine
}

type Option func(*Supervisor)

func WithFlagService(flags FlagService) Option { return func(s *Supervisor) { s.flags = flags } }

func WithNotificationSink(sink NotificationSink) Option {
	return func(s *Supervisor) { s.sink = sink }
}

func WithLogger(log logrus.FieldLogger) Option { return func(s *Supervisor) { s.log = log } }

func NewSupervisor(store Store, opts ...Option) *Supervisor {
	s := &Supervisor{store: store, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// ACCOUNT LIFECYCLE
// =============================================================================

type OpenRequest struct {
	ID           generic.AccountID
	Denomination generic.Denomination
	CreditLimit  decimal.Decimal
	DueDay       int
	Product      ProductParams
	OpenedAt     time.Time
}

func (s *Supervisor) OpenLineOfCredit(ctx context.Context, req OpenRequest) (*LineOfCredit, error) {
	product := req.Product.WithDefaults()
	if err := product.Validate(); err != nil {
		return nil, err
	}
	if req.DueDay < 1 || req.DueDay > 31 {
		return nil, reject(CodeAgainstTerms, "Due amount calculation day must be between 1 and 31, got %d", req.DueDay)
	}
	if !req.CreditLimit.IsPositive() {
		return nil, reject(CodeAgainstTerms, "Credit limit must be positive, got %s", money(req.CreditLimit))
	}
	if req.Denomination == "" {
		return nil, reject(CodeWrongDenomination, "Denomination is required")
	}
	if req.ID == "" {
		req.ID = generic.AccountID(uuid.NewString())
	}
	plan := &LineOfCredit{
		ID:           req.ID,
		Denomination: req.Denomination,
		CreditLimit:  req.CreditLimit,
		Product:      product,
		DueDay:       req.DueDay,
		OpenedAt:     req.OpenedAt,
		Status:       StatusOpen,
	}
	if err := s.store.CreateLineOfCredit(ctx, plan); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"plan_id": plan.ID, "credit_limit": money(plan.CreditLimit)}).Info("line of credit opened")
	return plan, nil
}

type DrawdownRequest struct {
	PlanID              generic.AccountID
	LoanID              generic.AccountID
	Amount              decimal.Decimal
	Denomination        generic.Denomination
	FixedInterestRate   decimal.Decimal
	Term                int
	PenaltyInterestRate decimal.Decimal
	At                  time.Time
	Details             map[string]string
}

// Drawdown validates the posting against the guard, opens a new loan and
// disburses its principal through the parent.
func (s *Supervisor) Drawdown(ctx context.Context, req DrawdownRequest) (*DrawdownLoan, error) {
	if req.Term <= 0 {
		return nil, reject(CodeAgainstTerms, "Loan term must be at least 1 month, got %d", req.Term)
	}
	if req.FixedInterestRate.IsNegative() {
		return nil, reject(CodeAgainstTerms, "Interest rate cannot be negative, got %s", req.FixedInterestRate)
	}
	intent := ParseIntent(req.Details)
	if req.LoanID == "" {
		req.LoanID = generic.AccountID(uuid.NewString())
	}

	var loan *DrawdownLoan
	err := s.withPlan(ctx, req.PlanID, req.At, func(tx Store, snap *PlanSnapshot, _ BlockingPolicy, _ *outbox) error {
		if err := s.guard.CheckDrawdown(snap, req.Amount, req.Denomination, intent); err != nil {
			return err
		}
		all, err := tx.ListLoans(ctx, snap.Plan.ID)
		if err != nil {
			return err
		}
		params := snap.Plan.Product
		penaltyRate := req.PenaltyInterestRate
		if penaltyRate.IsZero() {
			penaltyRate = params.PenaltyInterestRate
		}
		loan = &DrawdownLoan{
			ID:                  req.LoanID,
			PlanID:              snap.Plan.ID,
			Position:            len(all) + 1,
			OriginalPrincipal:   req.Amount,
			FixedInterestRate:   req.FixedInterestRate,
			TotalTerm:           req.Term,
			RemainingTerm:       req.Term,
			PenaltyInterestRate: penaltyRate,
			StartDate:           req.At,
			Status:              StatusOpen,
		}
		if err := tx.CreateLoan(ctx, loan); err != nil {
			return err
		}
		snap.Loans = append(snap.Loans, &LoanSnapshot{Loan: loan, Balances: generic.Balances{}})

		denom := snap.denom()
		parent := leg(snap.Plan.ID, AddrDefault)
		emi := ComputeEMI(req.Amount, req.FixedInterestRate, req.Term, params.EMIPrecision)
		p := NewPosting(snap, "drawdown:"+string(loan.ID), EventDrawdown, req.At)
		p.Add(
			generic.Between(parent, internal(params.InternalAccounts.Deposit), req.Amount, denom).WithReason("drawdown paid out"),
			generic.Between(leg(loan.ID, AddrPrincipal), parent, req.Amount, denom).WithReason("loan principal"),
			tracker(loan.ID, AddrEMI, emi, denom),
		)
		return s.commit(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"plan_id": req.PlanID, "loan_id": loan.ID, "amount": money(req.Amount), "intent": intent.Kind.String(),
	}).Info("drawdown accepted")
	return loan, nil
}

type RepaymentRequest struct {
	PlanID         generic.AccountID
	Amount         decimal.Decimal
	Denomination   generic.Denomination
	At             time.Time
	Details        map[string]string
	IdempotencyKey string
}

type RepaymentResult struct {
	Distribution Distribution
	PaidOff      []generic.AccountID
}

// Repay runs the waterfall. The dry run decides acceptance before anything
// is posted.
func (s *Supervisor) Repay(ctx context.Context, req RepaymentRequest) (*RepaymentResult, error) {
	intent := ParseIntent(req.Details)
	key := req.IdempotencyKey
	if key == "" {
		key = "repayment:" + uuid.NewString()
	}

	result := &RepaymentResult{}
	err := s.withPlan(ctx, req.PlanID, req.At, func(tx Store, snap *PlanSnapshot, blocking BlockingPolicy, out *outbox) error {
		if blocking.Repayment {
			return reject(CodeAccountBlocked, "Repayments blocked for this account")
		}
		if err := s.guard.CheckRepayment(snap, req.Amount, req.Denomination, intent); err != nil {
			return err
		}
		dist := s.distributor.Distribute(snap, req.Amount, intent)
		if dist.Unapplied.IsPositive() {
			return rejectOverpayment(req.Amount, RepaymentCeiling(snap, intent))
		}

		denom := snap.denom()
		paidBefore := map[generic.AccountID]bool{}
		for _, l := range snap.Loans {
			paidBefore[l.Loan.ID] = IsPaidOff(l, denom)
		}

		p := NewPosting(snap, key, EventRepayment, req.At)
		p.Add(dist.Instructions(snap.Plan)...)
		var paidOff []generic.AccountID
		for _, l := range snap.Loans {
			if !paidBefore[l.Loan.ID] && IsPaidOff(l, denom) {
				clearTrackers(p, l, denom)
				paidOff = append(paidOff, l.Loan.ID)
			}
		}
		if err := s.commit(ctx, tx, p); err != nil {
			return err
		}

		result.Distribution = dist
		result.PaidOff = paidOff
		if len(paidOff) > 0 {
			out.notify(NotifyLoansPaidOff, snap.Plan.ID, req.At, map[string]string{
				"account_ids": idsField(paidOff),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"plan_id": req.PlanID, "amount": money(req.Amount), "fee": money(result.Distribution.Fees()), "paid_off": len(result.PaidOff),
	}).Info("repayment distributed")
	return result, nil
}

func (s *Supervisor) AmendCreditLimit(ctx context.Context, planID generic.AccountID, limit decimal.Decimal, at time.Time) error {
	return s.withPlan(ctx, planID, at, func(tx Store, snap *PlanSnapshot, _ BlockingPolicy, _ *outbox) error {
		if err := s.guard.CheckCreditLimitAmendment(snap, limit); err != nil {
			return err
		}
		snap.Plan.CreditLimit = limit
		return s.commit(ctx, tx, NewPosting(snap, "", EventCreditLimitAmend, at))
	})
}

func (s *Supervisor) ChangeDueDay(ctx context.Context, planID generic.AccountID, day int, at time.Time) error {
	return s.withPlan(ctx, planID, at, func(tx Store, snap *PlanSnapshot, _ BlockingPolicy, _ *outbox) error {
		if err := snap.Plan.ChangeDueDay(day, at); err != nil {
			return err
		}
		return s.commit(ctx, tx, NewPosting(snap, "", EventDueDayChange, at))
	})
}

// CloseLoan marks a fully repaid loan closed. It drops out of aggregation and
// of the limit and count checks. Closing an already closed loan is a no-op.
func (s *Supervisor) CloseLoan(ctx context.Context, loanID generic.AccountID, at time.Time) error {
	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return err
	}
	return s.withPlan(ctx, loan.PlanID, at, func(tx Store, snap *PlanSnapshot, _ BlockingPolicy, _ *outbox) error {
		l := snap.Loan(loanID)
		if l == nil {
			return nil
		}
		if err := CheckClosure(l, snap.denom()); err != nil {
			return err
		}
		l.Loan.Status = StatusClosed
		l.Loan.ClosedAt = at
		if err := tx.UpdateLoan(ctx, l.Loan); err != nil {
			return err
		}
		remaining := snap.Loans[:0]
		for _, other := range snap.Loans {
			if other.Loan.ID != loanID {
				remaining = append(remaining, other)
			}
		}
		snap.Loans = remaining
		return s.commit(ctx, tx, NewPosting(snap, "close:"+string(loanID), EventLoanClosure, at))
	})
}

// =============================================================================
// SCHEDULED EVENTS
// =============================================================================

// HandleEvent runs one scheduled job instance for a plan. Re-delivery of an
// instance that already ran is a no-op.
func (s *Supervisor) HandleEvent(ctx context.Context, ev ScheduledEvent) error {
	log := s.log.WithFields(logrus.Fields{"plan_id": ev.PlanID, "event": ev.Type, "run_at": ev.RunAt})
	switch ev.Type {
	case EventAccrual:
		return s.withPlan(ctx, ev.PlanID, ev.RunAt, func(tx Store, snap *PlanSnapshot, blocking BlockingPolicy, _ *outbox) error {
			p := NewPosting(snap, jobKey(ev), string(ev.Type), ev.RunAt)
			res := s.accrual.Accrue(p, ev.RunAt, blocking)
			if err := s.commit(ctx, tx, p); err != nil {
				return err
			}
			log.WithFields(logrus.Fields{
				"loans": res.Loans, "interest": res.Interest.String(), "penalty": res.Penalty.String(), "blocked": blocking.Accrual,
			}).Debug("accrual applied")
			return nil
		})

	case EventDueCalculation:
		return s.withPlan(ctx, ev.PlanID, ev.RunAt, func(tx Store, snap *PlanSnapshot, blocking BlockingPolicy, out *outbox) error {
			if !snap.Plan.IsDueDate(ev.RunAt) {
				return nil
			}
			if blocking.DueCalculation {
				log.Info("due calculation blocked")
				return nil
			}
			p := NewPosting(snap, jobKey(ev), string(ev.Type), ev.RunAt)
			res, err := s.due.Calculate(p, ev.RunAt)
			if err != nil {
				return err
			}
			if len(res.Processed) == 0 {
				return nil
			}
			if err := s.commit(ctx, tx, p); err != nil {
				return err
			}
			out.notify(NotifyRepaymentDue, snap.Plan.ID, ev.RunAt, map[string]string{
				"repayment_amount": amountField(res.RepaymentAmount()),
				"principal_due":    amountField(res.PrincipalDue),
				"interest_due":     amountField(res.InterestDue),
				"due_date":         dateField(res.DueDate),
				"overdue_date":     dateField(res.NextOverdueDate),
				"account_ids":      idsField(res.Processed),
			})
			log.WithFields(logrus.Fields{"loans": len(res.Processed), "repayment_amount": money(res.RepaymentAmount())}).Info("due amounts calculated")
			return nil
		})

	case EventOverdueCheck:
		return s.withPlan(ctx, ev.PlanID, ev.RunAt, func(tx Store, snap *PlanSnapshot, blocking BlockingPolicy, out *outbox) error {
			next := snap.Plan.NextOverdueDate
			if next.IsZero() || generic.Day(ev.RunAt).Before(next) {
				return nil
			}
			if blocking.Overdue {
				log.Info("overdue check blocked")
				return nil
			}
			p := NewPosting(snap, jobKey(ev), string(ev.Type), ev.RunAt)
			res := s.overdue.Check(p, ev.RunAt)
			if err := s.commit(ctx, tx, p); err != nil {
				return err
			}
			if res.Moved() {
				out.notify(NotifyRepaymentOverdue, snap.Plan.ID, ev.RunAt, map[string]string{
					"overdue_principal":  amountField(res.Principal),
					"overdue_interest":   amountField(res.Interest),
					"late_repayment_fee": amountField(res.LateFee),
					"overdue_date":       dateField(res.OverdueDate),
				})
				log.WithFields(logrus.Fields{"overdue_principal": money(res.Principal), "overdue_interest": money(res.Interest)}).Info("dues moved to overdue")
			}
			return nil
		})

	case EventDelinquencyCheck:
		return s.withPlan(ctx, ev.PlanID, ev.RunAt, func(tx Store, snap *PlanSnapshot, blocking BlockingPolicy, out *outbox) error {
			next := snap.Plan.NextDelinquencyDate
			if next.IsZero() || generic.Day(ev.RunAt).Before(next) {
				return nil
			}
			if blocking.Delinquency {
				log.Info("delinquency check blocked")
				return nil
			}
			res := s.delinquency.Check(snap)
			snap.Plan.NextDelinquencyDate = time.Time{}
			if err := s.commit(ctx, tx, NewPosting(snap, "", string(ev.Type), ev.RunAt)); err != nil {
				return err
			}
			if !res.Delinquent() {
				return nil
			}
			plan := snap.Plan
			out.afterCommit(func(ctx context.Context) error {
				if s.flags == nil {
					return nil
				}
				return s.flags.SetFlag(ctx, plan.ID, plan.Product.Flags.DelinquencyFlag, ev.RunAt, time.Time{})
			})
			out.notify(NotifyDelinquent, plan.ID, ev.RunAt, map[string]string{
				"overdue_principal": amountField(res.PrincipalOverdue),
				"overdue_interest":  amountField(res.InterestOverdue),
				"total_overdue":     amountField(res.Overdue()),
			})
			log.WithField("total_overdue", money(res.Overdue())).Warn("line of credit delinquent")
			return nil
		})
	}
	return fmt.Errorf("unknown scheduled event %q", ev.Type)
}

func jobKey(ev ScheduledEvent) string {
	return fmt.Sprintf("%s:%s:%s", ev.Type, ev.PlanID, generic.FormatDate(ev.RunAt))
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Supervisor) LineOfCredit(ctx context.Context, id generic.AccountID) (*LineOfCredit, error) {
	return s.store.GetLineOfCredit(ctx, id)
}

func (s *Supervisor) Loans(ctx context.Context, planID generic.AccountID) ([]*DrawdownLoan, error) {
	return s.store.ListLoans(ctx, planID)
}

func (s *Supervisor) Snapshot(ctx context.Context, planID generic.AccountID, at time.Time) (*PlanSnapshot, error) {
	plan, err := s.store.GetLineOfCredit(ctx, planID)
	if err != nil {
		return nil, err
	}
	return loadSnapshot(ctx, s.store, plan, at)
}

func (s *Supervisor) DerivedParameters(ctx context.Context, planID generic.AccountID, at time.Time) (DerivedParameters, error) {
	snap, err := s.Snapshot(ctx, planID, at)
	if err != nil {
		return DerivedParameters{}, err
	}
	return Derive(snap, at), nil
}

func (s *Supervisor) Balances(ctx context.Context, account generic.AccountID, at time.Time) (generic.Balances, error) {
	return generic.NewLedger(s.store).Balances(ctx, account, at)
}

// VerifyAggregation audits the parent totals against the open loans.
func (s *Supervisor) VerifyAggregation(ctx context.Context, planID generic.AccountID, at time.Time) error {
	snap, err := s.Snapshot(ctx, planID, at)
	if err != nil {
		return err
	}
	return s.aggregation.Verify(snap)
}

// =============================================================================
// TRANSACTION PLUMBING
// =============================================================================

type planWork func(tx Store, snap *PlanSnapshot, blocking BlockingPolicy, out *outbox) error

func (s *Supervisor) withPlan(ctx context.Context, planID generic.AccountID, at time.Time, fn planWork) error {
	unlock := s.locks.lock(planID)
	defer unlock()

	plan, err := s.resolvePlan(ctx, planID)
	if err != nil {
		return err
	}
	blocking, err := ResolveBlocking(ctx, s.flags, plan, at)
	if err != nil {
		return err
	}

	out := &outbox{}
	err = s.store.WithinTx(ctx, func(tx Store) error {
		snap, err := loadSnapshot(ctx, tx, plan, at)
		if err != nil {
			return err
		}
		return fn(tx, snap, blocking, out)
	})
	if errors.Is(err, errAlreadyApplied) {
		s.log.WithFields(logrus.Fields{"plan_id": planID, "at": at}).Debug("batch already applied, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	for _, hook := range out.hooks {
		if err := hook(ctx); err != nil {
			s.log.WithError(err).WithField("plan_id", planID).Error("post-commit hook failed")
		}
	}
	if len(out.items) > 0 && s.sink != nil && !blocking.Notification {
		if err := s.sink.Publish(ctx, out.items...); err != nil {
			s.log.WithError(err).WithField("plan_id", planID).Error("notification publish failed")
		}
	}
	return nil
}

// resolvePlan loads the plan, rejecting postings addressed to a loan.
func (s *Supervisor) resolvePlan(ctx context.Context, planID generic.AccountID) (*LineOfCredit, error) {
	plan, err := s.store.GetLineOfCredit(ctx, planID)
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, generic.ErrAccountNotFound) {
		return nil, err
	}
	if _, loanErr := s.store.GetLoan(ctx, planID); loanErr == nil {
		return nil, reject(CodeUnsupportedPosting,
			"Postings must be made to the line of credit account, not drawdown loan %s", planID)
	}
	return nil, err
}

// commit aggregates, posts the batch and persists the records.
func (s *Supervisor) commit(ctx context.Context, tx Store, p *Posting) error {
	s.aggregation.Aggregate(p)
	if !p.Empty() {
		if err := generic.NewLedger(tx).Post(ctx, p.Batch); err != nil {
			if errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
				return errAlreadyApplied
			}
			return err
		}
	}
	if err := tx.UpdateLineOfCredit(ctx, p.snapshot.Plan); err != nil {
		return err
	}
	for _, l := range p.snapshot.Loans {
		if err := tx.UpdateLoan(ctx, l.Loan); err != nil {
			return err
		}
	}
	return nil
}

// planLocks serialises work per plan.
type planLocks struct {
	mu    sync.Mutex
	locks map[generic.AccountID]*sync.Mutex
}

func (l *planLocks) lock(id generic.AccountID) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[generic.AccountID]*sync.Mutex{}
	}
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
