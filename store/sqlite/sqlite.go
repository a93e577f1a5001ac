/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements lending.Store (instruction ledger + account records),
  lending.FlagService and the scheduler's job-run bookkeeping using SQLite.
  In production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

INTERFACES IMPLEMENTED:
  generic.Store: Instruction persistence
  lending.Store:                   Ledger + plan and loan records in one tx
  lending.FlagService:             Time-ranged account flags

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on batches or instructions
  - No DELETE statements on batches or instructions
  - Corrections via offsetting instructions only

KEY TABLES:
  batches:         One row per posted batch, idempotency key UNIQUE
  instructions:    Immutable ledger of every balance movement
  lines_of_credit: Parent records (product parameters as JSON)
  loans:           Drawdown loan records, ordered by position
  flags:           Account flags with an active window
  job_runs:        Scheduled event instances, unique per (type, plan, run_at)

DECIMALS:
  Amounts are stored as TEXT through decimal.Decimal's Scanner/Valuer so no
  value ever passes through a float.

CONCURRENCY:
  A mutex serialises transactions. The ":memory:" database lives on one
  connection, so it is opened with a single-connection pool; every query
  inside a transaction goes through the *sql.Tx.

USAGE:
  store, err := sqlite.New("./data/credit.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  supervisor := lending.NewSupervisor(store, lending.WithFlagService(store))

SEE ALSO:
  - generic/store.go: Ledger persistence interface
  - lending/store.go: Record persistence interface
  - generic/store/memory.go: In-memory ledger for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/credit-engine/generic"
	"github.com/warp/credit-engine/lending"
)

// timeLayout is fixed width so lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn holds every query; Store and txStore differ only in what runs them.
type conn struct {
	q queryer
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	conn
	db *sql.DB
	mu sync.Mutex
}

var (
	_ lending.Store       = (*Store)(nil)
	_ lending.FlagService = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{conn: conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Batches (one per triggering event)
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		idempotency_key TEXT UNIQUE,
		event TEXT,
		effective_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Instructions (append-only ledger)
	CREATE TABLE IF NOT EXISTS instructions (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL REFERENCES batches(id),
		debit_account TEXT NOT NULL,
		debit_address TEXT NOT NULL,
		credit_account TEXT NOT NULL,
		credit_address TEXT NOT NULL,
		amount TEXT NOT NULL,
		asset TEXT NOT NULL,
		denomination TEXT NOT NULL,
		phase TEXT NOT NULL,
		effective_at TEXT NOT NULL,
		event TEXT,
		reason TEXT,
		metadata_json TEXT
	);

	-- Balance replay reads every instruction touching one account (hot path)
	CREATE INDEX IF NOT EXISTS idx_instructions_debit
		ON instructions(debit_account, effective_at);
	CREATE INDEX IF NOT EXISTS idx_instructions_credit
		ON instructions(credit_account, effective_at);

	CREATE TABLE IF NOT EXISTS lines_of_credit (
		id TEXT PRIMARY KEY,
		denomination TEXT NOT NULL,
		credit_limit TEXT NOT NULL,
		product_json TEXT NOT NULL,
		due_day INTEGER NOT NULL,
		opened_at TEXT NOT NULL,
		status TEXT NOT NULL,
		due_day_changed_at TEXT,
		last_due_date TEXT,
		next_overdue_date TEXT,
		next_delinquency_date TEXT,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL REFERENCES lines_of_credit(id),
		position INTEGER NOT NULL,
		original_principal TEXT NOT NULL,
		fixed_interest_rate TEXT NOT NULL,
		total_term INTEGER NOT NULL,
		remaining_term INTEGER NOT NULL,
		penalty_interest_rate TEXT NOT NULL,
		start_date TEXT NOT NULL,
		status TEXT NOT NULL,
		due_calc_counter INTEGER NOT NULL DEFAULT 0,
		last_due_calc_at TEXT,
		last_accrual_at TEXT,
		closed_at TEXT,
		version INTEGER NOT NULL DEFAULT 0,
		UNIQUE(plan_id, position)
	);

	CREATE TABLE IF NOT EXISTS flags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL,
		flag TEXT NOT NULL,
		active_from TEXT NOT NULL,
		active_until TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_flags_account
		ON flags(account_id, flag);

	-- Scheduled event instances; the key makes re-delivery a no-op
	CREATE TABLE IF NOT EXISTS job_runs (
		event_type TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		run_at TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		started_at TEXT,
		completed_at TEXT,
		PRIMARY KEY (event_type, plan_id, run_at)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// INSTRUCTION STORE (generic.Store interface)
// =============================================================================

// AppendBatch persists the batch and its instructions atomically.
func (s *Store) AppendBatch(ctx context.Context, batch generic.Batch) error {
	return s.WithinTx(ctx, func(tx lending.Store) error {
		return tx.AppendBatch(ctx, batch)
	})
}

func (c conn) AppendBatch(ctx context.Context, batch generic.Batch) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO batches (id, idempotency_key, event, effective_at, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		batch.ID, nullString(batch.IdempotencyKey), batch.Event,
		formatTime(batch.EffectiveAt), formatTime(time.Now()),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append batch: %w", err)
	}

	for _, ins := range batch.Instructions {
		metadataJSON, err := json.Marshal(ins.Metadata)
		if err != nil {
			return err
		}
		_, err = c.q.ExecContext(ctx, `
			INSERT INTO instructions
			(id, batch_id, debit_account, debit_address, credit_account, credit_address,
			 amount, asset, denomination, phase, effective_at, event, reason, metadata_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ins.ID, batch.ID,
			ins.Debit.AccountID, ins.Debit.Address,
			ins.Credit.AccountID, ins.Credit.Address,
			ins.Amount, ins.Asset, ins.Denomination, ins.Phase,
			formatTime(ins.EffectiveAt), ins.Event, ins.Reason, string(metadataJSON),
		)
		if err != nil {
			return fmt.Errorf("failed to append instruction %s: %w", ins.ID, err)
		}
	}
	return nil
}

const instructionColumns = `
	id, batch_id, debit_account, debit_address, credit_account, credit_address,
	amount, asset, denomination, phase, effective_at, event, reason, metadata_json`

// Load returns every instruction touching the account, in posting order.
func (c conn) Load(ctx context.Context, account generic.AccountID) ([]generic.Instruction, error) {
	return c.queryInstructions(ctx, `
		SELECT `+instructionColumns+`
		FROM instructions
		WHERE debit_account = ? OR credit_account = ?
		ORDER BY effective_at ASC, rowid ASC`,
		account, account)
}

// LoadRange returns the instructions touching the account on any day of
// period.
func (c conn) LoadRange(ctx context.Context, account generic.AccountID, period generic.Period) ([]generic.Instruction, error) {
	return c.queryInstructions(ctx, `
		SELECT `+instructionColumns+`
		FROM instructions
		WHERE (debit_account = ? OR credit_account = ?)
		  AND effective_at >= ? AND effective_at < ?
		ORDER BY effective_at ASC, rowid ASC`,
		account, account, formatTime(generic.Day(period.Start)), formatTime(generic.Day(period.End).AddDate(0, 0, 1)))
}

// Exists checks if an idempotency key was used by a committed batch.
func (c conn) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := c.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM batches WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

// RecentInstructions returns the latest instructions across all accounts,
// newest first.
func (c conn) RecentInstructions(ctx context.Context, limit int) ([]generic.Instruction, error) {
	if limit <= 0 {
		limit = 100
	}
	return c.queryInstructions(ctx, `
		SELECT `+instructionColumns+`
		FROM instructions
		ORDER BY effective_at DESC, rowid DESC
		LIMIT ?`, limit)
}

func (c conn) queryInstructions(ctx context.Context, query string, args ...any) ([]generic.Instruction, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instructions: %w", err)
	}
	defer rows.Close()

	var instructions []generic.Instruction
	for rows.Next() {
		ins, err := scanInstruction(rows)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, ins)
	}
	return instructions, rows.Err()
}

func scanInstruction(rows *sql.Rows) (generic.Instruction, error) {
	var (
		ins          generic.Instruction
		effectiveAt  string
		event        sql.NullString
		reason       sql.NullString
		metadataJSON sql.NullString
	)
	err := rows.Scan(
		&ins.ID, &ins.BatchID,
		&ins.Debit.AccountID, &ins.Debit.Address,
		&ins.Credit.AccountID, &ins.Credit.Address,
		&ins.Amount, &ins.Asset, &ins.Denomination, &ins.Phase,
		&effectiveAt, &event, &reason, &metadataJSON,
	)
	if err != nil {
		return ins, fmt.Errorf("failed to scan instruction: %w", err)
	}
	ins.EffectiveAt = parseTime(effectiveAt)
	ins.Event = event.String
	ins.Reason = reason.String
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &ins.Metadata); err != nil {
			return ins, fmt.Errorf("failed to decode instruction metadata: %w", err)
		}
	}
	return ins, nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithinTx runs fn in one database transaction. Ledger writes and record
// updates made through the passed store commit or roll back together.
func (s *Store) WithinTx(ctx context.Context, fn func(lending.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{conn: conn{q: sqlTx}}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", generic.ErrTransactionFailed, err)
	}
	return nil
}

type txStore struct {
	conn
}

// WithinTx joins the enclosing transaction.
func (ts *txStore) WithinTx(_ context.Context, fn func(lending.Store) error) error {
	return fn(ts)
}

// =============================================================================
// LINES OF CREDIT
// =============================================================================

const planColumns = `
	id, denomination, credit_limit, product_json, due_day, opened_at, status,
	due_day_changed_at, last_due_date, next_overdue_date, next_delinquency_date, version`

func (c conn) CreateLineOfCredit(ctx context.Context, plan *lending.LineOfCredit) error {
	productJSON, err := json.Marshal(plan.Product)
	if err != nil {
		return err
	}
	now := formatTime(time.Now())
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO lines_of_credit (`+planColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID, plan.Denomination, plan.CreditLimit, string(productJSON),
		plan.DueDay, formatTime(plan.OpenedAt), plan.Status,
		nullTime(plan.DueDayChangedAt), nullTime(plan.LastDueDate),
		nullTime(plan.NextOverdueDate), nullTime(plan.NextDelinquencyDate),
		plan.Version, now, now,
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("line of credit %s already exists", plan.ID)
	}
	return err
}

func (c conn) GetLineOfCredit(ctx context.Context, id generic.AccountID) (*lending.LineOfCredit, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+planColumns+` FROM lines_of_credit WHERE id = ?`, id)
	plan, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", lending.ErrPlanNotFound, id)
	}
	return plan, err
}

// UpdateLineOfCredit writes the record if nobody else has since it was read.
func (c conn) UpdateLineOfCredit(ctx context.Context, plan *lending.LineOfCredit) error {
	productJSON, err := json.Marshal(plan.Product)
	if err != nil {
		return err
	}
	res, err := c.q.ExecContext(ctx, `
		UPDATE lines_of_credit SET
			credit_limit = ?, product_json = ?, due_day = ?, status = ?,
			due_day_changed_at = ?, last_due_date = ?, next_overdue_date = ?,
			next_delinquency_date = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		plan.CreditLimit, string(productJSON), plan.DueDay, plan.Status,
		nullTime(plan.DueDayChangedAt), nullTime(plan.LastDueDate),
		nullTime(plan.NextOverdueDate), nullTime(plan.NextDelinquencyDate),
		formatTime(time.Now()), plan.ID, plan.Version,
	)
	if err != nil {
		return err
	}
	if err := c.checkUpdated(ctx, res, "lines_of_credit", string(plan.ID), lending.ErrPlanNotFound); err != nil {
		return err
	}
	plan.Version++
	return nil
}

func (c conn) ListLinesOfCredit(ctx context.Context) ([]*lending.LineOfCredit, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+planColumns+` FROM lines_of_credit ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*lending.LineOfCredit
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(row scanner) (*lending.LineOfCredit, error) {
	var (
		plan                                        lending.LineOfCredit
		productJSON, openedAt                       string
		dueDayChangedAt, lastDue, nextOverdue, next sql.NullString
	)
	err := row.Scan(
		&plan.ID, &plan.Denomination, &plan.CreditLimit, &productJSON,
		&plan.DueDay, &openedAt, &plan.Status,
		&dueDayChangedAt, &lastDue, &nextOverdue, &next, &plan.Version,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(productJSON), &plan.Product); err != nil {
		return nil, fmt.Errorf("failed to decode product parameters of %s: %w", plan.ID, err)
	}
	plan.OpenedAt = parseTime(openedAt)
	plan.DueDayChangedAt = parseNullTime(dueDayChangedAt)
	plan.LastDueDate = parseNullTime(lastDue)
	plan.NextOverdueDate = parseNullTime(nextOverdue)
	plan.NextDelinquencyDate = parseNullTime(next)
	return &plan, nil
}

// =============================================================================
// DRAWDOWN LOANS
// =============================================================================

const loanColumns = `
	id, plan_id, position, original_principal, fixed_interest_rate, total_term,
	remaining_term, penalty_interest_rate, start_date, status, due_calc_counter,
	last_due_calc_at, last_accrual_at, closed_at, version`

func (c conn) CreateLoan(ctx context.Context, loan *lending.DrawdownLoan) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID, loan.PlanID, loan.Position, loan.OriginalPrincipal, loan.FixedInterestRate,
		loan.TotalTerm, loan.RemainingTerm, loan.PenaltyInterestRate,
		formatTime(loan.StartDate), loan.Status, loan.DueCalcCounter,
		nullTime(loan.LastDueCalcAt), nullTime(loan.LastAccrualAt), nullTime(loan.ClosedAt),
		loan.Version,
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("drawdown loan %s already exists", loan.ID)
	}
	return err
}

func (c conn) GetLoan(ctx context.Context, id generic.AccountID) (*lending.DrawdownLoan, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id)
	loan, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", lending.ErrLoanNotFound, id)
	}
	return loan, err
}

func (c conn) UpdateLoan(ctx context.Context, loan *lending.DrawdownLoan) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE loans SET
			remaining_term = ?, status = ?, due_calc_counter = ?,
			last_due_calc_at = ?, last_accrual_at = ?, closed_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		loan.RemainingTerm, loan.Status, loan.DueCalcCounter,
		nullTime(loan.LastDueCalcAt), nullTime(loan.LastAccrualAt), nullTime(loan.ClosedAt),
		loan.ID, loan.Version,
	)
	if err != nil {
		return err
	}
	if err := c.checkUpdated(ctx, res, "loans", string(loan.ID), lending.ErrLoanNotFound); err != nil {
		return err
	}
	loan.Version++
	return nil
}

func (c conn) ListLoans(ctx context.Context, planID generic.AccountID) ([]*lending.DrawdownLoan, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE plan_id = ? ORDER BY position ASC`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []*lending.DrawdownLoan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	return loans, rows.Err()
}

func scanLoan(row scanner) (*lending.DrawdownLoan, error) {
	var (
		loan                               lending.DrawdownLoan
		startDate                          string
		lastDueCalc, lastAccrual, closedAt sql.NullString
	)
	err := row.Scan(
		&loan.ID, &loan.PlanID, &loan.Position, &loan.OriginalPrincipal, &loan.FixedInterestRate,
		&loan.TotalTerm, &loan.RemainingTerm, &loan.PenaltyInterestRate,
		&startDate, &loan.Status, &loan.DueCalcCounter,
		&lastDueCalc, &lastAccrual, &closedAt, &loan.Version,
	)
	if err != nil {
		return nil, err
	}
	loan.StartDate = parseTime(startDate)
	loan.LastDueCalcAt = parseNullTime(lastDueCalc)
	loan.LastAccrualAt = parseNullTime(lastAccrual)
	loan.ClosedAt = parseNullTime(closedAt)
	return &loan, nil
}

// checkUpdated distinguishes a missing row from a stale version.
func (c conn) checkUpdated(ctx context.Context, res sql.Result, table, id string, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var count int
	if err := c.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return fmt.Errorf("%w: %s %s", generic.ErrConcurrentModification, table, id)
}

// =============================================================================
// FLAGS (lending.FlagService interface)
// =============================================================================

// Flag is one activation window of a named flag on an account.
type Flag struct {
	ID          int64
	AccountID   generic.AccountID
	Name        string
	ActiveFrom  time.Time
	ActiveUntil time.Time
}

// IsFlagActive reports whether flag covers at on the account.
func (c conn) IsFlagActive(ctx context.Context, account generic.AccountID, flag string, at time.Time) (bool, error) {
	var count int
	err := c.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM flags
		WHERE account_id = ? AND flag = ? AND active_from <= ?
		  AND (active_until IS NULL OR active_until > ?)`,
		account, flag, formatTime(at), formatTime(at),
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetFlag activates flag on the account from `from`; a zero until leaves it
// open-ended.
func (c conn) SetFlag(ctx context.Context, account generic.AccountID, flag string, from, until time.Time) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO flags (account_id, flag, active_from, active_until, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		account, flag, formatTime(from), nullTime(until), formatTime(time.Now()),
	)
	return err
}

// ClearFlag ends every open window of flag on the account at the given time.
func (c conn) ClearFlag(ctx context.Context, account generic.AccountID, flag string, at time.Time) error {
	_, err := c.q.ExecContext(ctx, `
		UPDATE flags SET active_until = ?
		WHERE account_id = ? AND flag = ? AND (active_until IS NULL OR active_until > ?)`,
		formatTime(at), account, flag, formatTime(at),
	)
	return err
}

func (c conn) ListFlags(ctx context.Context, account generic.AccountID) ([]Flag, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, account_id, flag, active_from, active_until
		FROM flags WHERE account_id = ? ORDER BY active_from, id`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flags []Flag
	for rows.Next() {
		var (
			f     Flag
			from  string
			until sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.AccountID, &f.Name, &from, &until); err != nil {
			return nil, err
		}
		f.ActiveFrom = parseTime(from)
		f.ActiveUntil = parseNullTime(until)
		flags = append(flags, f)
	}
	return flags, rows.Err()
}

// =============================================================================
// JOB RUNS
// =============================================================================

// JobRun tracks one scheduled event instance.
type JobRun struct {
	EventType   lending.ScheduledEventType
	PlanID      generic.AccountID
	RunAt       time.Time
	Status      string // running, completed, failed
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

func (c conn) SaveJobRun(ctx context.Context, r JobRun) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO job_runs (event_type, plan_id, run_at, status, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_type, plan_id, run_at) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at`,
		r.EventType, r.PlanID, formatTime(r.RunAt), r.Status, nullString(r.Error),
		nullTime(r.StartedAt), nullTime(r.CompletedAt),
	)
	return err
}

// IsJobComplete reports whether the instance already ran to completion.
func (c conn) IsJobComplete(ctx context.Context, eventType lending.ScheduledEventType, planID generic.AccountID, runAt time.Time) (bool, error) {
	var count int
	err := c.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM job_runs
		WHERE event_type = ? AND plan_id = ? AND run_at = ? AND status = ?`,
		eventType, planID, formatTime(runAt), JobCompleted,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetJobRuns returns runs with the given status, or all runs when status is
// empty, newest first.
func (c conn) GetJobRuns(ctx context.Context, status string) ([]JobRun, error) {
	query := `
		SELECT event_type, plan_id, run_at, status, error, started_at, completed_at
		FROM job_runs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY run_at DESC, event_type`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []JobRun
	for rows.Next() {
		var (
			r                               JobRun
			runAt                           string
			errText, startedAt, completedAt sql.NullString
		)
		if err := rows.Scan(&r.EventType, &r.PlanID, &runAt, &r.Status, &errText, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		r.RunAt = parseTime(runAt)
		r.Error = errText.String
		r.StartedAt = parseNullTime(startedAt)
		r.CompletedAt = parseNullTime(completedAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"instructions", "batches", "loans", "lines_of_credit", "flags", "job_runs"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func parseNullTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	return parseTime(s.String)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
