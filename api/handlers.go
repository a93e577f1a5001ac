/*
handlers.go - HTTP API handlers for the line-of-credit engine

PURPOSE:
  Exposes the supervisor via REST API. Handles HTTP request/response and
  JSON serialization, and delegates every posting and job to
  lending.Supervisor.

ENDPOINTS:
  Lines of credit:
    GET    /api/plans                         List lines of credit
    POST   /api/plans                         Open a line of credit
    GET    /api/plans/{id}                    Plan with its loans
    GET    /api/plans/{id}/balances?at=       Plan and loan balances
    GET    /api/plans/{id}/derived?at=        Derived parameters
    PUT    /api/plans/{id}/credit-limit       Amend the credit limit
    PUT    /api/plans/{id}/due-day            Change the due day

  Postings:
    POST   /api/plans/{id}/drawdowns          Draw a new loan
    POST   /api/plans/{id}/repayments         Repay through the waterfall
    POST   /api/loans/{id}/close              Close a repaid loan

  Flags:
    GET    /api/plans/{id}/flags              List flags
    POST   /api/plans/{id}/flags              Set a flag window
    DELETE /api/plans/{id}/flags/{name}       End a flag now

  Jobs:
    POST   /api/plans/{id}/events             Run one scheduled job
    POST   /api/jobs/run                      Drive the scheduler to a time
    GET    /api/jobs/runs?status=             Job run history

  Admin:
    GET    /api/instructions?limit=           Recent ledger instructions
    GET    /api/products/presets              Built-in products
    POST   /api/reset                         Database reset (dev only)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed or invalid input
  - 404: Account not found
  - 409: Idempotency or concurrent modification conflicts
  - 422: Posting rejected by business rules (code + reason)
  - 500: Invariant violations and internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scheduler.go: Background job driver
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/warp/credit-engine/factory"
	"github.com/warp/credit-engine/generic"
	"github.com/warp/credit-engine/lending"
	"github.com/warp/credit-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store          *sqlite.Store
	Supervisor     *lending.Supervisor
	ProductFactory *factory.ProductFactory
	Scheduler      *JobScheduler
	Log            logrus.FieldLogger

	// Now is the clock used when a request carries no explicit time.
	Now func() time.Time

	validate *validator.Validate
}

// NewHandler creates a new handler around the store and supervisor.
func NewHandler(store *sqlite.Store, supervisor *lending.Supervisor, log logrus.FieldLogger) *Handler {
	return &Handler{
		Store:          store,
		Supervisor:     supervisor,
		ProductFactory: factory.NewProductFactory(),
		Log:            log,
		Now:            func() time.Time { return time.Now().UTC() },
		validate:       factory.NewValidator(),
	}
}

// =============================================================================
// LINE OF CREDIT HANDLERS
// =============================================================================

// ListPlans returns all lines of credit.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.Store.ListLinesOfCredit(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list lines of credit", err)
		return
	}
	dtos := make([]PlanDTO, len(plans))
	for i, p := range plans {
		dtos[i] = toPlanDTO(p, h.ProductFactory)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// OpenPlan opens a line of credit.
// POST /api/plans
func (h *Handler) OpenPlan(w http.ResponseWriter, r *http.Request) {
	var req OpenPlanRequest
	if !h.decode(w, r, &req) {
		return
	}
	openedAt, err := h.parseAt(req.OpenedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid opened_at", err)
		return
	}
	product, err := h.resolveProduct(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid product", err)
		return
	}

	plan, err := h.Supervisor.OpenLineOfCredit(r.Context(), lending.OpenRequest{
		ID:           generic.AccountID(req.ID),
		Denomination: generic.Denomination(req.Denomination),
		CreditLimit:  req.CreditLimit,
		DueDay:       req.DueDay,
		Product:      product,
		OpenedAt:     openedAt,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to open line of credit", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPlanDTO(plan, h.ProductFactory))
}

func (h *Handler) resolveProduct(req OpenPlanRequest) (lending.ProductParams, error) {
	if req.Product != nil {
		return h.ProductFactory.FromJSON(*req.Product)
	}
	name := req.Preset
	if name == "" {
		name = "standard"
	}
	raw, ok := factory.Presets()[name]
	if !ok {
		return lending.ProductParams{}, fmt.Errorf("unknown preset %q", name)
	}
	return h.ProductFactory.ParseProduct(raw)
}

// GetPlan returns a line of credit with its loans.
// GET /api/plans/{id}
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	id := generic.AccountID(chi.URLParam(r, "id"))
	plan, err := h.Supervisor.LineOfCredit(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get line of credit", err)
		return
	}
	loans, err := h.Supervisor.Loans(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to list loans", err)
		return
	}
	dto := toPlanDTO(plan, h.ProductFactory)
	for _, l := range loans {
		dto.Loans = append(dto.Loans, toLoanDTO(l))
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetBalances returns the plan's and each open loan's balances.
// GET /api/plans/{id}/balances?at=2020-02-05
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	id := generic.AccountID(chi.URLParam(r, "id"))
	at, err := h.parseAt(r.URL.Query().Get("at"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid at", err)
		return
	}
	snap, err := h.Supervisor.Snapshot(r.Context(), id, at)
	if err != nil {
		h.writeDomainError(w, "Failed to load balances", err)
		return
	}
	derived := lending.Derive(snap, at)
	resp := BalancesResponse{
		AsOf:    at,
		Plan:    toBalanceDTOs(snap.Balances),
		Loans:   map[string][]BalanceDTO{},
		Derived: &derived,
	}
	for _, l := range snap.Loans {
		resp.Loans[string(l.Loan.ID)] = toBalanceDTOs(l.Balances)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetDerived returns the derived parameters.
// GET /api/plans/{id}/derived?at=2020-02-05
func (h *Handler) GetDerived(w http.ResponseWriter, r *http.Request) {
	id := generic.AccountID(chi.URLParam(r, "id"))
	at, err := h.parseAt(r.URL.Query().Get("at"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid at", err)
		return
	}
	derived, err := h.Supervisor.DerivedParameters(r.Context(), id, at)
	if err != nil {
		h.writeDomainError(w, "Failed to derive parameters", err)
		return
	}
	writeJSON(w, http.StatusOK, derived)
}

// AmendCreditLimit changes the plan's credit limit.
// PUT /api/plans/{id}/credit-limit
func (h *Handler) AmendCreditLimit(w http.ResponseWriter, r *http.Request) {
	id := generic.AccountID(chi.URLParam(r, "id"))
	var req AmendCreditLimitRequest
	if !h.decode(w, r, &req) {
		return
	}
	at, err := h.parseAt(req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid at", err)
		return
	}
	if err := h.Supervisor.AmendCreditLimit(r.Context(), id, req.CreditLimit, at); err != nil {
		h.writeDomainError(w, "Failed to amend credit limit", err)
		return
	}
	h.GetPlan(w, r)
}

// ChangeDueDay moves the monthly due day.
// PUT /api/plans/{id}/due-day
func (h *Handler) ChangeDueDay(w http.ResponseWriter, r *http.Request) {
	id := generic.AccountID(chi.URLParam(r, "id"))
	var req ChangeDueDayRequest
	if !h.decode(w, r, &req) {
		return
	}
	at, err := h.parseAt(req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid at", err)
		return
	}
	if err := h.Supervisor.ChangeDueDay(r.Context(), id, req.DueDay, at); err != nil {
		h.writeDomainError(w, "Failed to change due day", err)
		return
	}
	h.GetPlan(w, r)
}

// =============================================================================
// POSTING HANDLERS
// =============================================================================

// Drawdown opens a new loan against the plan.
// POST /api/plans/{id}/drawdowns
func (h *Handler) Drawdown(w http.ResponseWriter, r *http.Request) {
	id := generic.AccountID(chi.URLParam(r, "id"))
	var req DrawdownRequest
	if !h.decode(w, r, &req) {
		return
	}
	at, err := h.parseAt(req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid at", err)
		return
	}

	loan, err := h.Supervisor.Drawdown(r.Context(), lending.DrawdownRequest{
		PlanID:              id,
		LoanID:              generic.AccountID(req.LoanID),
		Amount:              req.Amount,
		Denomination:        generic.Denomination(req.Denomination),
		FixedInterestRate:   req.FixedInterestRate,
		Term:                req.Term,
		PenaltyInterestRate: req.PenaltyInterestRate,
		At:                  at,
		Details:             req.Details,
	})
	if err != nil {
		h.writeDomainError(w, "Drawdown rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoanDTO(loan))
}

// Repay distributes a repayment across the plan's loans.
// POST /api/plans/{id}/repayments
func (h *Handler) Repay(w http.ResponseWriter, r *http.Request) {
	id := generic.AccountID(chi.URLParam(r, "id"))
	var req RepaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	at, err := h.parseAt(req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid at", err)
		return
	}

	res, err := h.Supervisor.Repay(r.Context(), lending.RepaymentRequest{
		PlanID:         id,
		Amount:         req.Amount,
		Denomination:   generic.Denomination(req.Denomination),
		At:             at,
		Details:        req.Details,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeDomainError(w, "Repayment rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, toRepaymentResponse(res))
}

// CloseLoan closes a fully repaid loan.
// POST /api/loans/{id}/close
func (h *Handler) CloseLoan(w http.ResponseWriter, r *http.Request) {
	id := generic.AccountID(chi.URLParam(r, "id"))
	var req CloseLoanRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	at, err := h.parseAt(req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid at", err)
		return
	}
	if err := h.Supervisor.CloseLoan(r.Context(), id, at); err != nil {
		h.writeDomainError(w, "Failed to close loan", err)
		return
	}
	loan, err := h.Store.GetLoan(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(loan))
}

// =============================================================================
// FLAG HANDLERS
// =============================================================================

// ListFlags returns every flag window on the plan.
func (h *Handler) ListFlags(w http.ResponseWriter, r *http.Request) {
	id := generic.AccountID(chi.URLParam(r, "id"))
	flags, err := h.Store.ListFlags(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list flags", err)
		return
	}
	dtos := make([]FlagDTO, len(flags))
	for i, f := range flags {
		dtos[i] = toFlagDTO(f)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SetFlag opens a flag window, e.g. a repayment holiday.
// POST /api/plans/{id}/flags
func (h *Handler) SetFlag(w http.ResponseWriter, r *http.Request) {
	id := generic.AccountID(chi.URLParam(r, "id"))
	var req SetFlagRequest
	if !h.decode(w, r, &req) {
		return
	}
	from, err := parseTime(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from", err)
		return
	}
	var until time.Time
	if req.Until != "" {
		if until, err = parseTime(req.Until); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid until", err)
			return
		}
		if !until.After(from) {
			writeError(w, http.StatusBadRequest, "Invalid flag window", generic.ErrInvalidPeriod)
			return
		}
	}
	if err := h.Store.SetFlag(r.Context(), id, req.Name, from, until); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to set flag", err)
		return
	}
	h.Log.WithFields(logrus.Fields{"plan_id": id, "flag": req.Name, "from": from}).Info("flag set")
	writeJSON(w, http.StatusCreated, FlagDTO{Name: req.Name, ActiveFrom: from, ActiveUntil: timePtr(until)})
}

// ClearFlag ends any open window of the flag.
// DELETE /api/plans/{id}/flags/{name}?at=
func (h *Handler) ClearFlag(w http.ResponseWriter, r *http.Request) {
	id := generic.AccountID(chi.URLParam(r, "id"))
	name := chi.URLParam(r, "name")
	at, err := h.parseAt(r.URL.Query().Get("at"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid at", err)
		return
	}
	if err := h.Store.ClearFlag(r.Context(), id, name, at); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear flag", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// JOB HANDLERS
// =============================================================================

// RunEvent runs one scheduled job instance for the plan.
// POST /api/plans/{id}/events
func (h *Handler) RunEvent(w http.ResponseWriter, r *http.Request) {
	id := generic.AccountID(chi.URLParam(r, "id"))
	var req RunEventRequest
	if !h.decode(w, r, &req) {
		return
	}
	runAt, err := parseTime(req.RunAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid run_at", err)
		return
	}
	ev := lending.ScheduledEvent{Type: lending.ScheduledEventType(req.Type), PlanID: id, RunAt: runAt}
	if err := h.Supervisor.HandleEvent(r.Context(), ev); err != nil {
		h.writeDomainError(w, "Job failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"event": ev.String(), "status": sqlite.JobCompleted})
}

// RunJobs drives the scheduler up to the given time. Used for catch-up
// and simulation.
// POST /api/jobs/run
func (h *Handler) RunJobs(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "Scheduler not configured", nil)
		return
	}
	var req RunUntilRequest
	if !h.decode(w, r, &req) {
		return
	}
	until, err := parseTime(req.Until)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid until", err)
		return
	}
	summary, err := h.Scheduler.RunUntil(r.Context(), until)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Scheduler run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, RunSummaryDTO(summary))
}

// ListJobRuns returns job run history, optionally filtered by status.
// GET /api/jobs/runs?status=failed
func (h *Handler) ListJobRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.GetJobRuns(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list job runs", err)
		return
	}
	dtos := make([]JobRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toJobRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ListInstructions returns the most recent ledger instructions.
// GET /api/instructions?limit=50
func (h *Handler) ListInstructions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}
	ins, err := h.Store.RecentInstructions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list instructions", err)
		return
	}
	dtos := make([]InstructionDTO, len(ins))
	for i, in := range ins {
		dtos[i] = toInstructionDTO(in)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListAccountInstructions returns the ledger history of one account (a plan
// or a loan) for an inclusive day range. "to" defaults to today.
// GET /api/accounts/{id}/instructions?from=2020-01-01&to=2020-02-05
func (h *Handler) ListAccountInstructions(w http.ResponseWriter, r *http.Request) {
	id := generic.AccountID(chi.URLParam(r, "id"))
	from, err := parseTime(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from", err)
		return
	}
	to, err := h.parseAt(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to", err)
		return
	}
	period, err := generic.NewPeriod(from, to)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid range", err)
		return
	}
	ins, err := generic.NewLedger(h.Store).History(r.Context(), id, period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load history", err)
		return
	}
	dtos := make([]InstructionDTO, len(ins))
	for i, in := range ins {
		dtos[i] = toInstructionDTO(in)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListPresets returns the built-in products.
func (h *Handler) ListPresets(w http.ResponseWriter, r *http.Request) {
	out := map[string]factory.ProductJSON{}
	for name, raw := range factory.Presets() {
		p, err := h.ProductFactory.ParseProduct(raw)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Invalid preset "+name, err)
			return
		}
		out[name] = h.ProductFactory.ToJSON(p)
	}
	writeJSON(w, http.StatusOK, out)
}

// ResetDatabase clears all data.
// POST /api/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if h.Scheduler != nil {
		h.Scheduler.ResetCursors()
	}
	h.Log.Warn("database reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body and runs its validation tags. It writes the 400
// itself and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// parseAt parses an optional timestamp, defaulting to now.
func (h *Handler) parseAt(s string) (time.Time, error) {
	if s == "" {
		return h.Now(), nil
	}
	return parseTime(s)
}

// parseTime accepts RFC 3339 timestamps and plain dates.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return generic.ParseDate(s)
}

// writeDomainError maps supervisor errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	var rej *lending.RejectionError
	switch {
	case errors.As(err, &rej):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: message, Code: string(rej.Code), Details: rej.Reason})
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, generic.ErrDuplicateIdempotencyKey), errors.Is(err, generic.ErrConcurrentModification):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, lending.ErrUnsupportedPreference):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		if lending.IsInvariantViolation(err) {
			h.Log.WithError(err).Error("invariant violation")
		}
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func sortBalances(b []BalanceDTO) {
	sort.Slice(b, func(i, j int) bool {
		if b[i].Address != b[j].Address {
			return b[i].Address < b[j].Address
		}
		return b[i].Denomination < b[j].Denomination
	})
}
