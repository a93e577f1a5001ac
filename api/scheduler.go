/*
scheduler.go - Automated job scheduler

PURPOSE:
  Periodically fires the recurring jobs of every open line of credit:
  accrual, due amount calculation, overdue check and delinquency check.
  Each job fires once per day at the time of day configured on the plan's
  product.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Walks each plan day by day from a per-plan cursor, so missed days are
    caught up in order after downtime
  - Skips job instances already recorded as completed
  - Records every run (running, completed, failed) for audit and UI display
  - A failed job stops that plan's walk; later jobs depend on it

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 minute)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewJobScheduler(store, supervisor, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

  // Simulation: drive every plan to a point in time
  summary, err := scheduler.RunUntil(ctx, generic.Date(2020, 3, 31))

SEE ALSO:
  - handlers.go: RunEvent / RunJobs endpoints (manual runs)
  - lending/supervisor.go: HandleEvent
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/credit-engine/generic"
	"github.com/warp/credit-engine/lending"
	"github.com/warp/credit-engine/store/sqlite"
)

// RunSummary counts job instances handled by one pass.
type RunSummary struct {
	Processed int
	Skipped   int
	Failed    int
}

func (s *RunSummary) add(o RunSummary) {
	s.Processed += o.Processed
	s.Skipped += o.Skipped
	s.Failed += o.Failed
}

// JobScheduler drives the supervisor's scheduled events.
type JobScheduler struct {
	Store         *sqlite.Store
	Supervisor    *lending.Supervisor
	CheckInterval time.Duration
	Enabled       bool
	Log           logrus.FieldLogger
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	// runMu serialises passes; cursor holds each plan's first day that
	// still has jobs to fire.
	runMu  sync.Mutex
	cursor map[generic.AccountID]time.Time
}

// NewJobScheduler creates a new scheduler.
func NewJobScheduler(store *sqlite.Store, supervisor *lending.Supervisor, log logrus.FieldLogger) *JobScheduler {
	return &JobScheduler{
		Store:         store,
		Supervisor:    supervisor,
		CheckInterval: time.Minute,
		Enabled:       true,
		Log:           log.WithField("component", "scheduler"),
		Now:           func() time.Time { return time.Now().UTC() },
		cursor:        map[generic.AccountID]time.Time{},
	}
}

// Start begins the scheduler. It may be started again after Stop; a call
// while already running is a no-op.
func (js *JobScheduler) Start() {
	js.mu.Lock()
	defer js.mu.Unlock()

	if !js.Enabled {
		js.Log.Info("disabled, not starting")
		return
	}
	if js.ticker != nil {
		return
	}

	js.ticker = time.NewTicker(js.CheckInterval)
	js.stop = make(chan struct{})
	js.wg.Add(1)

	go js.run(js.ticker, js.stop)

	js.Log.WithField("interval", js.CheckInterval.String()).Info("started")
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (js *JobScheduler) Stop() {
	js.mu.Lock()
	defer js.mu.Unlock()

	if js.ticker != nil {
		js.ticker.Stop()
		close(js.stop)
		js.wg.Wait()
		js.ticker = nil
		js.Log.Info("stopped")
	}
}

func (js *JobScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer js.wg.Done()

	// Run immediately on start
	js.checkAndProcess()

	for {
		select {
		case <-ticker.C:
			js.checkAndProcess()
		case <-stop:
			return
		}
	}
}

func (js *JobScheduler) checkAndProcess() {
	summary, err := js.RunUntil(context.Background(), js.Now())
	if err != nil {
		js.Log.WithError(err).Error("pass failed")
		return
	}
	if summary.Processed > 0 || summary.Failed > 0 {
		js.Log.WithFields(logrus.Fields{
			"processed": summary.Processed, "skipped": summary.Skipped, "failed": summary.Failed,
		}).Info("pass completed")
	}
}

// RunUntil fires every due job instance of every open plan whose run time
// is at or before until.
func (js *JobScheduler) RunUntil(ctx context.Context, until time.Time) (RunSummary, error) {
	js.runMu.Lock()
	defer js.runMu.Unlock()

	plans, err := js.Store.ListLinesOfCredit(ctx)
	if err != nil {
		return RunSummary{}, fmt.Errorf("list lines of credit: %w", err)
	}

	var total RunSummary
	for _, plan := range plans {
		if plan.Status == lending.StatusClosed {
			continue
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
		total.add(js.runPlan(ctx, plan, until))
	}
	return total, nil
}

func (js *JobScheduler) runPlan(ctx context.Context, plan *lending.LineOfCredit, until time.Time) RunSummary {
	var summary RunSummary
	day, ok := js.cursor[plan.ID]
	if !ok {
		day = generic.Day(plan.OpenedAt)
	}

	for ; !day.After(until); day = day.AddDate(0, 0, 1) {
		for _, ev := range lending.EventsOn(plan, day) {
			if ev.RunAt.After(until) {
				js.cursor[plan.ID] = day
				return summary
			}
			done, err := js.Store.IsJobComplete(ctx, ev.Type, ev.PlanID, ev.RunAt)
			if err != nil {
				js.Log.WithError(err).WithField("event", ev.String()).Error("checking job status")
				summary.Failed++
				js.cursor[plan.ID] = day
				return summary
			}
			if done {
				summary.Skipped++
				continue
			}
			if err := js.process(ctx, ev); err != nil {
				summary.Failed++
				js.cursor[plan.ID] = day
				return summary
			}
			summary.Processed++
		}
	}
	js.cursor[plan.ID] = day
	return summary
}

func (js *JobScheduler) process(ctx context.Context, ev lending.ScheduledEvent) error {
	log := js.Log.WithFields(logrus.Fields{"plan_id": ev.PlanID, "event": ev.Type, "run_at": ev.RunAt})
	run := sqlite.JobRun{
		EventType: ev.Type,
		PlanID:    ev.PlanID,
		RunAt:     ev.RunAt,
		Status:    sqlite.JobRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := js.Store.SaveJobRun(ctx, run); err != nil {
		log.WithError(err).Error("saving run record")
		return err
	}

	if err := js.Supervisor.HandleEvent(ctx, ev); err != nil {
		run.Status = sqlite.JobFailed
		run.Error = err.Error()
		if serr := js.Store.SaveJobRun(ctx, run); serr != nil {
			log.WithError(serr).Error("saving failed run record")
		}
		log.WithError(err).Error("job failed")
		return err
	}

	run.Status = sqlite.JobCompleted
	run.CompletedAt = time.Now().UTC()
	if err := js.Store.SaveJobRun(ctx, run); err != nil {
		log.WithError(err).Error("updating run record")
		return err
	}
	log.Debug("job completed")
	return nil
}

// RunNow triggers an immediate pass (for testing/admin).
func (js *JobScheduler) RunNow() {
	js.checkAndProcess()
}

// ResetCursors forgets scan positions, e.g. after a database reset.
func (js *JobScheduler) ResetCursors() {
	js.runMu.Lock()
	defer js.runMu.Unlock()
	js.cursor = map[generic.AccountID]time.Time{}
}

// GetNextRunTime returns when the next scheduled check will occur.
func (js *JobScheduler) GetNextRunTime() time.Time {
	return js.Now().Add(js.CheckInterval)
}
