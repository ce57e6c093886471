package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"
	"github.com/rs/zerolog/log"

	"suiterunner/internal/config"
	"suiterunner/internal/models"
	"suiterunner/internal/queue"
	"suiterunner/internal/recurrence"
	"suiterunner/internal/store"
)

// Worker consumes run messages, executes the suite through its SuiteRunner
// and records the outcome. When a recurring schedule finishes, the worker
// computes the next occurrence and persists it as a fresh schedule; the
// finished row stays terminal forever.
type Worker struct {
	// ID identifies this worker in logs and dead-letter entries
	ID string
	// RetryDelay scales the pause between run attempts (attempt number times
	// the delay). Exposed so tests do not sleep for real.
	RetryDelay time.Duration

	store          *store.Store
	queue          queue.Client
	runner         SuiteRunner
	defaultTimeout time.Duration
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewWorker creates a worker that executes suites through runner
func NewWorker(st *store.Store, q queue.Client, runner SuiteRunner, conf config.EngineConfig) *Worker {
	timeout := conf.RunTimeout()
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		ID:             uuid.NewString(),
		RetryDelay:     5 * time.Second,
		store:          st,
		queue:          q,
		runner:         runner,
		defaultTimeout: timeout,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start blocks listening for run messages until Stop is called. A handler
// error is returned to the queue, which records the message in the dead
// letter queue.
func (w *Worker) Start() error {
	log.Info().Str("worker_id", w.ID).Msg("Worker listening for runs")
	return w.queue.Subscribe(w.ctx, w.handle)
}

// Stop cancels the subscription and any run in flight
func (w *Worker) Stop() {
	w.cancel()
}

func (w *Worker) handle(message queue.RunMessage) error {
	deadline := message.RunTimeout(w.defaultTimeout)
	ctx, cancel := context.WithTimeout(w.ctx, deadline)
	defer cancel()

	log.Info().
		Str("run_id", message.RunID).
		Str("schedule_id", message.ScheduleID).
		Str("suite_id", message.SuiteID).
		Str("triggered_by", message.TriggeredBy).
		Msg("Run started")

	started := time.Now()
	attempts, report, runErr := w.tryRun(ctx, message.Options.Retries, func() (*RunReport, error) {
		return w.runner.Run(ctx, message)
	})

	// Recording the outcome must not die with the per-run deadline, so it
	// uses the worker's own context.
	run, err := w.store.GetRun(w.ctx, message.RunID)
	if err != nil {
		return fmt.Errorf("could not load run %s: %w", message.RunID, err)
	}

	run.FinishedAt = null.TimeFrom(time.Now().UTC())
	run.DurationMS = time.Since(started).Milliseconds()

	switch {
	case runErr == nil:
		run.Status = report.Status
		run.Total = report.Total
		run.Passed = report.Passed
		run.Failed = report.Failed
		run.Skipped = report.Skipped
		if report.Error != "" {
			run.Error = null.StringFrom(report.Error)
		}
	case errors.Is(runErr, context.DeadlineExceeded):
		run.Status = models.RunStatusTimeout
		run.Error = null.StringFrom(fmt.Sprintf("run exceeded its %s deadline", deadline))
	default:
		run.Status = models.RunStatusFailed
		run.Error = null.StringFrom(runErr.Error())
	}

	if err := w.store.FinishRun(w.ctx, run); err != nil {
		return fmt.Errorf("could not record outcome of run %s: %w", message.RunID, err)
	}

	w.settleSchedule(message.ScheduleID, run.Status)

	log.Info().
		Str("run_id", message.RunID).
		Str("schedule_id", message.ScheduleID).
		Str("status", string(run.Status)).
		Int("attempts", attempts).
		Int64("duration_ms", run.DurationMS).
		Msg("Run finished")
	return nil
}

// tryRun executes f up to retries+1 times. A context-ended error is returned
// immediately: the deadline spans all attempts, so retrying a dead context
// only burns time.
func (w *Worker) tryRun(ctx context.Context, retries int, f func() (*RunReport, error)) (attempts int, report *RunReport, err error) {
	for attempts = 1; attempts <= retries+1; attempts++ {
		report, err = f()
		if err == nil {
			return attempts, report, nil
		}
		if ctx.Err() != nil {
			return attempts, nil, ctx.Err()
		}
		if attempts <= retries {
			time.Sleep(time.Duration(attempts) * w.RetryDelay)
		}
	}

	return retries + 1, nil, fmt.Errorf("failed after %d attempts: %w", retries+1, err)
}

// settleSchedule moves the schedule to its terminal status and, for a
// recurring one, rolls it forward to the next occurrence. A transition
// rejection means the schedule was deleted or already settled elsewhere;
// that is logged and the roll-forward skipped.
func (w *Worker) settleSchedule(scheduleID string, outcome models.RunStatus) {
	var err error
	if outcome == models.RunStatusCompleted {
		err = w.store.CompleteSchedule(w.ctx, scheduleID)
	} else {
		err = w.store.FailSchedule(w.ctx, scheduleID)
	}
	if err != nil {
		log.Error().Err(err).Str("schedule_id", scheduleID).Msg("Could not settle schedule")
		return
	}

	w.scheduleNext(scheduleID)
}

// scheduleNext persists the next occurrence of a recurring schedule as a new
// row. The finished row is never resurrected, so every occurrence keeps its
// own run history.
func (w *Worker) scheduleNext(scheduleID string) {
	sched, err := w.store.GetSchedule(w.ctx, scheduleID)
	if err != nil {
		log.Error().Err(err).Str("schedule_id", scheduleID).Msg("Could not load schedule for roll-forward")
		return
	}
	if !sched.Recurring() {
		return
	}

	rule, err := recurrence.FromSchedule(sched)
	if err != nil {
		log.Warn().Err(err).Str("schedule_id", scheduleID).Msg("Recurring schedule has an unusable rule")
		return
	}
	next := rule.Next(sched.RunAtUTC, time.Now().UTC())
	if next.IsZero() {
		log.Warn().Str("schedule_id", scheduleID).Msg("Recurring schedule has no further occurrences")
		return
	}

	successor := &models.Schedule{
		SuiteID:      sched.SuiteID,
		SuiteName:    sched.SuiteName,
		Status:       models.StatusScheduled,
		RunAtUTC:     next,
		Timezone:     sched.Timezone,
		Recurrence:   sched.Recurrence,
		Weekdays:     sched.Weekdays,
		IntervalDays: sched.IntervalDays,
		Priority:     sched.Priority,
		Notes:        sched.Notes,
		Options:      sched.Options,
	}
	if err := w.store.CreateSchedule(w.ctx, successor); err != nil {
		log.Error().Err(err).Str("schedule_id", scheduleID).Msg("Could not create next occurrence")
		return
	}

	log.Info().
		Str("schedule_id", scheduleID).
		Str("next_schedule_id", successor.ID).
		Time("next_run", next).
		Msg("Recurring schedule rolled forward")
}
