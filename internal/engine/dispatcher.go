package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/guregu/null/v6"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"suiterunner/internal/config"
	"suiterunner/internal/models"
	"suiterunner/internal/queue"
	"suiterunner/internal/store"
)

// Fallbacks when the engine config leaves a knob unset
const (
	DefaultDispatchInterval = 5 * time.Second
	DefaultDispatchBatch    = 10
	DefaultRunTimeout       = 15 * time.Minute
)

// staleAfter is how many run timeouts a run may sit unreported before the
// sweep declares its worker dead.
const staleAfter = 2

// Dispatcher periodically claims schedules that are due or flagged for an
// immediate run, records a run for each and hands the work to the queue.
// Claiming flips the schedule to running first, so concurrent dispatchers
// never double-dispatch the same schedule.
type Dispatcher struct {
	store      *store.Store
	queue      queue.Client
	interval   time.Duration
	batch      int
	runTimeout time.Duration
	cron       *cron.Cron

	isRunning  bool
	busy       atomic.Bool
	context    context.Context
	cancelFunc context.CancelFunc
}

// NewDispatcher creates a dispatcher over the given store and queue
func NewDispatcher(st *store.Store, q queue.Client, conf config.EngineConfig) *Dispatcher {
	interval := conf.DispatchInterval()
	if interval <= 0 {
		interval = DefaultDispatchInterval
	}
	batch := conf.DispatchBatch
	if batch <= 0 {
		batch = DefaultDispatchBatch
	}
	runTimeout := conf.RunTimeout()
	if runTimeout <= 0 {
		runTimeout = DefaultRunTimeout
	}

	return &Dispatcher{
		store:      st,
		queue:      q,
		interval:   interval,
		batch:      batch,
		runTimeout: runTimeout,
		cron:       cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start runs one scan immediately and then keeps scanning on the dispatch
// interval. The initial scan's error is returned so a broken store or queue
// surfaces at startup rather than on the first tick.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.isRunning {
		return nil
	}

	d.isRunning = true
	d.context, d.cancelFunc = context.WithCancel(ctx)

	if _, err := d.DispatchDue(d.context); err != nil {
		return err
	}
	d.sweepStale(d.context)

	spec := fmt.Sprintf("@every %s", d.interval)
	if _, err := d.cron.AddFunc(spec, d.tick); err != nil {
		return err
	}
	d.cron.Start()
	return nil
}

// Stop halts the scan loop. In-flight scans finish on their own.
func (d *Dispatcher) Stop() {
	if !d.isRunning {
		return
	}

	d.cancelFunc()
	d.cron.Stop()
	d.isRunning = false
}

// tick is one cron firing. A scan still in flight makes the tick a no-op
// rather than piling up overlapping scans.
func (d *Dispatcher) tick() {
	if d.context.Err() != nil {
		return
	}
	if !d.busy.CompareAndSwap(false, true) {
		return
	}
	defer d.busy.Store(false)

	if _, err := d.DispatchDue(d.context); err != nil {
		log.Error().Err(err).Msg("Dispatch scan failed")
	}
	d.sweepStale(d.context)
}

// DispatchDue claims every schedule that is due or flagged run-asap, up to
// the batch size, and publishes a run for each. It returns how many runs
// were dispatched; per-schedule failures are logged and skipped so one bad
// schedule never starves the rest of the batch.
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	claimed, err := d.store.ClaimDue(ctx, time.Now().UTC(), d.batch)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, cs := range claimed {
		if err := d.dispatchOne(ctx, cs); err != nil {
			log.Error().
				Err(err).
				Str("schedule_id", cs.ID).
				Str("suite_id", cs.SuiteID).
				Msg("Failed to dispatch schedule")
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, cs store.ClaimedSchedule) error {
	trigger := models.TriggerSchedule
	if cs.Manual {
		trigger = models.TriggerManual
	}

	now := time.Now().UTC()
	run := &models.ScheduleRun{
		ScheduleID:  cs.ID,
		SuiteID:     cs.SuiteID,
		Status:      models.RunStatusRunning,
		TriggeredBy: trigger,
		Notes:       cs.ManualNotes,
		StartedAt:   now,
	}
	if err := d.store.CreateRun(ctx, run); err != nil {
		d.release(ctx, cs)
		return fmt.Errorf("could not record run: %w", err)
	}

	message := queue.RunMessage{
		RunID:       run.ID,
		ScheduleID:  cs.ID,
		SuiteID:     cs.SuiteID,
		SuiteName:   cs.SuiteName,
		TriggeredBy: trigger,
		Options:     cs.Options,
		Timeout:     int(d.runTimeout.Seconds()),
		EnqueuedAt:  now,
	}
	if err := d.queue.Publish(ctx, message); err != nil {
		// No worker will ever see this run: close it out and put the
		// schedule back in line for the next scan.
		run.Status = models.RunStatusFailed
		run.FinishedAt = null.TimeFrom(time.Now().UTC())
		run.Error = null.StringFrom("run was never enqueued: " + err.Error())
		if ferr := d.store.FinishRun(ctx, run); ferr != nil {
			log.Error().Err(ferr).Str("run_id", run.ID).Msg("Could not close out unpublished run")
		}
		d.release(ctx, cs)
		return fmt.Errorf("could not publish run %s: %w", run.ID, err)
	}

	log.Info().
		Str("schedule_id", cs.ID).
		Str("run_id", run.ID).
		Str("suite_id", cs.SuiteID).
		Str("triggered_by", trigger).
		Msg("Run dispatched")
	return nil
}

// release reverts a claim that never made it to the queue. A manual request
// is re-flagged so the operator's run-now survives the hiccup.
func (d *Dispatcher) release(ctx context.Context, cs store.ClaimedSchedule) {
	if err := d.store.ReleaseSchedule(ctx, cs.ID); err != nil {
		log.Error().Err(err).Str("schedule_id", cs.ID).Msg("Could not release claimed schedule")
		return
	}
	if cs.Manual {
		if err := d.store.RequestRunNow(ctx, cs.ID, cs.ManualNotes); err != nil {
			log.Error().Err(err).Str("schedule_id", cs.ID).Msg("Could not restore run-now request")
		}
	}
}

// sweepStale fails runs whose worker stopped reporting. The cutoff trails the
// per-run deadline so a slow-but-alive run is never swept.
func (d *Dispatcher) sweepStale(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-staleAfter * d.runTimeout)
	swept, err := d.store.SweepStaleRuns(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Stale run sweep failed")
		return
	}
	if len(swept) > 0 {
		log.Warn().Strs("run_ids", swept).Msg("Swept abandoned runs")
	}
}
