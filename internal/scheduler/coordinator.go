// Package scheduler owns the client-side view of schedules: a cached list,
// stats, selection state and a poll loop that reconciles them with the
// scheduling service. All state lives on the Coordinator and is reached
// through read accessors and typed mutation methods.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"suiterunner/internal/models"
	"suiterunner/internal/repository"
)

// DefaultRefreshInterval is how often the poll loop reconciles the cached
// view with the scheduling service.
const DefaultRefreshInterval = 30 * time.Second

type Coordinator struct {
	repo     repository.Repository
	interval time.Duration

	mu          sync.RWMutex
	schedules   []models.Schedule
	total       int
	stats       *models.ScheduleStats
	filter      models.ListFilter
	selected    map[string]bool
	version     uint64
	lastRefresh time.Time
	lastErr     error
	fetchSeq    uint64
	appliedSeq  uint64

	// Used for refresh operations
	isRunning  bool
	ticker     *time.Ticker
	context    context.Context
	cancelFunc context.CancelFunc
}

// NewCoordinator creates a coordinator that polls repo every interval.
// A non-positive interval falls back to DefaultRefreshInterval.
func NewCoordinator(repo repository.Repository, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	return &Coordinator{
		repo:     repo,
		interval: interval,
		selected: make(map[string]bool),
	}
}

// Start loads the initial snapshot and begins the poll loop. The initial
// refresh error is returned so the caller can surface it immediately; the
// loop keeps polling either way and recovers on a later tick.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.isRunning {
		return nil
	}

	c.isRunning = true
	c.context, c.cancelFunc = context.WithCancel(ctx)

	err := c.Refresh(c.context)
	c.startRefreshLoop(c.context, c.interval)
	return err
}

// Stop halts the poll loop. The cached view stays readable after Stop.
func (c *Coordinator) Stop() {
	if !c.isRunning {
		return
	}

	c.cancelFunc()
	if c.ticker != nil {
		c.ticker.Stop()
	}
	c.isRunning = false
}

func (c *Coordinator) startRefreshLoop(ctx context.Context, interval time.Duration) {
	c.ticker = time.NewTicker(interval)

	go func() {
		var busy atomic.Bool
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.ticker.C:
				// skip the tick while the previous refresh is still in flight
				if !busy.CompareAndSwap(false, true) {
					continue
				}

				go func() {
					defer busy.Store(false)
					if err := c.Refresh(ctx); err != nil {
						log.Warn().Err(err).Msg("Failed to refresh schedules")
					}
				}()
			}
		}
	}()
}

// Refresh re-fetches the schedule list and stats and overwrites the cached
// view. Overlapping refreshes settle last-started-wins: a slow response never
// replaces the result of a refresh started after it. On failure the
// last-known-good view is kept and the error recorded for LastError.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.fetchSeq++
	seq := c.fetchSeq
	filter := c.filter
	c.mu.Unlock()

	list, err := c.repo.List(ctx, filter)
	var stats *models.ScheduleStats
	if err == nil {
		stats, err = c.repo.Stats(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if seq < c.appliedSeq {
		// a refresh started after this one already landed
		return nil
	}
	c.appliedSeq = seq

	if err != nil {
		c.lastErr = err
		return err
	}

	if !schedulesEqual(c.schedules, list.Schedules) {
		c.version++
	}
	c.schedules = list.Schedules
	c.total = list.Total
	c.stats = stats
	c.lastRefresh = time.Now().UTC()
	c.lastErr = nil
	c.pruneSelectionLocked()
	return nil
}

// SetFilter replaces the active list filter and refreshes immediately
func (c *Coordinator) SetFilter(ctx context.Context, filter models.ListFilter) error {
	c.mu.Lock()
	c.filter = filter
	c.mu.Unlock()

	return c.Refresh(ctx)
}

// CreateSchedule validates the form locally, submits it and refreshes the
// view. Validation failures never reach the network.
func (c *Coordinator) CreateSchedule(ctx context.Context, form *models.ScheduleForm) (*models.Schedule, error) {
	req, verr := form.Request(time.Now().UTC())
	if verr != nil {
		return nil, verr
	}

	created, err := c.repo.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("schedule_id", created.ID).
		Str("suite_id", created.SuiteID).
		Msg("Schedule created")

	c.refreshAfter(ctx, "create")
	return created, nil
}

// UpdateSchedule applies a partial update to a schedule that has not started.
// An empty patch is rejected locally.
func (c *Coordinator) UpdateSchedule(ctx context.Context, id string, req *models.UpdateScheduleRequest) (*models.Schedule, error) {
	if req == nil || req.Empty() {
		return nil, &models.ValidationError{Field: "request", Message: "update carries no changes"}
	}

	updated, err := c.repo.Update(ctx, id, req)
	if err != nil {
		return nil, err
	}

	c.refreshAfter(ctx, "update")
	return updated, nil
}

// RunNow asks the service to execute the schedule immediately. For a
// recurring schedule this is a one-off execution, not a recurrence change.
func (c *Coordinator) RunNow(ctx context.Context, id, notes string) (*models.Schedule, error) {
	updated, err := c.repo.RunNow(ctx, id, notes)
	if err != nil {
		return nil, err
	}

	c.refreshAfter(ctx, "run-now")
	return updated, nil
}

// CancelSchedule cancels a schedule that is still waiting to run. The domain
// error for any other status is returned verbatim, never swallowed.
func (c *Coordinator) CancelSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	canceled, err := c.repo.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}

	c.refreshAfter(ctx, "cancel")
	return canceled, nil
}

// DeleteSchedule removes a schedule in any status
func (c *Coordinator) DeleteSchedule(ctx context.Context, id string) error {
	if err := c.repo.Delete(ctx, id); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.selected, id)
	c.mu.Unlock()

	c.refreshAfter(ctx, "delete")
	return nil
}

// GetSchedule fetches one schedule with its recent runs, bypassing the cache
func (c *Coordinator) GetSchedule(ctx context.Context, id string) (*models.ScheduleDetail, error) {
	return c.repo.Get(ctx, id)
}

// Schedules returns a copy of the cached schedule list
func (c *Coordinator) Schedules() []models.Schedule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Schedule, len(c.schedules))
	copy(out, c.schedules)
	return out
}

// Total returns the unpaged total reported by the last refresh
func (c *Coordinator) Total() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.total
}

// Stats returns a copy of the cached stats, or nil before the first refresh
func (c *Coordinator) Stats() *models.ScheduleStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.stats == nil {
		return nil
	}
	out := *c.stats
	out.ByStatus = make(map[models.ScheduleStatus]int, len(c.stats.ByStatus))
	for status, count := range c.stats.ByStatus {
		out.ByStatus[status] = count
	}
	return &out
}

// Filter returns the active list filter
func (c *Coordinator) Filter() models.ListFilter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter
}

// Version increments whenever a refresh lands a list that differs from the
// cached one. Consumers compare versions to skip redundant re-renders.
func (c *Coordinator) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// LastRefresh returns when the view was last reconciled successfully
func (c *Coordinator) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}

// LastError returns the most recent refresh failure, nil once a refresh succeeds
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// refreshAfter reconciles the view after a mutation that already succeeded.
// The refresh failure is logged and left for the next tick instead of
// failing the action.
func (c *Coordinator) refreshAfter(ctx context.Context, action string) {
	if err := c.Refresh(ctx); err != nil {
		log.Warn().Err(err).Str("action", action).Msg("Failed to refresh schedules after action")
	}
}

// pruneSelectionLocked drops selected ids that are no longer in the list.
// Callers hold the write lock.
func (c *Coordinator) pruneSelectionLocked() {
	if len(c.selected) == 0 {
		return
	}

	keep := make(map[string]bool, len(c.selected))
	for _, s := range c.schedules {
		if c.selected[s.ID] {
			keep[s.ID] = true
		}
	}
	c.selected = keep
}

func schedulesEqual(a, b []models.Schedule) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(&b[i]) {
			return false
		}
	}
	return true
}
