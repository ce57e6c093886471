package engine_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"suiterunner/internal/engine"
	"suiterunner/internal/models"
	"suiterunner/internal/queue"
	"suiterunner/internal/recurrence"
	"suiterunner/internal/store"
)

// dispatchOne pushes a due schedule through the dispatcher and returns its run
func dispatchOne(t *testing.T, st *store.Store, d *engine.Dispatcher, scheduleID string) models.ScheduleRun {
	t.Helper()

	n, err := d.DispatchDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	runs, err := st.ListRuns(context.Background(), scheduleID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	return runs[0]
}

func TestWorker_CompletesRun(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	mem := queue.NewMemoryClient(8)
	conf := testEngineConfig()

	s := seedDue(t, st)
	run := dispatchOne(t, st, engine.NewDispatcher(st, mem, conf), s.ID)

	w := engine.NewWorker(st, mem, passingRunner(12), conf)
	w.RetryDelay = time.Millisecond
	startWorker(t, w)

	require.Eventually(t, func() bool {
		got, err := st.GetRun(ctx, run.ID)
		return err == nil && got.Status == models.RunStatusCompleted
	}, 3*time.Second, 20*time.Millisecond, "run never completed")

	finished, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, finished.Total)
	assert.Equal(t, 12, finished.Passed)
	assert.True(t, finished.FinishedAt.Valid)
	assert.False(t, finished.Error.Valid)

	settled, err := st.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, settled.Status)
	assert.False(t, settled.NextRun.Valid)
	require.NotNil(t, settled.LastRun)
	assert.Equal(t, models.RunStatusCompleted, settled.LastRun.Status)
}

func TestWorker_FailingSuite(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	mem := queue.NewMemoryClient(8)
	conf := testEngineConfig()

	s := seedDue(t, st)
	run := dispatchOne(t, st, engine.NewDispatcher(st, mem, conf), s.ID)

	failing := runnerFunc(func(ctx context.Context, message queue.RunMessage) (*engine.RunReport, error) {
		return &engine.RunReport{
			Status:  models.RunStatusFailed,
			Total:   12,
			Passed:  10,
			Failed:  2,
			Skipped: 0,
			Error:   "2 of 12 tests failed",
		}, nil
	})

	w := engine.NewWorker(st, mem, failing, conf)
	w.RetryDelay = time.Millisecond
	startWorker(t, w)

	require.Eventually(t, func() bool {
		got, err := st.GetRun(ctx, run.ID)
		return err == nil && got.Status == models.RunStatusFailed
	}, 3*time.Second, 20*time.Millisecond, "run never failed")

	finished, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, finished.Failed)
	assert.Equal(t, "2 of 12 tests failed", finished.Error.String)

	settled, err := st.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, settled.Status)
}

func TestWorker_RetriesRunnerErrors(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	mem := queue.NewMemoryClient(8)
	conf := testEngineConfig()

	s := seedDue(t, st, func(s *models.Schedule) {
		s.Options.Retries = 2
	})
	run := dispatchOne(t, st, engine.NewDispatcher(st, mem, conf), s.ID)

	var calls atomic.Int32
	flaky := runnerFunc(func(ctx context.Context, message queue.RunMessage) (*engine.RunReport, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("browser pool exhausted")
		}
		return &engine.RunReport{Status: models.RunStatusCompleted, Total: 5, Passed: 5}, nil
	})

	w := engine.NewWorker(st, mem, flaky, conf)
	w.RetryDelay = time.Millisecond
	startWorker(t, w)

	require.Eventually(t, func() bool {
		got, err := st.GetRun(ctx, run.ID)
		return err == nil && got.Status == models.RunStatusCompleted
	}, 3*time.Second, 20*time.Millisecond, "run never recovered")

	assert.EqualValues(t, 3, calls.Load())
}

func TestWorker_ExhaustedRetriesFailTheRun(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	mem := queue.NewMemoryClient(8)
	conf := testEngineConfig()

	s := seedDue(t, st, func(s *models.Schedule) {
		s.Options.Retries = 1
	})
	run := dispatchOne(t, st, engine.NewDispatcher(st, mem, conf), s.ID)

	var calls atomic.Int32
	hopeless := runnerFunc(func(ctx context.Context, message queue.RunMessage) (*engine.RunReport, error) {
		calls.Add(1)
		return nil, errors.New("browser pool exhausted")
	})

	w := engine.NewWorker(st, mem, hopeless, conf)
	w.RetryDelay = time.Millisecond
	startWorker(t, w)

	require.Eventually(t, func() bool {
		got, err := st.GetRun(ctx, run.ID)
		return err == nil && got.Status == models.RunStatusFailed
	}, 3*time.Second, 20*time.Millisecond, "run never failed")

	assert.EqualValues(t, 2, calls.Load())

	finished, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Contains(t, finished.Error.String, "failed after 2 attempts")
	assert.Contains(t, finished.Error.String, "browser pool exhausted")
}

func TestWorker_TimeoutMarksRunTimedOut(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	mem := queue.NewMemoryClient(8)

	conf := testEngineConfig()
	conf.RunTimeoutSec = 1

	s := seedDue(t, st)
	run := dispatchOne(t, st, engine.NewDispatcher(st, mem, conf), s.ID)

	stuck := runnerFunc(func(ctx context.Context, message queue.RunMessage) (*engine.RunReport, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	w := engine.NewWorker(st, mem, stuck, conf)
	w.RetryDelay = time.Millisecond
	startWorker(t, w)

	require.Eventually(t, func() bool {
		got, err := st.GetRun(ctx, run.ID)
		return err == nil && got.Status == models.RunStatusTimeout
	}, 5*time.Second, 50*time.Millisecond, "run never timed out")

	finished, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Contains(t, finished.Error.String, "deadline")

	settled, err := st.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, settled.Status)
}

func TestWorker_RecurringScheduleRollsForward(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	mem := queue.NewMemoryClient(8)
	conf := testEngineConfig()

	s := seedDue(t, st, func(s *models.Schedule) {
		s.Recurrence = models.RecurrenceDaily
	})
	dispatchOne(t, st, engine.NewDispatcher(st, mem, conf), s.ID)

	w := engine.NewWorker(st, mem, passingRunner(5), conf)
	w.RetryDelay = time.Millisecond
	startWorker(t, w)

	require.Eventually(t, func() bool {
		got, err := st.GetSchedule(ctx, s.ID)
		return err == nil && got.Status == models.StatusCompleted
	}, 3*time.Second, 20*time.Millisecond, "schedule never completed")

	// the next occurrence exists as its own scheduled row
	var successor *models.Schedule
	require.Eventually(t, func() bool {
		list, err := st.ListSchedules(ctx, models.ListFilter{Status: models.StatusScheduled})
		if err != nil || list.Total != 1 {
			return false
		}
		successor = &list.Schedules[0]
		return true
	}, 3*time.Second, 20*time.Millisecond, "next occurrence never appeared")

	rule, err := recurrence.FromSchedule(s)
	require.NoError(t, err)
	expected := rule.Next(s.RunAtUTC, time.Now().UTC())

	assert.NotEqual(t, s.ID, successor.ID)
	assert.True(t, successor.RunAtUTC.Equal(expected),
		"next occurrence %s, want %s", successor.RunAtUTC, expected)
	assert.Equal(t, models.RecurrenceDaily, successor.Recurrence)
	assert.Equal(t, s.SuiteID, successor.SuiteID)
	assert.Nil(t, successor.LastRun)

	// the finished row stays terminal, history intact
	original, err := st.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, original.Status)
	require.NotNil(t, original.LastRun)
}

func TestWorker_OneOffScheduleDoesNotRollForward(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	mem := queue.NewMemoryClient(8)
	conf := testEngineConfig()

	s := seedDue(t, st)
	dispatchOne(t, st, engine.NewDispatcher(st, mem, conf), s.ID)

	w := engine.NewWorker(st, mem, passingRunner(5), conf)
	w.RetryDelay = time.Millisecond
	startWorker(t, w)

	require.Eventually(t, func() bool {
		got, err := st.GetSchedule(ctx, s.ID)
		return err == nil && got.Status == models.StatusCompleted
	}, 3*time.Second, 20*time.Millisecond, "schedule never completed")

	list, err := st.ListSchedules(ctx, models.ListFilter{Status: models.StatusScheduled})
	require.NoError(t, err)
	assert.Equal(t, 0, list.Total)
}

func TestWorker_ManualRunKeepsNotes(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	mem := queue.NewMemoryClient(8)
	conf := testEngineConfig()

	s := seedDue(t, st, func(s *models.Schedule) {
		s.RunAtUTC = time.Now().UTC().Add(24 * time.Hour)
	})
	require.NoError(t, st.RequestRunNow(ctx, s.ID, "verify hotfix"))
	run := dispatchOne(t, st, engine.NewDispatcher(st, mem, conf), s.ID)

	w := engine.NewWorker(st, mem, passingRunner(5), conf)
	w.RetryDelay = time.Millisecond
	startWorker(t, w)

	require.Eventually(t, func() bool {
		got, err := st.GetRun(ctx, run.ID)
		return err == nil && got.Status == models.RunStatusCompleted
	}, 3*time.Second, 20*time.Millisecond, "run never completed")

	finished, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerManual, finished.TriggeredBy)
	assert.Equal(t, "verify hotfix", finished.Notes)
}
