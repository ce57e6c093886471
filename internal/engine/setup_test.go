package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"suiterunner/internal/config"
	"suiterunner/internal/engine"
	"suiterunner/internal/models"
	"suiterunner/internal/queue"
	"suiterunner/internal/store"
)

// newTestStore opens a fresh in-memory SQLite database. A single connection
// keeps every query on the same database instance.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	st := store.New(db)
	require.NoError(t, st.EnsureSchema(context.Background()))
	return st
}

// testEngineConfig keeps the timings short enough for tests
func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		DispatchIntervalSec: 1,
		DispatchBatch:       10,
		RunTimeoutSec:       60,
		TestDurationMS:      1,
	}
}

// seedDue inserts a schedule whose run time has already passed, so the next
// dispatch scan claims it.
func seedDue(t *testing.T, st *store.Store, mutate ...func(*models.Schedule)) *models.Schedule {
	t.Helper()

	s := &models.Schedule{
		SuiteID:    "suite-login",
		SuiteName:  "Login flows",
		Status:     models.StatusScheduled,
		RunAtUTC:   time.Now().UTC().Add(-time.Minute).Truncate(time.Second),
		Timezone:   "UTC",
		Recurrence: models.RecurrenceNone,
		Priority:   5,
		Options:    models.DefaultExecutionOptions(),
	}
	for _, fn := range mutate {
		fn(s)
	}
	require.NoError(t, st.CreateSchedule(context.Background(), s))
	return s
}

// runnerFunc adapts a function to the SuiteRunner interface
type runnerFunc func(ctx context.Context, message queue.RunMessage) (*engine.RunReport, error)

func (f runnerFunc) Run(ctx context.Context, message queue.RunMessage) (*engine.RunReport, error) {
	return f(ctx, message)
}

// passingRunner reports every case green without sleeping
func passingRunner(total int) runnerFunc {
	return func(ctx context.Context, message queue.RunMessage) (*engine.RunReport, error) {
		return &engine.RunReport{
			Status: models.RunStatusCompleted,
			Total:  total,
			Passed: total,
		}, nil
	}
}

// startWorker runs the worker until the test ends
func startWorker(t *testing.T, w *engine.Worker) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start()
	}()
	t.Cleanup(func() {
		w.Stop()
		<-done
	})
}
