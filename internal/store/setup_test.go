package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"suiterunner/internal/models"
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

func newSchedule(mutate ...func(*models.Schedule)) *models.Schedule {
	s := &models.Schedule{
		SuiteID:    "suite-login",
		SuiteName:  "Login flows",
		Status:     models.StatusScheduled,
		RunAtUTC:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Timezone:   "UTC",
		Recurrence: models.RecurrenceNone,
		Priority:   5,
		Options:    models.DefaultExecutionOptions(),
	}
	for _, fn := range mutate {
		fn(s)
	}
	return s
}

func seedSchedule(t *testing.T, st *store.Store, mutate ...func(*models.Schedule)) *models.Schedule {
	t.Helper()
	s := newSchedule(mutate...)
	require.NoError(t, st.CreateSchedule(context.Background(), s))
	return s
}

// seedRunning creates a schedule and claims it, mirroring what the dispatcher
// does before a run starts.
func seedRunning(t *testing.T, st *store.Store, mutate ...func(*models.Schedule)) *models.Schedule {
	t.Helper()
	s := seedSchedule(t, st, mutate...)
	require.NoError(t, st.MarkScheduleRunning(context.Background(), s.ID))
	s.Status = models.StatusRunning
	return s
}
