package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"suiterunner/internal/models"
	"suiterunner/internal/store"
)

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return store.New(sqlx.NewDb(db, "sqlmock")), mock
}

func TestStore_CreateSchedule_DatabaseError(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO schedules").WillReturnError(errors.New("disk I/O error"))

	err := st.CreateSchedule(context.Background(), newSchedule())
	assert.ErrorContains(t, err, "could not insert schedule")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A schedule can be claimed by another dispatcher between the candidate
// select and the guarded update. The loser must skip the row silently.
func TestStore_ClaimDue_LostRace(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, run_asap, run_asap_notes FROM schedules").
		WillReturnRows(sqlmock.NewRows([]string{"id", "run_asap", "run_asap_notes"}).
			AddRow("sched-1", 0, ""))
	mock.ExpectExec("UPDATE schedules SET status = 'running'").
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := st.ClaimDue(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Transition_ReportsCurrentStatus(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("UPDATE schedules SET status = ").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM schedules").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))

	err := st.CancelSchedule(context.Background(), "sched-1")
	assert.ErrorIs(t, err, store.ErrInvalidState)
	assert.ErrorContains(t, err, "completed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateRun_RollsBackOnLinkFailure(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO schedule_runs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE schedules SET last_run_id").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	run := &models.ScheduleRun{ScheduleID: "sched-1", SuiteID: "suite-a", StartedAt: time.Now()}
	err := st.CreateRun(context.Background(), run)
	assert.ErrorContains(t, err, "could not link run")
	assert.NoError(t, mock.ExpectationsWereMet())
}
