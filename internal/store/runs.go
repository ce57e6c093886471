package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"suiterunner/internal/models"
)

const insertRunQuery = `
INSERT INTO schedule_runs (id, schedule_id, suite_id, status, triggered_by, notes, started_at,
                           finished_at, duration_ms, total, passed, failed, skipped, error)
VALUES (:id, :schedule_id, :suite_id, :status, :triggered_by, :notes, :started_at,
        :finished_at, :duration_ms, :total, :passed, :failed, :skipped, :error)`

// CreateRun inserts a run record and points the owning schedule's last run at
// it, both in one transaction so list views never see a dangling reference.
func (s *Store) CreateRun(ctx context.Context, run *models.ScheduleRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC().Truncate(time.Second)
	}

	row := newRunRow(run)
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, insertRunQuery, row); err != nil {
			return fmt.Errorf("could not insert run for schedule %s: %w", run.ScheduleID, err)
		}
		linkQuery := tx.Rebind(`UPDATE schedules SET last_run_id = ? WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, linkQuery, run.ID, run.ScheduleID); err != nil {
			return fmt.Errorf("could not link run %s to schedule %s: %w", run.ID, run.ScheduleID, err)
		}
		return nil
	})
}

const finishRunQuery = `
UPDATE schedule_runs
SET status = :status, finished_at = :finished_at, duration_ms = :duration_ms,
    total = :total, passed = :passed, failed = :failed, skipped = :skipped,
    error = :error, notes = :notes
WHERE id = :id`

// FinishRun records the outcome of a run
func (s *Store) FinishRun(ctx context.Context, run *models.ScheduleRun) error {
	res, err := s.db.NamedExecContext(ctx, finishRunQuery, newRunRow(run))
	if err != nil {
		return fmt.Errorf("could not finish run %s: %w", run.ID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun returns a single run record
func (s *Store) GetRun(ctx context.Context, id string) (*models.ScheduleRun, error) {
	var row runRow
	query := s.db.Rebind(`SELECT * FROM schedule_runs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("could not fetch run %s: %w", id, err)
	}
	return row.toModel()
}

// ListRuns returns the most recent runs of a schedule, newest first
func (s *Store) ListRuns(ctx context.Context, scheduleID string, limit int) ([]models.ScheduleRun, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []runRow
	query := s.db.Rebind(`SELECT * FROM schedule_runs WHERE schedule_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, query, scheduleID, limit); err != nil {
		return nil, fmt.Errorf("could not list runs for schedule %s: %w", scheduleID, err)
	}

	runs := make([]models.ScheduleRun, 0, len(rows))
	for i := range rows {
		run, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

// SweepStaleRuns fails runs that have been executing since before the cutoff.
// Those runs belong to workers that died without reporting a result. The
// owning schedules are failed alongside so they do not sit on running
// forever. Returns the IDs of the swept runs.
func (s *Store) SweepStaleRuns(ctx context.Context, cutoff time.Time) ([]string, error) {
	var stale []struct {
		ID         string `db:"id"`
		ScheduleID string `db:"schedule_id"`
	}
	selectQuery := s.db.Rebind(`SELECT id, schedule_id FROM schedule_runs WHERE status = 'running' AND started_at < ?`)
	if err := s.db.SelectContext(ctx, &stale, selectQuery, formatTime(cutoff)); err != nil {
		return nil, fmt.Errorf("could not select stale runs: %w", err)
	}

	now := formatTime(time.Now())
	var swept []string
	for _, candidate := range stale {
		err := s.withTx(ctx, func(tx *sqlx.Tx) error {
			runQuery := tx.Rebind(`UPDATE schedule_runs SET status = 'failed', error = ?, finished_at = ?
			                       WHERE id = ? AND status = 'running'`)
			res, err := tx.ExecContext(ctx, runQuery, "run abandoned: worker never reported a result", now, candidate.ID)
			if err != nil {
				return fmt.Errorf("could not sweep run %s: %w", candidate.ID, err)
			}
			rows, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if rows == 0 {
				// A worker finished the run between the select and now
				return nil
			}

			scheduleQuery := tx.Rebind(`UPDATE schedules SET status = 'failed', next_run = NULL, updated_at = ?
			                            WHERE id = ? AND status = 'running' AND deleted_at IS NULL`)
			if _, err := tx.ExecContext(ctx, scheduleQuery, now, candidate.ScheduleID); err != nil {
				return fmt.Errorf("could not fail schedule %s for stale run: %w", candidate.ScheduleID, err)
			}
			swept = append(swept, candidate.ID)
			return nil
		})
		if err != nil {
			return swept, err
		}
	}
	return swept, nil
}
