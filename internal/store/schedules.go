package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"

	"suiterunner/internal/models"
)

const (
	// DefaultListLimit applies when a list request carries no limit
	DefaultListLimit = 50
	// MaxListLimit caps a single page
	MaxListLimit = 200
)

const insertScheduleQuery = `
INSERT INTO schedules (id, suite_id, suite_name, status, run_at_utc, timezone, recurrence, weekdays,
                       interval_days, priority, notes, options, next_run, created_at, updated_at)
VALUES (:id, :suite_id, :suite_name, :status, :run_at_utc, :timezone, :recurrence, :weekdays,
        :interval_days, :priority, :notes, :options, :next_run, :created_at, :updated_at)`

// CreateSchedule inserts a new schedule. Empty IDs and timestamps are filled
// in, and NextRun defaults to the run instant so the planned occurrence shows
// up without extra bookkeeping.
func (s *Store) CreateSchedule(ctx context.Context, schedule *models.Schedule) error {
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	if schedule.Status == "" {
		schedule.Status = models.StatusScheduled
	}
	now := time.Now().UTC().Truncate(time.Second)
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	schedule.UpdatedAt = schedule.CreatedAt
	if !schedule.NextRun.Valid && !schedule.Status.Terminal() {
		schedule.NextRun = null.TimeFrom(schedule.RunAtUTC)
	}

	row, err := newScheduleRow(schedule)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, insertScheduleQuery, row); err != nil {
		return fmt.Errorf("could not insert schedule: %w", err)
	}
	return nil
}

// GetSchedule returns a single schedule by ID. Soft-deleted schedules behave
// as if they never existed.
func (s *Store) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	var row scheduleRow
	query := s.db.Rebind(`SELECT` + scheduleColumns + scheduleFrom + ` WHERE s.id = ? AND s.deleted_at IS NULL`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("could not fetch schedule %s: %w", id, err)
	}
	return row.toModel()
}

// GetScheduleDetail returns a schedule together with its most recent runs
func (s *Store) GetScheduleDetail(ctx context.Context, id string, runLimit int) (*models.ScheduleDetail, error) {
	schedule, err := s.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	runs, err := s.ListRuns(ctx, id, runLimit)
	if err != nil {
		return nil, err
	}
	return &models.ScheduleDetail{Schedule: *schedule, Runs: runs}, nil
}

// ListSchedules returns a filtered page plus the unpaged total for the same
// filter. ToDate is an inclusive UTC calendar day, so the comparison runs
// against the start of the following day.
func (s *Store) ListSchedules(ctx context.Context, filter models.ListFilter) (*models.ScheduleList, error) {
	where := []string{"s.deleted_at IS NULL"}
	var args []any

	if filter.Status != "" {
		where = append(where, "s.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.SuiteID != "" {
		where = append(where, "s.suite_id = ?")
		args = append(args, filter.SuiteID)
	}
	if filter.FromDate != "" {
		day, err := time.Parse(models.DateLayout, filter.FromDate)
		if err != nil {
			return nil, fmt.Errorf("invalid from_date %q: %w", filter.FromDate, err)
		}
		where = append(where, "s.run_at_utc >= ?")
		args = append(args, formatTime(day))
	}
	if filter.ToDate != "" {
		day, err := time.Parse(models.DateLayout, filter.ToDate)
		if err != nil {
			return nil, fmt.Errorf("invalid to_date %q: %w", filter.ToDate, err)
		}
		where = append(where, "s.run_at_utc < ?")
		args = append(args, formatTime(day.AddDate(0, 0, 1)))
	}

	condition := " WHERE " + strings.Join(where, " AND ")

	var total int
	countQuery := s.db.Rebind(`SELECT COUNT(*) FROM schedules s` + condition)
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, fmt.Errorf("could not count schedules: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var rows []scheduleRow
	pageQuery := s.db.Rebind(`SELECT` + scheduleColumns + scheduleFrom + condition +
		` ORDER BY s.run_at_utc ASC, s.id ASC LIMIT ? OFFSET ?`)
	pageArgs := append(append([]any{}, args...), limit, offset)
	if err := s.db.SelectContext(ctx, &rows, pageQuery, pageArgs...); err != nil {
		return nil, fmt.Errorf("could not list schedules: %w", err)
	}

	schedules := make([]models.Schedule, 0, len(rows))
	for i := range rows {
		schedule, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *schedule)
	}

	return &models.ScheduleList{
		Schedules: schedules,
		Total:     total,
		Limit:     limit,
		Offset:    offset,
	}, nil
}

const updateScheduleQuery = `
UPDATE schedules
SET suite_id = :suite_id, suite_name = :suite_name, run_at_utc = :run_at_utc, timezone = :timezone,
    recurrence = :recurrence, weekdays = :weekdays, interval_days = :interval_days,
    priority = :priority, notes = :notes, options = :options, next_run = :next_run,
    updated_at = :updated_at
WHERE id = :id AND status = 'scheduled' AND deleted_at IS NULL`

// UpdateSchedule writes the schedule's editable fields. Only pending
// schedules can change, anything already running or settled is immutable.
func (s *Store) UpdateSchedule(ctx context.Context, schedule *models.Schedule) error {
	schedule.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	if !schedule.Status.Terminal() {
		schedule.NextRun = null.TimeFrom(schedule.RunAtUTC)
	}

	row, err := newScheduleRow(schedule)
	if err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx, updateScheduleQuery, row)
	if err != nil {
		return fmt.Errorf("could not update schedule %s: %w", schedule.ID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.resolveGuardFailure(ctx, schedule.ID, "update")
	}
	return nil
}

// TransitionSchedule moves a schedule from one lifecycle status to another.
// The from status is part of the WHERE clause, so a row changed by a
// concurrent writer is never transitioned twice. Terminal transitions clear
// the planned next run.
func (s *Store) TransitionSchedule(ctx context.Context, id string, from, to models.ScheduleStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s cannot move to %s", ErrInvalidState, from, to)
	}

	query := `UPDATE schedules SET status = ?, updated_at = ? WHERE id = ? AND status = ? AND deleted_at IS NULL`
	if to.Terminal() {
		query = `UPDATE schedules SET status = ?, next_run = NULL, run_asap = 0, run_asap_notes = '', updated_at = ?
		         WHERE id = ? AND status = ? AND deleted_at IS NULL`
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), string(to), formatTime(time.Now()), id, string(from))
	if err != nil {
		return fmt.Errorf("could not transition schedule %s to %s: %w", id, to, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.resolveGuardFailure(ctx, id, transitionVerb(to))
	}
	return nil
}

// transitionVerb names the operation a transition implements, for error text
func transitionVerb(to models.ScheduleStatus) string {
	switch to {
	case models.StatusRunning:
		return "start"
	case models.StatusCompleted:
		return "complete"
	case models.StatusFailed:
		return "fail"
	case models.StatusCanceled:
		return "cancel"
	case models.StatusScheduled:
		return "release"
	default:
		return string(to)
	}
}

// MarkScheduleRunning claims a pending schedule for execution
func (s *Store) MarkScheduleRunning(ctx context.Context, id string) error {
	return s.TransitionSchedule(ctx, id, models.StatusScheduled, models.StatusRunning)
}

// CompleteSchedule settles a running schedule as completed
func (s *Store) CompleteSchedule(ctx context.Context, id string) error {
	return s.TransitionSchedule(ctx, id, models.StatusRunning, models.StatusCompleted)
}

// FailSchedule settles a running schedule as failed
func (s *Store) FailSchedule(ctx context.Context, id string) error {
	return s.TransitionSchedule(ctx, id, models.StatusRunning, models.StatusFailed)
}

// CancelSchedule withdraws a pending schedule before it runs
func (s *Store) CancelSchedule(ctx context.Context, id string) error {
	return s.TransitionSchedule(ctx, id, models.StatusScheduled, models.StatusCanceled)
}

// ReleaseSchedule puts a claimed schedule back into the pending pool. Used
// when the claim succeeded but handing the run to the queue did not.
func (s *Store) ReleaseSchedule(ctx context.Context, id string) error {
	return s.TransitionSchedule(ctx, id, models.StatusRunning, models.StatusScheduled)
}

// RequestRunNow flags a pending schedule for immediate dispatch. The next
// dispatcher pass claims flagged schedules regardless of their run time.
func (s *Store) RequestRunNow(ctx context.Context, id, notes string) error {
	query := s.db.Rebind(`UPDATE schedules SET run_asap = 1, run_asap_notes = ?, updated_at = ?
	                      WHERE id = ? AND status = 'scheduled' AND deleted_at IS NULL`)
	res, err := s.db.ExecContext(ctx, query, notes, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("could not flag schedule %s for immediate run: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.resolveGuardFailure(ctx, id, "run now")
	}
	return nil
}

// DeleteSchedule soft-deletes a schedule in any state. Run history stays
// behind for audit queries.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	now := formatTime(time.Now())
	query := s.db.Rebind(`UPDATE schedules SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`)
	res, err := s.db.ExecContext(ctx, query, now, now, id)
	if err != nil {
		return fmt.Errorf("could not delete schedule %s: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ScheduleStats aggregates the dashboard summary counters
func (s *Store) ScheduleStats(ctx context.Context, now time.Time) (*models.ScheduleStats, error) {
	stats := &models.ScheduleStats{
		ByStatus: map[models.ScheduleStatus]int{
			models.StatusScheduled: 0,
			models.StatusRunning:   0,
			models.StatusCompleted: 0,
			models.StatusFailed:    0,
			models.StatusCanceled:  0,
		},
	}

	var counts []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	query := `SELECT status, COUNT(*) AS count FROM schedules WHERE deleted_at IS NULL GROUP BY status`
	if err := s.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("could not aggregate schedule statuses: %w", err)
	}
	for _, c := range counts {
		stats.ByStatus[models.ScheduleStatus(c.Status)] = c.Count
		stats.Total += c.Count
	}

	upcoming := s.db.Rebind(`SELECT COUNT(*) FROM schedules
	                         WHERE deleted_at IS NULL AND status = 'scheduled' AND run_at_utc >= ? AND run_at_utc < ?`)
	if err := s.db.GetContext(ctx, &stats.Next24h, upcoming, formatTime(now), formatTime(now.Add(24*time.Hour))); err != nil {
		return nil, fmt.Errorf("could not count upcoming schedules: %w", err)
	}

	overdue := s.db.Rebind(`SELECT COUNT(*) FROM schedules
	                        WHERE deleted_at IS NULL AND status = 'scheduled' AND run_at_utc < ?`)
	if err := s.db.GetContext(ctx, &stats.Overdue, overdue, formatTime(now)); err != nil {
		return nil, fmt.Errorf("could not count overdue schedules: %w", err)
	}

	return stats, nil
}

// ClaimedSchedule is a schedule the dispatcher took ownership of. Manual is
// set when the claim came from a run-now request rather than the due time.
type ClaimedSchedule struct {
	models.Schedule
	Manual      bool
	ManualNotes string
}

// ClaimDue atomically moves due schedules to running and returns them. Each
// claim is a guarded single-row update, so concurrent dispatchers never claim
// the same schedule twice; rows lost to a competing claim are skipped.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]ClaimedSchedule, error) {
	if limit <= 0 {
		limit = 10
	}

	var candidates []struct {
		ID           string `db:"id"`
		RunASAP      int    `db:"run_asap"`
		RunASAPNotes string `db:"run_asap_notes"`
	}
	selectQuery := s.db.Rebind(`SELECT id, run_asap, run_asap_notes FROM schedules
	                            WHERE deleted_at IS NULL AND status = 'scheduled' AND (run_at_utc <= ? OR run_asap = 1)
	                            ORDER BY run_at_utc ASC, priority DESC, id ASC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &candidates, selectQuery, formatTime(now), limit); err != nil {
		return nil, fmt.Errorf("could not select due schedules: %w", err)
	}

	claimQuery := s.db.Rebind(`UPDATE schedules SET status = 'running', run_asap = 0, run_asap_notes = '', updated_at = ?
	                           WHERE id = ? AND status = 'scheduled' AND deleted_at IS NULL`)

	var claimed []ClaimedSchedule
	for _, candidate := range candidates {
		res, err := s.db.ExecContext(ctx, claimQuery, formatTime(now), candidate.ID)
		if err != nil {
			return claimed, fmt.Errorf("could not claim schedule %s: %w", candidate.ID, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return claimed, err
		}
		if rows == 0 {
			// Lost the claim to another dispatcher
			continue
		}

		schedule, err := s.GetSchedule(ctx, candidate.ID)
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, ClaimedSchedule{
			Schedule:    *schedule,
			Manual:      candidate.RunASAP == 1,
			ManualNotes: candidate.RunASAPNotes,
		})
	}
	return claimed, nil
}

// resolveGuardFailure distinguishes a missing schedule from one whose status
// blocked a guarded update.
func (s *Store) resolveGuardFailure(ctx context.Context, id, operation string) error {
	var status string
	query := s.db.Rebind(`SELECT status FROM schedules WHERE id = ? AND deleted_at IS NULL`)
	err := s.db.GetContext(ctx, &status, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("could not inspect schedule %s: %w", id, err)
	}
	return fmt.Errorf("%w: schedule %s is %s, %s rejected", ErrInvalidState, id, status, operation)
}
