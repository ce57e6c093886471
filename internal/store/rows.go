package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/guregu/null/v6"

	"suiterunner/internal/models"
)

// scheduleRow mirrors the schedules table. Timestamps stay strings until the
// row is converted to a model, every driver hands TEXT columns back as
// strings so no driver-specific time parsing is involved.
type scheduleRow struct {
	ID           string         `db:"id"`
	SuiteID      string         `db:"suite_id"`
	SuiteName    string         `db:"suite_name"`
	Status       string         `db:"status"`
	RunAtUTC     string         `db:"run_at_utc"`
	Timezone     string         `db:"timezone"`
	Recurrence   string         `db:"recurrence"`
	Weekdays     string         `db:"weekdays"`
	IntervalDays int            `db:"interval_days"`
	Priority     int            `db:"priority"`
	Notes        string         `db:"notes"`
	Options      string         `db:"options"`
	NextRun      sql.NullString `db:"next_run"`
	RunASAP      int            `db:"run_asap"`
	RunASAPNotes string         `db:"run_asap_notes"`
	LastRunID    sql.NullString `db:"last_run_id"`
	CreatedAt    string         `db:"created_at"`
	UpdatedAt    string         `db:"updated_at"`

	// Joined from schedule_runs via last_run_id
	LastRunRef      sql.NullString `db:"lr_id"`
	LastRunStatus   sql.NullString `db:"lr_status"`
	LastRunStarted  sql.NullString `db:"lr_started_at"`
	LastRunDuration sql.NullInt64  `db:"lr_duration_ms"`
	LastRunTotal    sql.NullInt64  `db:"lr_total"`
	LastRunPassed   sql.NullInt64  `db:"lr_passed"`
	LastRunFailed   sql.NullInt64  `db:"lr_failed"`
	LastRunSkipped  sql.NullInt64  `db:"lr_skipped"`
}

// scheduleColumns is the shared SELECT list. The LEFT JOIN pulls in the most
// recent run so list views do not need a second query per schedule.
const scheduleColumns = `
	s.id, s.suite_id, s.suite_name, s.status, s.run_at_utc, s.timezone,
	s.recurrence, s.weekdays, s.interval_days, s.priority, s.notes, s.options,
	s.next_run, s.run_asap, s.run_asap_notes, s.last_run_id, s.created_at, s.updated_at,
	lr.id AS lr_id, lr.status AS lr_status, lr.started_at AS lr_started_at,
	lr.duration_ms AS lr_duration_ms, lr.total AS lr_total, lr.passed AS lr_passed,
	lr.failed AS lr_failed, lr.skipped AS lr_skipped`

const scheduleFrom = ` FROM schedules s LEFT JOIN schedule_runs lr ON lr.id = s.last_run_id`

func newScheduleRow(schedule *models.Schedule) (*scheduleRow, error) {
	optionsJSON, err := json.Marshal(schedule.Options)
	if err != nil {
		return nil, fmt.Errorf("could not encode execution options: %w", err)
	}

	row := &scheduleRow{
		ID:           schedule.ID,
		SuiteID:      schedule.SuiteID,
		SuiteName:    schedule.SuiteName,
		Status:       string(schedule.Status),
		RunAtUTC:     formatTime(schedule.RunAtUTC),
		Timezone:     schedule.Timezone,
		Recurrence:   string(schedule.Recurrence),
		Weekdays:     strings.Join(schedule.Weekdays, ","),
		IntervalDays: schedule.IntervalDays,
		Priority:     schedule.Priority,
		Notes:        schedule.Notes,
		Options:      string(optionsJSON),
		CreatedAt:    formatTime(schedule.CreatedAt),
		UpdatedAt:    formatTime(schedule.UpdatedAt),
	}
	if schedule.NextRun.Valid {
		row.NextRun = sql.NullString{String: formatTime(schedule.NextRun.Time), Valid: true}
	}
	return row, nil
}

func (r *scheduleRow) toModel() (*models.Schedule, error) {
	runAt, err := parseTime(r.RunAtUTC)
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	var options models.ExecutionOptions
	if err := json.Unmarshal([]byte(r.Options), &options); err != nil {
		return nil, fmt.Errorf("could not decode execution options for schedule %s: %w", r.ID, err)
	}

	schedule := &models.Schedule{
		ID:           r.ID,
		SuiteID:      r.SuiteID,
		SuiteName:    r.SuiteName,
		Status:       models.ScheduleStatus(r.Status),
		RunAtUTC:     runAt,
		Timezone:     r.Timezone,
		Recurrence:   models.RecurrencePattern(r.Recurrence),
		Weekdays:     splitList(r.Weekdays),
		IntervalDays: r.IntervalDays,
		Priority:     r.Priority,
		Notes:        r.Notes,
		Options:      options.Normalized(),
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}

	if r.NextRun.Valid {
		next, err := parseTime(r.NextRun.String)
		if err != nil {
			return nil, err
		}
		schedule.NextRun = null.TimeFrom(next)
	}

	if r.LastRunRef.Valid {
		started, err := parseTime(r.LastRunStarted.String)
		if err != nil {
			return nil, err
		}
		schedule.LastRun = &models.RunSummary{
			RunID:      r.LastRunRef.String,
			Status:     models.RunStatus(r.LastRunStatus.String),
			Total:      int(r.LastRunTotal.Int64),
			Passed:     int(r.LastRunPassed.Int64),
			Failed:     int(r.LastRunFailed.Int64),
			Skipped:    int(r.LastRunSkipped.Int64),
			DurationMS: r.LastRunDuration.Int64,
			StartedAt:  started,
		}
	}

	return schedule, nil
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, ",")
}

// runRow mirrors the schedule_runs table
type runRow struct {
	ID          string         `db:"id"`
	ScheduleID  string         `db:"schedule_id"`
	SuiteID     string         `db:"suite_id"`
	Status      string         `db:"status"`
	TriggeredBy string         `db:"triggered_by"`
	Notes       string         `db:"notes"`
	StartedAt   string         `db:"started_at"`
	FinishedAt  sql.NullString `db:"finished_at"`
	DurationMS  int64          `db:"duration_ms"`
	Total       int            `db:"total"`
	Passed      int            `db:"passed"`
	Failed      int            `db:"failed"`
	Skipped     int            `db:"skipped"`
	Error       sql.NullString `db:"error"`
}

func newRunRow(run *models.ScheduleRun) *runRow {
	row := &runRow{
		ID:          run.ID,
		ScheduleID:  run.ScheduleID,
		SuiteID:     run.SuiteID,
		Status:      string(run.Status),
		TriggeredBy: run.TriggeredBy,
		Notes:       run.Notes,
		StartedAt:   formatTime(run.StartedAt),
		DurationMS:  run.DurationMS,
		Total:       run.Total,
		Passed:      run.Passed,
		Failed:      run.Failed,
		Skipped:     run.Skipped,
	}
	if run.FinishedAt.Valid {
		row.FinishedAt = sql.NullString{String: formatTime(run.FinishedAt.Time), Valid: true}
	}
	if run.Error.Valid {
		row.Error = sql.NullString{String: run.Error.String, Valid: true}
	}
	return row
}

func (r *runRow) toModel() (*models.ScheduleRun, error) {
	started, err := parseTime(r.StartedAt)
	if err != nil {
		return nil, err
	}

	run := &models.ScheduleRun{
		ID:          r.ID,
		ScheduleID:  r.ScheduleID,
		SuiteID:     r.SuiteID,
		Status:      models.RunStatus(r.Status),
		TriggeredBy: r.TriggeredBy,
		Notes:       r.Notes,
		StartedAt:   started,
		DurationMS:  r.DurationMS,
		Total:       r.Total,
		Passed:      r.Passed,
		Failed:      r.Failed,
		Skipped:     r.Skipped,
	}
	if r.FinishedAt.Valid {
		finished, err := parseTime(r.FinishedAt.String)
		if err != nil {
			return nil, err
		}
		run.FinishedAt = null.TimeFrom(finished)
	}
	if r.Error.Valid {
		run.Error = null.StringFrom(r.Error.String)
	}
	return run, nil
}
