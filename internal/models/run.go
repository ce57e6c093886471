package models

import (
	"time"

	"github.com/guregu/null/v6"
)

// RunStatus is the lifecycle state of a single execution instance
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
	RunStatusTimeout   RunStatus = "timeout"
)

// Terminal returns true once the run can no longer change state
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCanceled || s == RunStatusTimeout
}

// Sources that can trigger a run
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// ScheduleRun is one concrete execution instance produced by a Schedule.
// A schedule accumulates many runs over time when recurring; the schedule
// list only carries the latest as a RunSummary.
type ScheduleRun struct {
	ID          string      `json:"id"`
	ScheduleID  string      `json:"scheduleId"`
	SuiteID     string      `json:"suiteId"`
	Status      RunStatus   `json:"status"`
	TriggeredBy string      `json:"triggeredBy"` // "schedule" for timer dispatch, "manual" for run-now
	Notes       string      `json:"notes,omitempty"`
	StartedAt   time.Time   `json:"startedAt"`
	FinishedAt  null.Time   `json:"finishedAt"`
	DurationMS  int64       `json:"durationMs"`
	Total       int         `json:"total"`
	Passed      int         `json:"passed"`
	Failed      int         `json:"failed"`
	Skipped     int         `json:"skipped"`
	Error       null.String `json:"error"`
}

// Summary condenses the run into the shape carried on Schedule.LastRun
func (r *ScheduleRun) Summary() *RunSummary {
	return &RunSummary{
		RunID:      r.ID,
		Status:     r.Status,
		Total:      r.Total,
		Passed:     r.Passed,
		Failed:     r.Failed,
		Skipped:    r.Skipped,
		DurationMS: r.DurationMS,
		StartedAt:  r.StartedAt,
	}
}

// RunSummary is the most recent run of a schedule, denormalised for list views
type RunSummary struct {
	RunID      string    `json:"runId"`
	Status     RunStatus `json:"status"`
	Total      int       `json:"total"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	DurationMS int64     `json:"durationMs"`
	StartedAt  time.Time `json:"startedAt"`
}

// Equal checks that 2 RunSummary are the same
func (r *RunSummary) Equal(other *RunSummary) bool {
	if other == nil {
		return false
	}
	return r.RunID == other.RunID &&
		r.Status == other.Status &&
		r.Total == other.Total &&
		r.Passed == other.Passed &&
		r.Failed == other.Failed &&
		r.Skipped == other.Skipped &&
		r.DurationMS == other.DurationMS &&
		r.StartedAt.Equal(other.StartedAt)
}
