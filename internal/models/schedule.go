package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/guregu/null/v6"
)

// ScheduleStatus is the lifecycle state of a Schedule
type ScheduleStatus string

const (
	StatusScheduled ScheduleStatus = "scheduled"
	StatusRunning   ScheduleStatus = "running"
	StatusCompleted ScheduleStatus = "completed"
	StatusFailed    ScheduleStatus = "failed"
	StatusCanceled  ScheduleStatus = "canceled"
)

// scheduleTransitions lists the forward transitions of the lifecycle.
// Terminal states have no entries: a completed, failed or canceled schedule
// is never resurrected, the next occurrence of a recurring schedule is a new row.
var scheduleTransitions = map[ScheduleStatus][]ScheduleStatus{
	StatusScheduled: {StatusRunning, StatusCanceled},
	StatusRunning:   {StatusCompleted, StatusFailed},
}

// Valid returns true if the status is one of the known lifecycle states
func (s ScheduleStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusRunning, StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Terminal returns true if no transition leaves the status
func (s ScheduleStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// CanTransitionTo checks whether moving from s to next is a legal lifecycle transition
func (s ScheduleStatus) CanTransitionTo(next ScheduleStatus) bool {
	for _, allowed := range scheduleTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RecurrencePattern determines how a schedule repeats after its anchor run time
type RecurrencePattern string

const (
	RecurrenceNone    RecurrencePattern = "none"
	RecurrenceDaily   RecurrencePattern = "daily"
	RecurrenceWeekly  RecurrencePattern = "weekly"
	RecurrenceMonthly RecurrencePattern = "monthly"
	RecurrenceCustom  RecurrencePattern = "custom"
)

func (p RecurrencePattern) Valid() bool {
	switch p {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly, RecurrenceCustom:
		return true
	}
	return false
}

// Recurring returns true for any pattern that produces further occurrences
func (p RecurrencePattern) Recurring() bool {
	return p.Valid() && p != RecurrenceNone
}

// weekdayNames maps the wire representation of a weekday to time.Weekday
var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday converts a wire weekday name (case-insensitive) to a time.Weekday
func ParseWeekday(name string) (time.Weekday, error) {
	if day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return day, nil
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", name)
}

// WeekdayName is the inverse of ParseWeekday
func WeekdayName(day time.Weekday) string {
	return strings.ToLower(day.String())
}

// ExecutionMode tells the engine whether the browser runs with a visible window
type ExecutionMode string

const (
	ModeHeadless ExecutionMode = "headless"
	ModeHeaded   ExecutionMode = "headed"
)

// ExecutionStrategy tells the engine how to order the tests within a run
type ExecutionStrategy string

const (
	ExecParallel   ExecutionStrategy = "parallel"
	ExecSequential ExecutionStrategy = "sequential"
)

const (
	MinRetries = 0
	MaxRetries = 3
)

// ExecutionOptions is the closed set of options handed through to the execution
// engine. Browser and Environment are not interpreted here.
type ExecutionOptions struct {
	Mode        ExecutionMode     `json:"mode"`
	Execution   ExecutionStrategy `json:"execution"`
	Retries     int               `json:"retries"`
	Browser     string            `json:"browser,omitempty"`
	Environment string            `json:"environment,omitempty"`
}

// DefaultExecutionOptions returns the options used when a request carries none
func DefaultExecutionOptions() ExecutionOptions {
	return ExecutionOptions{
		Mode:      ModeHeadless,
		Execution: ExecSequential,
		Retries:   0,
		Browser:   "chromium",
	}
}

// Normalized fills the enum fields with their defaults when empty
func (o ExecutionOptions) Normalized() ExecutionOptions {
	if o.Mode == "" {
		o.Mode = ModeHeadless
	}
	if o.Execution == "" {
		o.Execution = ExecSequential
	}
	return o
}

// Validate checks the normalized options against the recognised values
func (o ExecutionOptions) Validate() *ValidationError {
	o = o.Normalized()
	if o.Mode != ModeHeadless && o.Mode != ModeHeaded {
		return invalid("options.mode", "mode must be %q or %q", ModeHeadless, ModeHeaded)
	}
	if o.Execution != ExecParallel && o.Execution != ExecSequential {
		return invalid("options.execution", "execution must be %q or %q", ExecParallel, ExecSequential)
	}
	if o.Retries < MinRetries || o.Retries > MaxRetries {
		return invalid("options.retries", "retries must be between %d and %d", MinRetries, MaxRetries)
	}
	return nil
}

// Schedule is a persisted request to run a test suite at a given time, optionally
// recurring. The suite itself is owned by the catalog service and never mutated here.
type Schedule struct {
	ID           string            `json:"id"`
	SuiteID      string            `json:"suiteId"`
	SuiteName    string            `json:"suiteName"`
	Status       ScheduleStatus    `json:"status"`
	RunAtUTC     time.Time         `json:"runAtUtc"`               // Absolute run instant
	Timezone     string            `json:"timezone"`               // IANA zone the operator entered the time in
	Recurrence   RecurrencePattern `json:"recurrence"`             // How the schedule repeats, "none" for one-off
	Weekdays     []string          `json:"weekdays,omitempty"`     // Weekly pattern day set
	IntervalDays int               `json:"intervalDays,omitempty"` // Custom pattern repeat interval
	Priority     int               `json:"priority"`               // 1-10, display ordering only
	Notes        string            `json:"notes,omitempty"`
	Options      ExecutionOptions  `json:"executionOptions"`
	NextRun      null.Time         `json:"nextRun"` // Next planned instant, unset once terminal
	LastRun      *RunSummary       `json:"lastRun,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// Location resolves the schedule's timezone, defaulting to UTC when unset
func (s *Schedule) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

// RunAtLocal projects RunAtUTC into the schedule's timezone. It is derived for
// display and never stored. An unresolvable zone falls back to the UTC instant.
func (s *Schedule) RunAtLocal() time.Time {
	loc, err := s.Location()
	if err != nil {
		return s.RunAtUTC
	}
	return s.RunAtUTC.In(loc)
}

// WeekdaySet parses the schedule's weekday names
func (s *Schedule) WeekdaySet() ([]time.Weekday, error) {
	days := make([]time.Weekday, 0, len(s.Weekdays))
	for _, name := range s.Weekdays {
		day, err := ParseWeekday(name)
		if err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	return days, nil
}

// MinutesUntilRun is the whole number of minutes between now and the run
// instant. Negative values mean the schedule is overdue.
func (s *Schedule) MinutesUntilRun(now time.Time) int {
	return int(s.RunAtUTC.Sub(now).Minutes())
}

// IsOverdue reports whether a schedule is still waiting past its run time
func (s *Schedule) IsOverdue(now time.Time) bool {
	return s.Status == StatusScheduled && s.RunAtUTC.Before(now)
}

// CanCancel reports whether a cancel request is legal in the current status
func (s *Schedule) CanCancel() bool {
	return s.Status.CanTransitionTo(StatusCanceled)
}

// CanUpdate reports whether the schedule still accepts administrative updates
func (s *Schedule) CanUpdate() bool {
	return s.Status == StatusScheduled
}

// CanRunNow reports whether an immediate execution can be requested
func (s *Schedule) CanRunNow() bool {
	return s.Status == StatusScheduled
}

// Recurring returns true when the schedule produces further occurrences
func (s *Schedule) Recurring() bool {
	return s.Recurrence.Recurring()
}

// Equal checks that 2 Schedule are the same
func (s *Schedule) Equal(other *Schedule) bool {
	if other == nil {
		return false
	}

	return s.ID == other.ID &&
		s.SuiteID == other.SuiteID &&
		s.SuiteName == other.SuiteName &&
		s.Status == other.Status &&
		s.RunAtUTC.Equal(other.RunAtUTC) &&
		s.Timezone == other.Timezone &&
		s.Recurrence == other.Recurrence &&
		compareWeekdays(s.Weekdays, other.Weekdays) &&
		s.IntervalDays == other.IntervalDays &&
		s.Priority == other.Priority &&
		s.Notes == other.Notes &&
		s.Options == other.Options &&
		compareNullTimes(s.NextRun, other.NextRun) &&
		compareSummaries(s.LastRun, other.LastRun) &&
		s.UpdatedAt.Equal(other.UpdatedAt)
}

func compareNullTimes(own, other null.Time) bool {
	if own.Valid != other.Valid {
		return false
	}
	return !own.Valid || own.Time.Equal(other.Time)
}

func compareWeekdays(own, other []string) bool {
	if len(own) != len(other) {
		return false
	}
	for i, day := range own {
		if day != other[i] {
			return false
		}
	}
	return true
}

func compareSummaries(own, other *RunSummary) bool {
	if own == nil || other == nil {
		return own == other
	}
	return own.Equal(other)
}
