package models

import (
	"fmt"
	"time"
)

// MinLeadTime is the minimum interval between "now" and a newly submitted
// schedule's run time. Landing exactly on the boundary is rejected.
const MinLeadTime = time.Minute

const (
	MinIntervalDays = 1
	MaxIntervalDays = 365

	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// Layouts accepted from operator input and on the wire. RunAt travels as a
// local datetime, the zone is carried separately as an IANA name.
const (
	DateLayout          = "2006-01-02"
	TimeLayout          = "15:04"
	LocalDateTimeLayout = "2006-01-02T15:04:05"
	localDateTimeShort  = "2006-01-02T15:04"
)

// ValidationError is a pre-submission failure. It identifies the first
// violated rule and never reaches the network.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ParseLocalDateTime parses a wire local datetime in the given location
func ParseLocalDateTime(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(LocalDateTimeLayout, value, loc); err == nil {
		return t, nil
	}
	return time.ParseInLocation(localDateTimeShort, value, loc)
}

// ResolveTimezone loads an IANA zone name, treating the empty string as UTC
func ResolveTimezone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// ScheduleSettings is the validated portion shared by the create and update
// flows. The form validator and the API boundary both run this chain, so a
// request that passes locally cannot fail remotely for a different reason.
type ScheduleSettings struct {
	RunAt        time.Time // resolved UTC instant
	RunNow       bool
	Recurrence   RecurrencePattern
	Weekdays     []string
	IntervalDays int
	Priority     int
	Options      ExecutionOptions
}

// Validate applies the settings rules in order and returns the first failure
func (s ScheduleSettings) Validate(now time.Time) *ValidationError {
	if !s.RunNow && !s.RunAt.After(now.Add(MinLeadTime)) {
		return invalid("runTime", "run time must be at least 1 minute in the future")
	}

	recurrence := s.Recurrence
	if recurrence == "" {
		recurrence = RecurrenceNone
	}
	if !recurrence.Valid() {
		return invalid("recurrence", "unknown recurrence pattern %q", string(s.Recurrence))
	}
	if recurrence == RecurrenceWeekly {
		if len(s.Weekdays) == 0 {
			return invalid("weekdays", "select at least one weekday for weekly recurrence")
		}
		for _, name := range s.Weekdays {
			if _, err := ParseWeekday(name); err != nil {
				return invalid("weekdays", "%s", err.Error())
			}
		}
	}
	if recurrence == RecurrenceCustom {
		if s.IntervalDays < MinIntervalDays || s.IntervalDays > MaxIntervalDays {
			return invalid("intervalDays", "repeat interval must be between %d and %d days", MinIntervalDays, MaxIntervalDays)
		}
	}

	if priority := s.Priority; priority != 0 && (priority < MinPriority || priority > MaxPriority) {
		return invalid("priority", "priority must be between %d and %d", MinPriority, MaxPriority)
	}

	return s.Options.Validate()
}

// ScheduleForm holds raw operator input for a new schedule. Validation is
// ordered and first-failure-wins so the reported message always names the
// earliest violated rule.
type ScheduleForm struct {
	SuiteID      string
	SuiteName    string
	RunDate      string // YYYY-MM-DD in the form's timezone
	RunTime      string // HH:MM in the form's timezone
	Timezone     string
	Recurrence   RecurrencePattern
	Weekdays     []string
	IntervalDays int
	Priority     int
	Notes        string
	Options      ExecutionOptions
	RunNow       bool
}

// Validate checks the form against "now" and returns the resolved UTC run
// instant. Run-now submissions skip the date/time and lead-time rules; their
// anchor defaults to now when no date/time is given.
func (f *ScheduleForm) Validate(now time.Time) (time.Time, *ValidationError) {
	if !f.RunNow {
		if f.RunDate == "" {
			return time.Time{}, invalid("runDate", "run date is required")
		}
		if f.RunTime == "" {
			return time.Time{}, invalid("runTime", "run time is required")
		}
	}

	if f.SuiteID == "" {
		return time.Time{}, invalid("suiteId", "a test suite is required")
	}

	loc, err := ResolveTimezone(f.Timezone)
	if err != nil {
		return time.Time{}, invalid("timezone", "unknown timezone %q", f.Timezone)
	}

	runAt := now.UTC()
	if f.RunDate != "" && f.RunTime != "" {
		if _, err := time.Parse(DateLayout, f.RunDate); err != nil {
			return time.Time{}, invalid("runDate", "run date must look like %s", DateLayout)
		}
		if _, err := time.Parse(TimeLayout, f.RunTime); err != nil {
			return time.Time{}, invalid("runTime", "run time must look like %s", TimeLayout)
		}
		local, err := time.ParseInLocation(DateLayout+" "+TimeLayout, f.RunDate+" "+f.RunTime, loc)
		if err != nil {
			return time.Time{}, invalid("runTime", "run date and time could not be combined")
		}
		runAt = local.UTC()
	}

	if err := f.settings(runAt).Validate(now); err != nil {
		return time.Time{}, err
	}
	return runAt, nil
}

// Request validates the form and builds the wire request for Repository.Create
func (f *ScheduleForm) Request(now time.Time) (*CreateScheduleRequest, *ValidationError) {
	runAt, verr := f.Validate(now)
	if verr != nil {
		return nil, verr
	}

	loc, _ := ResolveTimezone(f.Timezone)
	priority := f.Priority
	if priority == 0 {
		priority = DefaultPriority
	}

	req := &CreateScheduleRequest{
		SuiteID:      f.SuiteID,
		SuiteName:    f.SuiteName,
		RunAt:        runAt.In(loc).Format(LocalDateTimeLayout),
		Timezone:     f.Timezone,
		Recurrence:   f.Recurrence,
		Weekdays:     f.Weekdays,
		IntervalDays: f.IntervalDays,
		Priority:     priority,
		Notes:        f.Notes,
		RunNow:       f.RunNow,
	}
	options := f.Options.Normalized()
	req.Options = &options
	if req.Recurrence == "" {
		req.Recurrence = RecurrenceNone
	}
	return req, nil
}

func (f *ScheduleForm) settings(runAt time.Time) ScheduleSettings {
	return ScheduleSettings{
		RunAt:        runAt,
		RunNow:       f.RunNow,
		Recurrence:   f.Recurrence,
		Weekdays:     f.Weekdays,
		IntervalDays: f.IntervalDays,
		Priority:     f.Priority,
		Options:      f.Options,
	}
}
