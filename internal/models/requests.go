package models

// CreateScheduleRequest is the body of POST /schedules. RunAt is a local
// datetime in Timezone; the backend resolves it to the UTC instant.
type CreateScheduleRequest struct {
	SuiteID      string            `json:"suiteId"`
	SuiteName    string            `json:"suiteName"`
	RunAt        string            `json:"runAt"`
	Timezone     string            `json:"timezone"`
	Recurrence   RecurrencePattern `json:"recurrence,omitempty"`
	Weekdays     []string          `json:"weekdays,omitempty"`
	IntervalDays int               `json:"intervalDays,omitempty"`
	Priority     int               `json:"priority,omitempty"`
	Notes        string            `json:"notes,omitempty"`
	Options      *ExecutionOptions `json:"executionOptions,omitempty"`
	RunNow       bool              `json:"runNow,omitempty"`
}

// UpdateScheduleRequest is the body of PATCH /schedules/{id}. Nil fields are
// left untouched; updates are only accepted while the schedule is scheduled.
type UpdateScheduleRequest struct {
	RunAt        *string            `json:"runAt,omitempty"`
	Timezone     *string            `json:"timezone,omitempty"`
	Recurrence   *RecurrencePattern `json:"recurrence,omitempty"`
	Weekdays     *[]string          `json:"weekdays,omitempty"`
	IntervalDays *int               `json:"intervalDays,omitempty"`
	Priority     *int               `json:"priority,omitempty"`
	Notes        *string            `json:"notes,omitempty"`
	Options      *ExecutionOptions  `json:"executionOptions,omitempty"`
}

// Empty returns true when the patch carries no changes
func (r *UpdateScheduleRequest) Empty() bool {
	return r.RunAt == nil && r.Timezone == nil && r.Recurrence == nil &&
		r.Weekdays == nil && r.IntervalDays == nil && r.Priority == nil &&
		r.Notes == nil && r.Options == nil
}

// RunNowRequest is the optional body of POST /schedules/{id}/run-now
type RunNowRequest struct {
	Notes string `json:"notes,omitempty"`
}

// ListFilter narrows GET /schedules. FromDate/ToDate are UTC calendar days
// (YYYY-MM-DD); ToDate is inclusive.
type ListFilter struct {
	Status   ScheduleStatus
	SuiteID  string
	FromDate string
	ToDate   string
	Limit    int
	Offset   int
}

// ScheduleList is a filtered page of schedules plus the unpaged total
type ScheduleList struct {
	Schedules []Schedule `json:"schedules"`
	Total     int        `json:"total"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}

// ScheduleDetail is a schedule plus its most recent runs
type ScheduleDetail struct {
	Schedule
	Runs []ScheduleRun `json:"runs"`
}

// ScheduleStats is the GET /schedules/stats/summary payload
type ScheduleStats struct {
	Total    int                    `json:"total"`
	ByStatus map[ScheduleStatus]int `json:"by_status"`
	Next24h  int                    `json:"next_24h"`
	Overdue  int                    `json:"overdue"`
}
