package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"suiterunner/internal/models"
)

func invalidField(field, format string, args ...any) *models.ValidationError {
	return &models.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// resolveCreateRequest turns the wire payload into a persistable schedule.
// RunAt is interpreted in the request's timezone and stored as the UTC
// instant; a run-now request without a run time anchors at "now".
func resolveCreateRequest(req *models.CreateScheduleRequest, now time.Time) (*models.Schedule, *models.ValidationError) {
	req.SuiteID = strings.TrimSpace(req.SuiteID)
	req.SuiteName = strings.TrimSpace(req.SuiteName)
	if req.SuiteID == "" {
		return nil, invalidField("suiteId", "a test suite is required")
	}

	loc, err := models.ResolveTimezone(req.Timezone)
	if err != nil {
		return nil, invalidField("timezone", "unknown timezone %q", req.Timezone)
	}

	runAt := now
	switch {
	case req.RunAt != "":
		local, err := models.ParseLocalDateTime(req.RunAt, loc)
		if err != nil {
			return nil, invalidField("runAt", "runAt must look like %s", models.LocalDateTimeLayout)
		}
		runAt = local.UTC()
	case !req.RunNow:
		return nil, invalidField("runAt", "a run time is required")
	}

	recurrence := req.Recurrence
	if recurrence == "" {
		recurrence = models.RecurrenceNone
	}
	priority := req.Priority
	if priority == 0 {
		priority = models.DefaultPriority
	}
	options := models.DefaultExecutionOptions()
	if req.Options != nil {
		options = req.Options.Normalized()
	}

	settings := models.ScheduleSettings{
		RunAt:        runAt,
		RunNow:       req.RunNow,
		Recurrence:   recurrence,
		Weekdays:     req.Weekdays,
		IntervalDays: req.IntervalDays,
		Priority:     priority,
		Options:      options,
	}
	if verr := settings.Validate(now); verr != nil {
		return nil, verr
	}

	return &models.Schedule{
		SuiteID:      req.SuiteID,
		SuiteName:    req.SuiteName,
		Status:       models.StatusScheduled,
		RunAtUTC:     runAt.Truncate(time.Second),
		Timezone:     req.Timezone,
		Recurrence:   recurrence,
		Weekdays:     req.Weekdays,
		IntervalDays: req.IntervalDays,
		Priority:     priority,
		Notes:        strings.TrimSpace(req.Notes),
		Options:      options,
	}, nil
}

// applyUpdate folds the patch into the schedule and re-validates the whole
// settings block, so a patched schedule obeys the same rules as a new one.
func applyUpdate(schedule *models.Schedule, req *models.UpdateScheduleRequest, now time.Time) *models.ValidationError {
	if req.Timezone != nil {
		schedule.Timezone = *req.Timezone
	}
	loc, err := models.ResolveTimezone(schedule.Timezone)
	if err != nil {
		return invalidField("timezone", "unknown timezone %q", schedule.Timezone)
	}

	if req.RunAt != nil {
		local, err := models.ParseLocalDateTime(*req.RunAt, loc)
		if err != nil {
			return invalidField("runAt", "runAt must look like %s", models.LocalDateTimeLayout)
		}
		schedule.RunAtUTC = local.UTC()
	}
	if req.Recurrence != nil {
		schedule.Recurrence = *req.Recurrence
	}
	if schedule.Recurrence == "" {
		schedule.Recurrence = models.RecurrenceNone
	}
	if req.Weekdays != nil {
		schedule.Weekdays = *req.Weekdays
	}
	if req.IntervalDays != nil {
		schedule.IntervalDays = *req.IntervalDays
	}
	if req.Priority != nil {
		schedule.Priority = *req.Priority
	}
	if req.Notes != nil {
		schedule.Notes = strings.TrimSpace(*req.Notes)
	}
	if req.Options != nil {
		schedule.Options = req.Options.Normalized()
	}

	settings := models.ScheduleSettings{
		RunAt:        schedule.RunAtUTC,
		Recurrence:   schedule.Recurrence,
		Weekdays:     schedule.Weekdays,
		IntervalDays: schedule.IntervalDays,
		Priority:     schedule.Priority,
		Options:      schedule.Options,
	}
	return settings.Validate(now)
}

// listFilterFromQuery parses and validates the list endpoint's query string
func listFilterFromQuery(r *http.Request) (*models.ListFilter, *models.ValidationError) {
	query := r.URL.Query()
	filter := models.ListFilter{
		SuiteID:  query.Get("suite_id"),
		FromDate: query.Get("from_date"),
		ToDate:   query.Get("to_date"),
	}

	if v := query.Get("status"); v != "" {
		status := models.ScheduleStatus(v)
		if !status.Valid() {
			return nil, invalidField("status", "unknown status %q", v)
		}
		filter.Status = status
	}

	for _, date := range []struct{ field, value string }{
		{"from_date", filter.FromDate},
		{"to_date", filter.ToDate},
	} {
		if date.value == "" {
			continue
		}
		if _, err := time.Parse(models.DateLayout, date.value); err != nil {
			return nil, invalidField(date.field, "%s must look like %s", date.field, models.DateLayout)
		}
	}

	var verr *models.ValidationError
	if filter.Limit, verr = intParam(query, "limit"); verr != nil {
		return nil, verr
	}
	if filter.Offset, verr = intParam(query, "offset"); verr != nil {
		return nil, verr
	}
	return &filter, nil
}

func intParam(query url.Values, name string) (int, *models.ValidationError) {
	v := query.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, invalidField(name, "%s must be a non-negative integer", name)
	}
	return n, nil
}
