// Package recurrence computes concrete run instants from a schedule's
// recurrence rule. Weekday and day-of-month boundaries are evaluated in the
// schedule's timezone and the result converted back to UTC, so a "daily at
// 02:30" schedule keeps its wall-clock time across DST changes. Instants that
// land inside a DST gap resolve to the adjusted time the runtime picks. All
// functions are pure and deterministic for fixed inputs.
package recurrence

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"suiterunner/internal/models"
)

// Iteration bounds. Daily and weekly scan day by day for just over a year,
// monthly for two years, custom steps are capped after an arithmetic jump.
const (
	maxDaySteps    = 370
	maxMonthSteps  = 24
	maxCustomSteps = 1000
)

// Rule is a schedule's recurrence resolved into a computable form
type Rule struct {
	Pattern      models.RecurrencePattern
	Weekdays     []time.Weekday // weekly only
	IntervalDays int            // custom only
	Location     *time.Location // zone the wall-clock fields are evaluated in
}

// FromSchedule parses the schedule's recurrence fields into a Rule
func FromSchedule(s *models.Schedule) (Rule, error) {
	loc, err := s.Location()
	if err != nil {
		return Rule{}, fmt.Errorf("could not resolve timezone %q: %w", s.Timezone, err)
	}
	days, err := s.WeekdaySet()
	if err != nil {
		return Rule{}, err
	}
	return Rule{
		Pattern:      s.Recurrence,
		Weekdays:     days,
		IntervalDays: s.IntervalDays,
		Location:     loc,
	}, nil
}

// Next returns the first occurrence at or after "after". The anchor carries
// the time-of-day (and day-of-month for monthly rules); occurrences never
// precede it. The zero time means the rule produces no further occurrences.
func (r Rule) Next(anchor, after time.Time) time.Time {
	if after.Before(anchor) {
		after = anchor
	}
	loc := r.location()

	switch r.Pattern {
	case models.RecurrenceDaily:
		return r.nextByDay(anchor, after, loc, nil)
	case models.RecurrenceWeekly:
		if len(r.Weekdays) == 0 {
			return time.Time{}
		}
		days := make(map[time.Weekday]bool, len(r.Weekdays))
		for _, day := range r.Weekdays {
			days[day] = true
		}
		return r.nextByDay(anchor, after, loc, days)
	case models.RecurrenceMonthly:
		return r.nextMonthly(anchor, after, loc)
	case models.RecurrenceCustom:
		return r.nextCustom(anchor, after, loc)
	default:
		// none, or a pattern this build does not know
		return time.Time{}
	}
}

// nextByDay walks forward one calendar day at a time in loc, keeping the
// anchor's time-of-day. A nil day set accepts every weekday.
func (r Rule) nextByDay(anchor, after time.Time, loc *time.Location, days map[time.Weekday]bool) time.Time {
	h, m, s := anchor.In(loc).Clock()
	start := after.In(loc)

	for i := 0; i <= maxDaySteps; i++ {
		cand := time.Date(start.Year(), start.Month(), start.Day()+i, h, m, s, 0, loc)
		if cand.Before(after) {
			continue
		}
		if days != nil && !days[cand.Weekday()] {
			continue
		}
		return cand.UTC()
	}
	return time.Time{}
}

// nextMonthly repeats on the anchor's day-of-month. When the target month is
// shorter than the anchor day (the 31st in February), the occurrence clamps
// to the month's last day.
func (r Rule) nextMonthly(anchor, after time.Time, loc *time.Location) time.Time {
	local := anchor.In(loc)
	dom := local.Day()
	h, m, s := local.Clock()

	start := after.In(loc)
	year, month := start.Year(), start.Month()

	for i := 0; i < maxMonthSteps; i++ {
		day := dom
		if last := daysIn(year, month); day > last {
			day = last
		}
		cand := time.Date(year, month, day, h, m, s, 0, loc)
		if !cand.Before(after) {
			return cand.UTC()
		}
		month++
		if month > time.December {
			month = time.January
			year++
		}
	}
	return time.Time{}
}

// nextCustom advances from the anchor in whole-day steps of IntervalDays
func (r Rule) nextCustom(anchor, after time.Time, loc *time.Location) time.Time {
	if r.IntervalDays < 1 {
		return time.Time{}
	}

	cand := anchor.In(loc)
	// Jump close to the target before stepping so far-past anchors stay cheap.
	// The jump deliberately undershoots by one interval: civil days are not
	// always 24h, the loop below does the exact landing.
	if gap := int(after.Sub(anchor).Hours() / 24); gap > r.IntervalDays {
		steps := gap/r.IntervalDays - 1
		cand = cand.AddDate(0, 0, steps*r.IntervalDays)
	}

	for i := 0; i < maxCustomSteps; i++ {
		if !cand.Before(after) {
			return cand.UTC()
		}
		cand = cand.AddDate(0, 0, r.IntervalDays)
	}
	return time.Time{}
}

// Describe renders the rule for display, e.g. "Weekly on Monday, Friday at 09:30"
func (r Rule) Describe(anchor time.Time) string {
	local := anchor.In(r.location())
	at := local.Format("15:04")

	switch r.Pattern {
	case models.RecurrenceDaily:
		return fmt.Sprintf("Daily at %s", at)
	case models.RecurrenceWeekly:
		if len(r.Weekdays) == 0 {
			return fmt.Sprintf("Weekly at %s", at)
		}
		days := make([]time.Weekday, len(r.Weekdays))
		copy(days, r.Weekdays)
		sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
		names := make([]string, len(days))
		for i, day := range days {
			names[i] = day.String()
		}
		return fmt.Sprintf("Weekly on %s at %s", strings.Join(names, ", "), at)
	case models.RecurrenceMonthly:
		return fmt.Sprintf("Monthly on day %d at %s", local.Day(), at)
	case models.RecurrenceCustom:
		if r.IntervalDays == 1 {
			return fmt.Sprintf("Every day at %s", at)
		}
		return fmt.Sprintf("Every %d days at %s", r.IntervalDays, at)
	default:
		return "Runs once"
	}
}

func (r Rule) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

func daysIn(year int, month time.Month) int {
	// Day zero of the following month is this month's last day.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
