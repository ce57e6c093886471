package scheduler

import (
	"fmt"
	"time"

	"suiterunner/internal/models"
	"suiterunner/internal/recurrence"
)

// ScheduleRow is the display projection of one cached schedule: the raw
// model plus the derived values every list renderer needs.
type ScheduleRow struct {
	Schedule models.Schedule
	Selected bool
	Overdue  bool
	// MinutesUntilRun is negative once the run time has passed
	MinutesUntilRun int
	Countdown       string
	Recurrence      string
}

// Rows projects the cached list for display at the given instant
func (c *Coordinator) Rows(now time.Time) []ScheduleRow {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows := make([]ScheduleRow, len(c.schedules))
	for i := range c.schedules {
		s := c.schedules[i]
		rows[i] = ScheduleRow{
			Schedule:        s,
			Selected:        c.selected[s.ID],
			Overdue:         s.IsOverdue(now),
			MinutesUntilRun: s.MinutesUntilRun(now),
			Countdown:       CountdownLabel(&s, now),
			Recurrence:      RecurrenceLabel(&s),
		}
	}
	return rows
}

// CountdownLabel renders how far away a pending run is, or how far past due
// it already is. Statuses other than scheduled have no countdown and yield "".
func CountdownLabel(s *models.Schedule, now time.Time) string {
	if s.Status != models.StatusScheduled {
		return ""
	}
	if s.IsOverdue(now) {
		return "overdue by " + spanLabel(now.Sub(s.RunAtUTC))
	}
	return "in " + spanLabel(s.RunAtUTC.Sub(now))
}

// RecurrenceLabel renders the schedule's recurrence for display, e.g.
// "Weekly on Monday, Friday at 09:30". A rule that fails to parse falls back
// to the raw pattern name.
func RecurrenceLabel(s *models.Schedule) string {
	rule, err := recurrence.FromSchedule(s)
	if err != nil {
		return string(s.Recurrence)
	}
	return rule.Describe(s.RunAtUTC)
}

func spanLabel(d time.Duration) string {
	if d < time.Minute {
		return "under a minute"
	}

	total := int(d.Minutes())
	days := total / (24 * 60)
	hours := total % (24 * 60) / 60
	mins := total % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %02dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}
