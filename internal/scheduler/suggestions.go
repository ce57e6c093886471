package scheduler

import (
	"fmt"
	"sort"
	"time"

	"suiterunner/internal/models"
)

// Suggestion is a candidate run time offered to the operator while filling
// in the schedule form. RunAt carries the zone it should be displayed in.
type Suggestion struct {
	RunAt time.Time
	Label string
}

// The next few whole hours make natural "soon" candidates; the small-hour
// block is when suites compete least with daytime deploys.
const suggestedHourSlots = 3

var maintenanceHours = []int{2, 3, 4}

// SuggestTimes proposes candidate run times in loc: the next few top-of-hour
// slots plus the coming low-traffic maintenance hours. Every candidate clears
// the minimum lead time, so a suggestion picked right away still validates.
// The result is deduplicated and sorted ascending. A nil loc means UTC.
func SuggestTimes(now time.Time, loc *time.Location) []Suggestion {
	if loc == nil {
		loc = time.UTC
	}

	earliest := now.Add(models.MinLeadTime)
	local := now.In(loc)

	seen := make(map[int64]bool)
	var out []Suggestion

	add := func(t time.Time, label string) bool {
		if !t.After(earliest) || seen[t.Unix()] {
			return false
		}
		seen[t.Unix()] = true
		out = append(out, Suggestion{RunAt: t, Label: label})
		return true
	}

	// Top-of-hour slots. The very next one can sit inside the lead margin,
	// so scan one hour further than the slot count.
	collected := 0
	for i := 1; collected < suggestedHourSlots && i <= suggestedHourSlots+1; i++ {
		t := time.Date(local.Year(), local.Month(), local.Day(), local.Hour()+i, 0, 0, 0, loc)
		if add(t, fmt.Sprintf("%s at %s", relativeDay(t, local), t.Format("15:04"))) {
			collected++
		}
	}

	for _, hour := range maintenanceHours {
		t := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
		if !t.After(earliest) {
			t = time.Date(local.Year(), local.Month(), local.Day()+1, hour, 0, 0, 0, loc)
		}
		add(t, fmt.Sprintf("%s at %s (low traffic)", relativeDay(t, local), t.Format("15:04")))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out
}

// relativeDay names t's calendar day relative to ref. Both must be in the
// same zone.
func relativeDay(t, ref time.Time) string {
	ty, tm, td := t.Date()
	if ry, rm, rd := ref.Date(); ty == ry && tm == rm && td == rd {
		return "Today"
	}
	if ny, nm, nd := ref.AddDate(0, 0, 1).Date(); ty == ny && tm == nm && td == nd {
		return "Tomorrow"
	}
	return t.Format("Mon Jan 2")
}
