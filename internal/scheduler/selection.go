package scheduler

import (
	"sort"

	"suiterunner/internal/models"
)

// Selection tracks which cached schedules a bulk action should cover. Ids
// that leave the list drop out of the selection on the next refresh, so the
// selection never references schedules the operator can no longer see.

// Select marks one schedule id. Ids not present in the cached list are
// ignored rather than remembered.
func (c *Coordinator) Select(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inListLocked(id) {
		c.selected[id] = true
	}
}

// Deselect clears one schedule id from the selection
func (c *Coordinator) Deselect(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.selected, id)
}

// ToggleSelected flips one id and reports the resulting state
func (c *Coordinator) ToggleSelected(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.selected[id] {
		delete(c.selected, id)
		return false
	}
	if !c.inListLocked(id) {
		return false
	}
	c.selected[id] = true
	return true
}

// SelectAll selects every schedule in the cached list
func (c *Coordinator) SelectAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.selected = make(map[string]bool, len(c.schedules))
	for _, s := range c.schedules {
		c.selected[s.ID] = true
	}
}

// SelectNone clears the selection
func (c *Coordinator) SelectNone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = make(map[string]bool)
}

// SelectOnlyScheduled selects exactly the schedules that are still waiting
// to run, dropping everything else from the selection. Useful before a bulk
// cancel, which only pending schedules accept.
func (c *Coordinator) SelectOnlyScheduled() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.selected = make(map[string]bool)
	for _, s := range c.schedules {
		if s.Status == models.StatusScheduled {
			c.selected[s.ID] = true
		}
	}
}

// Selected returns the selected ids in lexical order
func (c *Coordinator) Selected() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.selected))
	for id := range c.selected {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// IsSelected reports whether one schedule id is currently selected
func (c *Coordinator) IsSelected(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selected[id]
}

// SelectedCount returns the selection size
func (c *Coordinator) SelectedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.selected)
}

func (c *Coordinator) inListLocked(id string) bool {
	for _, s := range c.schedules {
		if s.ID == id {
			return true
		}
	}
	return false
}
