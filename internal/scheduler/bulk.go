package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// BulkAction names a repository operation that can fan out over many
// schedules at once.
type BulkAction string

const (
	ActionCancel BulkAction = "cancel"
	ActionDelete BulkAction = "delete"
)

// BulkResult reports how a fan-out settled. Succeeded and Failures are
// disjoint and together cover every requested id exactly once.
type BulkResult struct {
	Action    BulkAction
	Succeeded []string
	Failures  map[string]error
}

// SuccessCount returns how many ids completed the action
func (r BulkResult) SuccessCount() int {
	return len(r.Succeeded)
}

// FailureCount returns how many ids were rejected or unreachable
func (r BulkResult) FailureCount() int {
	return len(r.Failures)
}

// AllSucceeded reports whether every requested id completed the action
func (r BulkResult) AllSucceeded() bool {
	return len(r.Failures) == 0
}

// Err flattens the failure map into a single error for callers that only
// need a yes/no outcome. Nil when every id succeeded.
func (r BulkResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return fmt.Errorf("%s failed for %d of %d schedules", r.Action, r.FailureCount(), r.FailureCount()+r.SuccessCount())
}

// Bulk issues action once per id in parallel and waits for every call to
// settle. One failed id never stops the others, and the successes stand even
// when the rest of the batch fails. The view is refreshed once at the end
// regardless of the outcome mix.
func (c *Coordinator) Bulk(ctx context.Context, action BulkAction, ids []string) BulkResult {
	result := BulkResult{Action: action, Failures: make(map[string]error)}
	if len(ids) == 0 {
		return result
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			err := c.applyAction(ctx, action, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failures[id] = err
				return
			}
			result.Succeeded = append(result.Succeeded, id)
		}(id)
	}
	wg.Wait()

	sort.Strings(result.Succeeded)

	if action == ActionDelete && len(result.Succeeded) > 0 {
		c.mu.Lock()
		for _, id := range result.Succeeded {
			delete(c.selected, id)
		}
		c.mu.Unlock()
	}

	log.Info().
		Str("action", string(action)).
		Int("succeeded", result.SuccessCount()).
		Int("failed", result.FailureCount()).
		Msg("Bulk action settled")

	c.refreshAfter(ctx, "bulk "+string(action))
	return result
}

// CancelSelected fans a cancel out over the currently selected schedules
func (c *Coordinator) CancelSelected(ctx context.Context) BulkResult {
	return c.Bulk(ctx, ActionCancel, c.Selected())
}

// DeleteSelected fans a delete out over the currently selected schedules
func (c *Coordinator) DeleteSelected(ctx context.Context) BulkResult {
	return c.Bulk(ctx, ActionDelete, c.Selected())
}

func (c *Coordinator) applyAction(ctx context.Context, action BulkAction, id string) error {
	switch action {
	case ActionCancel:
		_, err := c.repo.Cancel(ctx, id)
		return err
	case ActionDelete:
		return c.repo.Delete(ctx, id)
	default:
		return fmt.Errorf("unknown bulk action %q", action)
	}
}
