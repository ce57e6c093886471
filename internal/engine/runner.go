// Package engine executes schedules: a Dispatcher claims due schedules and
// publishes run messages, a Worker consumes them, drives the suite through a
// SuiteRunner and records the outcome. Dispatcher and Worker share nothing
// but the store and the queue, so any number of workers can run alongside a
// single dispatcher.
package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"suiterunner/internal/models"
	"suiterunner/internal/queue"
)

// RunReport is what one suite execution produced
type RunReport struct {
	Status  models.RunStatus
	Total   int
	Passed  int
	Failed  int
	Skipped int
	Error   string
}

// SuiteRunner executes a test suite. Implementations must honour ctx: the
// worker derives it from the per-run deadline and cancels it on shutdown.
type SuiteRunner interface {
	Run(ctx context.Context, message queue.RunMessage) (*RunReport, error)
}

// DefaultTestDuration is the simulated wall time per test case
const DefaultTestDuration = 150 * time.Millisecond

// simulated parallel runs spread cases over this many browser workers
const simulatedWorkers = 4

// SimulatedRunner fakes a suite execution deterministically: the case count
// and outcomes derive from the suite id, so repeated runs of the same suite
// report the same numbers. It stands in for the real browser farm.
type SimulatedRunner struct {
	PerTest time.Duration
}

// NewSimulatedRunner builds a simulator; a non-positive perTest falls back
// to DefaultTestDuration.
func NewSimulatedRunner(perTest time.Duration) *SimulatedRunner {
	if perTest <= 0 {
		perTest = DefaultTestDuration
	}
	return &SimulatedRunner{PerTest: perTest}
}

func (r *SimulatedRunner) Run(ctx context.Context, message queue.RunMessage) (*RunReport, error) {
	seed := suiteSeed(message.SuiteID)

	total := 5 + int(seed%16)
	failed := 0
	if seed%5 == 0 {
		failed = 1 + int(seed%2)
	}
	skipped := 0
	if seed%4 == 0 {
		skipped = 1
	}

	// Sequential runs cases one after another, parallel spreads them over the
	// simulated browser workers and a headed browser is twice as slow.
	elapsed := time.Duration(total) * r.PerTest
	if message.Options.Mode == models.ModeHeaded {
		elapsed *= 2
	}
	if message.Options.Execution == models.ExecParallel {
		elapsed /= simulatedWorkers
	}

	timer := time.NewTimer(elapsed)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	report := &RunReport{
		Status:  models.RunStatusCompleted,
		Total:   total,
		Passed:  total - failed - skipped,
		Failed:  failed,
		Skipped: skipped,
	}
	if failed > 0 {
		report.Status = models.RunStatusFailed
		report.Error = fmt.Sprintf("%d of %d tests failed", failed, total)
	}
	return report, nil
}

func suiteSeed(suiteID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(suiteID))
	return h.Sum32()
}
