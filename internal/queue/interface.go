package queue

import (
	"context"
	"time"

	"suiterunner/internal/models"
)

// RunMessage is the unit of work handed from the dispatcher to workers. It
// carries everything a worker needs to execute the suite without another
// lookup, so a message stays actionable even if the schedule row changes
// underneath it.
type RunMessage struct {
	RunID       string                  `json:"run_id"`
	ScheduleID  string                  `json:"schedule_id"`
	SuiteID     string                  `json:"suite_id"`
	SuiteName   string                  `json:"suite_name,omitempty"`
	TriggeredBy string                  `json:"triggered_by"`
	Options     models.ExecutionOptions `json:"execution_options"`
	Timeout     int                     `json:"timeout_seconds"`
	EnqueuedAt  time.Time               `json:"enqueued_at"`
}

// RunTimeout converts the message's timeout into a duration, falling back to
// def when the message carries no usable value.
func (m RunMessage) RunTimeout(def time.Duration) time.Duration {
	if m.Timeout <= 0 {
		return def
	}
	return time.Duration(m.Timeout) * time.Second
}

// DeadLetter is the envelope pushed to the dead letter queue when a handler
// fails or panics. The original message is kept intact for replay.
type DeadLetter struct {
	Message   RunMessage `json:"message"`
	Error     string     `json:"error"`
	Timestamp time.Time  `json:"timestamp"`
	WorkerID  string     `json:"worker_id"`
}

// Client defines the interface for run queue operations
type Client interface {
	Publish(ctx context.Context, message RunMessage) error
	Subscribe(ctx context.Context, handler func(RunMessage) error) error
	Close() error
}
