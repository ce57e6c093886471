package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// MemoryClient implements Client with an in-process buffered channel. It backs
// single-binary deployments and tests where no Redis is available. Failed
// messages are retained in memory and can be inspected with DeadLetters.
type MemoryClient struct {
	messages   chan RunMessage
	closed     chan struct{}
	closeOnce  sync.Once
	subscribed atomic.Bool

	mu   sync.Mutex
	dead []DeadLetter
}

// NewMemoryClient creates an in-process queue holding at most size pending
// messages. A non-positive size falls back to a sensible default.
func NewMemoryClient(size int) *MemoryClient {
	if size <= 0 {
		size = 256
	}
	return &MemoryClient{
		messages: make(chan RunMessage, size),
		closed:   make(chan struct{}),
	}
}

// Publish appends a run message to the queue. It blocks while the buffer is
// full and fails once the queue is closed or the context ends.
func (m *MemoryClient) Publish(ctx context.Context, message RunMessage) error {
	select {
	case <-m.closed:
		return errors.New("memory queue is closed")
	case <-ctx.Done():
		return ctx.Err()
	case m.messages <- message:
		return nil
	}
}

// Subscribe starts listening for messages and processes them with the handler.
// One client can only be subscribed once.
func (m *MemoryClient) Subscribe(ctx context.Context, handler func(RunMessage) error) error {
	if !m.subscribed.CompareAndSwap(false, true) {
		return errors.New("memory client is already subscribed")
	}
	defer m.subscribed.Store(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.closed:
			return errors.New("memory queue is closed")
		case message := <-m.messages:
			if err := dispatch(handler, message); err != nil {
				log.Error().
					Err(err).
					Str("run_id", message.RunID).
					Msg("Error encountered when processing message")
				m.mu.Lock()
				m.dead = append(m.dead, DeadLetter{
					Message:   message,
					Error:     err.Error(),
					Timestamp: time.Now().UTC(),
					WorkerID:  "memory",
				})
				m.mu.Unlock()
			}
		}
	}
}

// DeadLetters returns a copy of every message whose handler failed.
func (m *MemoryClient) DeadLetters() []DeadLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeadLetter, len(m.dead))
	copy(out, m.dead)
	return out
}

// Len reports the number of pending messages.
func (m *MemoryClient) Len() int {
	return len(m.messages)
}

// Close shuts the queue down. Pending messages are discarded.
func (m *MemoryClient) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}
