package queue_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"suiterunner/internal/queue"
)

// testRedis provides connection details for the test Redis instance
var testRedis = struct {
	Addr     string
	Password string
	DB       int
}{
	Addr:     "localhost:6379",
	Password: "redis",
	DB:       1, // Use a different DB than the main app
}

// newRedisBackend connects directly to the test Redis instance and clears the
// queues. Tests that need a live Redis are skipped when none is reachable.
func newRedisBackend(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr:     testRedis.Addr,
		Password: testRedis.Password,
		DB:       testRedis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis is not available at %s: %v", testRedis.Addr, err)
	}

	client.Del(context.Background(), queue.RunQueueName, queue.DeadLetterQueueName)
	return client
}

func TestNewRedisClient(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		backend := newRedisBackend(t)
		defer func() {
			err := backend.Close()
			assert.NoError(t, err)
		}()

		client, err := queue.NewRedisClient(testRedis.Addr, testRedis.Password, testRedis.DB)
		assert.NoError(t, err)
		assert.NotNil(t, client)
		defer func() {
			err := client.Close()
			assert.NoError(t, err)
		}()
	})

	t.Run("connection failure", func(t *testing.T) {
		client, err := queue.NewRedisClient("127.0.0.1:1", "", 0)
		assert.Error(t, err)
		assert.Nil(t, client)
	})
}

func TestRedisClient_Publish(t *testing.T) {
	backend := newRedisBackend(t)
	defer func() {
		err := backend.Close()
		assert.NoError(t, err)
	}()

	client, err := queue.NewRedisClient(testRedis.Addr, testRedis.Password, testRedis.DB)
	require.NoError(t, err)
	defer func() {
		err := client.Close()
		assert.NoError(t, err)
	}()

	ctx := context.Background()

	t.Run("publish message", func(t *testing.T) {
		msg := queue.RunMessage{
			RunID:      "run-1",
			ScheduleID: "sched-100",
			SuiteID:    "suite-login",
			Timeout:    60,
			EnqueuedAt: time.Now(),
		}

		err := client.Publish(ctx, msg)
		assert.NoError(t, err)

		// Verify message was added to queue
		length, err := backend.LLen(ctx, queue.RunQueueName).Result()
		assert.NoError(t, err)
		assert.Equal(t, int64(1), length)

		// Verify message content
		result, err := backend.LPop(ctx, queue.RunQueueName).Result()
		assert.NoError(t, err)

		var decodedMsg queue.RunMessage
		err = json.Unmarshal([]byte(result), &decodedMsg)
		assert.NoError(t, err)
		assert.Equal(t, msg.RunID, decodedMsg.RunID)
		assert.Equal(t, msg.ScheduleID, decodedMsg.ScheduleID)
		assert.Equal(t, msg.SuiteID, decodedMsg.SuiteID)
	})

	t.Run("publish with cancelled context", func(t *testing.T) {
		cancelCtx, cancel := context.WithCancel(ctx)
		cancel() // Cancel immediately

		err := client.Publish(cancelCtx, queue.RunMessage{RunID: "run-2"})
		assert.Error(t, err)
	})
}

func TestRedisClient_Subscribe(t *testing.T) {
	backend := newRedisBackend(t)
	defer func() {
		err := backend.Close()
		assert.NoError(t, err)
	}()

	ctx := context.Background()

	t.Run("subscription processes messages", func(t *testing.T) {
		backend.Del(ctx, queue.RunQueueName, queue.DeadLetterQueueName)

		client, err := queue.NewRedisClient(testRedis.Addr, testRedis.Password, testRedis.DB)
		require.NoError(t, err)
		defer func() {
			err := client.Close()
			assert.NoError(t, err)
		}()

		msgs := []queue.RunMessage{
			{RunID: "run-1", ScheduleID: "sched-100", SuiteID: "suite-a", Timeout: 60},
			{RunID: "run-2", ScheduleID: "sched-101", SuiteID: "suite-b", Timeout: 120},
		}

		var processedMsgs []queue.RunMessage
		var mu sync.Mutex
		var wg sync.WaitGroup
		wg.Add(len(msgs))

		subCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		go func() {
			handler := func(msg queue.RunMessage) error {
				mu.Lock()
				processedMsgs = append(processedMsgs, msg)
				mu.Unlock()
				wg.Done()
				return nil
			}

			err := client.Subscribe(subCtx, handler)
			assert.Error(t, err) // Should error due to context timeout
		}()

		// Give subscription time to start
		time.Sleep(500 * time.Millisecond)

		for _, msg := range msgs {
			data, err := json.Marshal(msg)
			require.NoError(t, err)
			backend.RPush(ctx, queue.RunQueueName, data)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("Timed out waiting for messages to be processed")
		}

		mu.Lock()
		defer mu.Unlock()
		assert.Len(t, processedMsgs, len(msgs))
		assert.Equal(t, "run-1", processedMsgs[0].RunID)
		assert.Equal(t, "run-2", processedMsgs[1].RunID)
	})

	t.Run("handler error sends to dead letter queue", func(t *testing.T) {
		backend.Del(ctx, queue.RunQueueName, queue.DeadLetterQueueName)

		client, err := queue.NewRedisClient(testRedis.Addr, testRedis.Password, testRedis.DB)
		require.NoError(t, err)
		defer func() {
			err := client.Close()
			assert.NoError(t, err)
		}()

		msg := queue.RunMessage{RunID: "run-3", ScheduleID: "sched-102", SuiteID: "suite-c", Timeout: 30}

		subCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		var wg sync.WaitGroup
		wg.Add(1)

		go func() {
			handler := func(msg queue.RunMessage) error {
				wg.Done()
				return fmt.Errorf("test error")
			}

			err := client.Subscribe(subCtx, handler)
			assert.Error(t, err)
		}()

		time.Sleep(500 * time.Millisecond)

		data, err := json.Marshal(msg)
		require.NoError(t, err)
		backend.RPush(ctx, queue.RunQueueName, data)

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("Timed out waiting for message to be processed")
		}

		// Give time for the DLQ operation to complete
		time.Sleep(500 * time.Millisecond)

		dlqLength, err := backend.LLen(ctx, queue.DeadLetterQueueName).Result()
		assert.NoError(t, err)
		assert.Equal(t, int64(1), dlqLength)

		result, err := backend.LPop(ctx, queue.DeadLetterQueueName).Result()
		assert.NoError(t, err)

		var dead queue.DeadLetter
		err = json.Unmarshal([]byte(result), &dead)
		assert.NoError(t, err)
		assert.Equal(t, "test error", dead.Error)
		assert.Equal(t, "run-3", dead.Message.RunID)
		assert.NotEmpty(t, dead.WorkerID)
		assert.False(t, dead.Timestamp.IsZero())
	})

	t.Run("handler panic is recovered", func(t *testing.T) {
		backend.Del(ctx, queue.RunQueueName, queue.DeadLetterQueueName)

		client, err := queue.NewRedisClient(testRedis.Addr, testRedis.Password, testRedis.DB)
		require.NoError(t, err)
		defer func() {
			err := client.Close()
			assert.NoError(t, err)
		}()

		msg := queue.RunMessage{RunID: "run-4", ScheduleID: "sched-103", SuiteID: "suite-d", Timeout: 30}

		subCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		var wg sync.WaitGroup
		wg.Add(1)

		go func() {
			handler := func(msg queue.RunMessage) error {
				wg.Done()
				panic("test panic")
			}

			err := client.Subscribe(subCtx, handler)
			assert.Error(t, err)
		}()

		time.Sleep(500 * time.Millisecond)

		data, err := json.Marshal(msg)
		require.NoError(t, err)
		backend.RPush(ctx, queue.RunQueueName, data)

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("Timed out waiting for message to be processed")
		}

		time.Sleep(500 * time.Millisecond)

		dlqLength, err := backend.LLen(ctx, queue.DeadLetterQueueName).Result()
		assert.NoError(t, err)
		assert.Equal(t, int64(1), dlqLength)

		result, err := backend.LPop(ctx, queue.DeadLetterQueueName).Result()
		assert.NoError(t, err)

		var dead queue.DeadLetter
		err = json.Unmarshal([]byte(result), &dead)
		assert.NoError(t, err)
		assert.Contains(t, dead.Error, "handler panicked")
	})

	t.Run("already subscribed client returns error", func(t *testing.T) {
		backend.Del(ctx, queue.RunQueueName, queue.DeadLetterQueueName)

		client, err := queue.NewRedisClient(testRedis.Addr, testRedis.Password, testRedis.DB)
		require.NoError(t, err)
		defer func() {
			err := client.Close()
			assert.NoError(t, err)
		}()

		subCtx, cancel := context.WithCancel(ctx)

		var wg sync.WaitGroup
		wg.Add(1)

		go func() {
			defer wg.Done()
			err := client.Subscribe(subCtx, func(msg queue.RunMessage) error { return nil })
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "context canceled")
		}()

		// Allow time for subscription to start
		time.Sleep(100 * time.Millisecond)

		err = client.Subscribe(ctx, func(msg queue.RunMessage) error { return nil })
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "already subscribed")

		time.Sleep(100 * time.Millisecond)
		cancel()
		wg.Wait()
	})
}

func TestRedisClient_Close(t *testing.T) {
	backend := newRedisBackend(t)
	defer func() {
		err := backend.Close()
		assert.NoError(t, err)
	}()

	client, err := queue.NewRedisClient(testRedis.Addr, testRedis.Password, testRedis.DB)
	require.NoError(t, err)

	err = client.Close()
	assert.NoError(t, err)

	// Attempting operations after close should fail
	err = client.Publish(context.Background(), queue.RunMessage{RunID: "run-closed"})
	assert.Error(t, err)
}
