package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	RunQueueName        = "suiterunner:runs"
	DeadLetterQueueName = "suiterunner:runs:dead"
)

// RedisClient implements Client using Redis lists. Messages are appended with
// RPUSH and consumed with BLPOP, so multiple workers on the same queue split
// the load without coordination.
type RedisClient struct {
	client     *redis.Client
	workerID   string
	subscribed atomic.Bool
}

// NewRedisClient creates a new Redis queue client
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, err
	}

	return &RedisClient{client: client, workerID: uuid.NewString()}, nil
}

// Publish sends a run message to the queue
func (r *RedisClient) Publish(ctx context.Context, message RunMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, RunQueueName, data).Err()
}

// Subscribe starts listening for messages and processes them with the handler.
// Messages whose handler returns an error (or panics) are moved to the dead
// letter queue. One client can only be subscribed once.
func (r *RedisClient) Subscribe(ctx context.Context, handler func(RunMessage) error) error {
	if !r.subscribed.CompareAndSwap(false, true) {
		return errors.New("redis client is already subscribed")
	}
	defer r.subscribed.Store(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			message, err := r.getNewMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Error().
						Err(err).
						Msg("Error encountered when fetching message from queue")
				}
				continue
			}
			if message == nil {
				continue
			}

			// Process message
			if err := dispatch(handler, *message); err != nil {
				log.Error().
					Err(err).
					Str("run_id", message.RunID).
					Msg("Error encountered when processing message")
				r.pushDeadLetter(ctx, *message, err)
			}
		}
	}
}

func (r *RedisClient) getNewMessage(ctx context.Context) (*RunMessage, error) {
	result, err := r.client.BLPop(ctx, 1*time.Second, RunQueueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// No message available
			return nil, nil
		}
		return nil, fmt.Errorf("BLPOP from redis queue went bad. %w", err)
	}

	// Invalid message, this shouldn't usually happen
	if len(result) < 2 {
		return nil, nil
	}

	messageData := []byte(result[1])
	var message RunMessage
	err = json.Unmarshal(messageData, &message)
	if err != nil {
		return nil, fmt.Errorf("could not parse message into RunMessage. %w", err)
	}
	return &message, nil
}

func (r *RedisClient) pushDeadLetter(ctx context.Context, message RunMessage, cause error) {
	entry := DeadLetter{
		Message:   message,
		Error:     cause.Error(),
		Timestamp: time.Now().UTC(),
		WorkerID:  r.workerID,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Str("run_id", message.RunID).Msg("Could not encode dead letter entry")
		return
	}
	if err := r.client.RPush(ctx, DeadLetterQueueName, data).Err(); err != nil {
		log.Error().Err(err).Str("run_id", message.RunID).Msg("Could not push message to dead letter queue")
	}
}

func dispatch(handler func(RunMessage) error, message RunMessage) (err error) {
	defer func() {
		if rcv := recover(); rcv != nil {
			// Log the panic
			log.Error().Interface("panic", rcv).Str("run_id", message.RunID).Msg("Handler panicked")

			err = fmt.Errorf("handler panicked: %v", rcv)
		}
	}()

	return handler(message)
}

// Close terminates the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}
