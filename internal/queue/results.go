package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis"
)

// ErrResultTimeout is returned when a task result does not arrive within
// the caller's deadline. It is a request-level error: the task keeps
// running and its result lands in the backend whenever it finishes.
var ErrResultTimeout = errors.New("timed out waiting for task result")

const resultPollInterval = 100 * time.Millisecond

// ResultBackend stores task outcomes in Redis under a TTL so that
// synchronous callers can wait for them.
type ResultBackend struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// Outcome is the stored terminal state of a task.
type Outcome struct {
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func NewResultBackend(client *redis.Client, ttl time.Duration) *ResultBackend {
	return &ResultBackend{redisClient: client, ttl: ttl}
}

func (rb *ResultBackend) Store(taskID string, outcome Outcome) error {
	encoded, err := json.Marshal(&outcome)
	if err != nil {
		return err
	}
	return rb.redisClient.Set(resultKey(taskID), string(encoded), rb.ttl).Err()
}

// Get returns the stored outcome, or (nil, nil) when no result exists yet.
func (rb *ResultBackend) Get(taskID string) (*Outcome, error) {
	encoded, err := rb.redisClient.Get(resultKey(taskID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var outcome Outcome
	if err = json.Unmarshal([]byte(encoded), &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

// Wait polls for the outcome of a task until it arrives or the timeout
// elapses. A missed deadline surfaces ErrResultTimeout to the caller.
func (rb *ResultBackend) Wait(ctx context.Context, taskID string, timeout time.Duration) (*Outcome, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(resultPollInterval)
	defer ticker.Stop()

	for {
		outcome, err := rb.Get(taskID)
		if err != nil {
			return nil, err
		}
		if outcome != nil {
			return outcome, nil
		}

		select {
		case <-waitCtx.Done():
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				return nil, ErrResultTimeout
			}
			return nil, waitCtx.Err()
		case <-ticker.C:
		}
	}
}

func resultKey(taskID string) string {
	return fmt.Sprintf("task_result_%s", taskID)
}
