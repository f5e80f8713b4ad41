package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// AddPayload is the payload for the "add" task.
type AddPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add sums two numbers. It exists as the canonical round-trip task: a
// request dispatches it and waits on the result backend for the answer.
func Add(_ context.Context, payload string) (string, error) {
	var p AddPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return "", fmt.Errorf("invalid add payload: %w", err)
	}
	return strconv.FormatFloat(p.X+p.Y, 'f', -1, 64), nil
}

// SleepPayload is the payload for the "sleep" task.
type SleepPayload struct {
	Seconds float64 `json:"seconds"`
}

// Sleep blocks for the requested duration or until the task context is
// cancelled. Used to exercise result timeouts end to end.
func Sleep(ctx context.Context, payload string) (string, error) {
	var p SleepPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return "", fmt.Errorf("invalid sleep payload: %w", err)
	}

	select {
	case <-time.After(time.Duration(p.Seconds * float64(time.Second))):
		return "slept", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// RunPurger deletes finished task runs older than a cutoff.
type RunPurger interface {
	RemoveOldRuns(ctx context.Context, olderThan time.Duration) (int64, error)
}

// PurgeRunsPayload is the payload for the "purge_runs" task.
type PurgeRunsPayload struct {
	OlderThanMinutes int `json:"older_than_minutes"`
}

// PurgeRuns returns a handler that deletes finished task runs older
// than the requested cutoff. The result is the number of rows removed.
func PurgeRuns(purger RunPurger) Handler {
	return func(ctx context.Context, payload string) (string, error) {
		var p PurgeRunsPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return "", fmt.Errorf("invalid purge_runs payload: %w", err)
		}
		if p.OlderThanMinutes <= 0 {
			return "", fmt.Errorf("purge_runs needs a positive older_than_minutes, got %d", p.OlderThanMinutes)
		}

		removed, err := purger.RemoveOldRuns(ctx, time.Duration(p.OlderThanMinutes)*time.Minute)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(removed, 10), nil
	}
}

// RegisterBuiltins installs the stock task handlers on the registry.
func RegisterBuiltins(registry *Registry, purger RunPurger) error {
	if err := registry.Register("add", Add); err != nil {
		return err
	}
	if err := registry.Register("sleep", Sleep); err != nil {
		return err
	}
	return registry.Register("purge_runs", PurgeRuns(purger))
}
