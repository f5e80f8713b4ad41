package workers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quayside/conveyor/internal/entities"
	"github.com/quayside/conveyor/internal/queue"
	"github.com/quayside/conveyor/internal/tasks"
	"github.com/quayside/conveyor/internal/usecases"
)

type memMessage struct {
	id   string
	body string
}

type memBroker struct {
	mu    sync.Mutex
	msgs  []memMessage
	acked []string
}

func (b *memBroker) push(id, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, memMessage{id: id, body: body})
}

func (b *memBroker) Dequeue(string) (string, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.msgs) == 0 {
		return "", "", nil
	}
	m := b.msgs[0]
	b.msgs = b.msgs[1:]
	return m.id, m.body, nil
}

func (b *memBroker) Acknowledge(id string, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acked = append(b.acked, id)
	return nil
}

func (b *memBroker) ackedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.acked)
}

type memResults struct {
	mu     sync.Mutex
	stored map[string]queue.Outcome
}

func (r *memResults) Store(taskID string, outcome queue.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored[taskID] = outcome
	return nil
}

func (r *memResults) get(taskID string) (queue.Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	outcome, ok := r.stored[taskID]
	return outcome, ok
}

type memRuns struct {
	mu       sync.Mutex
	running  []string
	finished map[string]string
}

func (r *memRuns) MarkRunning(_ context.Context, taskID string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = append(r.running, taskID)
	return nil
}

func (r *memRuns) MarkFinished(_ context.Context, taskID, status string, _, _ *string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished[taskID] = status
	return nil
}

func (r *memRuns) status(taskID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished[taskID]
}

type noopEvents struct{}

func (noopEvents) Publish(entities.TaskEvent) {}

type noopPurger struct{}

func (noopPurger) RemoveOldRuns(context.Context, time.Duration) (int64, error) { return 0, nil }

func dispatchBody(t *testing.T, taskID, name, payload string) string {
	t.Helper()
	body, err := json.Marshal(usecases.DispatchMessage{TaskID: taskID, Name: name, Payload: payload})
	require.NoError(t, err)
	return string(body)
}

func runPool(t *testing.T, registry *tasks.Registry, broker *memBroker, results *memResults, runs *memRuns, expectAcks int) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := NewWorkerPool(logger, registry, broker, results, runs, noopEvents{},
		2, 5*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return broker.ackedCount() >= expectAcks
	}, 3*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestWorkerPool(t *testing.T) {
	registry := tasks.NewRegistry()
	require.NoError(t, tasks.RegisterBuiltins(registry, noopPurger{}))
	require.NoError(t, registry.Register("boom", func(context.Context, string) (string, error) {
		return "", errors.New("exploded")
	}))
	require.NoError(t, registry.Register("panics", func(context.Context, string) (string, error) {
		panic("unexpected nil")
	}))

	t.Run("successful task records result", func(t *testing.T) {
		broker := &memBroker{}
		results := &memResults{stored: make(map[string]queue.Outcome)}
		runs := &memRuns{finished: make(map[string]string)}

		broker.push("m1", dispatchBody(t, "task-1", "add", `{"x":1,"y":2}`))
		runPool(t, registry, broker, results, runs, 1)

		require.Equal(t, entities.StatusSucceeded, runs.status("task-1"))
		outcome, ok := results.get("task-1")
		require.True(t, ok)
		require.Equal(t, "3", outcome.Result)
		require.Empty(t, outcome.Error)
	})

	t.Run("failing task records error", func(t *testing.T) {
		broker := &memBroker{}
		results := &memResults{stored: make(map[string]queue.Outcome)}
		runs := &memRuns{finished: make(map[string]string)}

		broker.push("m1", dispatchBody(t, "task-2", "boom", "{}"))
		runPool(t, registry, broker, results, runs, 1)

		require.Equal(t, entities.StatusFailed, runs.status("task-2"))
		outcome, _ := results.get("task-2")
		require.Equal(t, "exploded", outcome.Error)
	})

	t.Run("panicking task fails without stopping the pool", func(t *testing.T) {
		broker := &memBroker{}
		results := &memResults{stored: make(map[string]queue.Outcome)}
		runs := &memRuns{finished: make(map[string]string)}

		broker.push("m1", dispatchBody(t, "task-3", "panics", "{}"))
		broker.push("m2", dispatchBody(t, "task-4", "add", `{"x":5,"y":5}`))
		runPool(t, registry, broker, results, runs, 2)

		require.Equal(t, entities.StatusFailed, runs.status("task-3"))
		outcome, _ := results.get("task-3")
		require.Contains(t, outcome.Error, "task panicked")

		// The pool survived and processed the next message.
		require.Equal(t, entities.StatusSucceeded, runs.status("task-4"))
	})

	t.Run("unknown task is failed and acknowledged", func(t *testing.T) {
		broker := &memBroker{}
		results := &memResults{stored: make(map[string]queue.Outcome)}
		runs := &memRuns{finished: make(map[string]string)}

		broker.push("m1", dispatchBody(t, "task-5", "missing", "{}"))
		runPool(t, registry, broker, results, runs, 1)

		require.Equal(t, entities.StatusFailed, runs.status("task-5"))
	})

	t.Run("malformed message is dropped with an ack", func(t *testing.T) {
		broker := &memBroker{}
		results := &memResults{stored: make(map[string]queue.Outcome)}
		runs := &memRuns{finished: make(map[string]string)}

		broker.push("m1", "not json at all")
		runPool(t, registry, broker, results, runs, 1)

		require.Empty(t, runs.finished)
		require.Empty(t, results.stored)
	})
}
