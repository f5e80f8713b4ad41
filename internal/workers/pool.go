package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.openly.dev/pointy"

	"github.com/quayside/conveyor/internal/core/ports"
	"github.com/quayside/conveyor/internal/entities"
	"github.com/quayside/conveyor/internal/queue"
	"github.com/quayside/conveyor/internal/tasks"
	"github.com/quayside/conveyor/internal/usecases"
)

// Consumer is the broker surface the pool needs.
type Consumer interface {
	Dequeue(queueName string) (string, string, error)
	Acknowledge(id string, queueName string) error
}

// ResultStore records terminal task outcomes for synchronous waiters.
type ResultStore interface {
	Store(taskID string, outcome queue.Outcome) error
}

// RunRecorder tracks run state transitions in the database.
type RunRecorder interface {
	MarkRunning(ctx context.Context, taskID string, startedAt time.Time) error
	MarkFinished(ctx context.Context, taskID, status string, result, errMsg *string, finishedAt time.Time) error
}

// WorkerPool consumes the task queue with a fixed number of goroutines.
// A handler failure or panic fails that task only; the pool never stops
// on task errors.
type WorkerPool struct {
	logger   *slog.Logger
	registry *tasks.Registry
	broker   Consumer
	results  ResultStore
	runs     RunRecorder
	events   ports.TaskEventSink

	queueName    string
	concurrency  int
	pollInterval time.Duration
	taskTimeout  time.Duration
}

func NewWorkerPool(
	logger *slog.Logger,
	registry *tasks.Registry,
	broker Consumer,
	results ResultStore,
	runs RunRecorder,
	events ports.TaskEventSink,
	concurrency int,
	pollInterval time.Duration,
	taskTimeout time.Duration,
) *WorkerPool {
	if concurrency < 1 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = ports.WorkerIdleBackoff
	}
	return &WorkerPool{
		logger:       logger,
		registry:     registry,
		broker:       broker,
		results:      results,
		runs:         runs,
		events:       events,
		queueName:    queue.DefaultQueue,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		taskTimeout:  taskTimeout,
	}
}

// Start runs the pool until the context is cancelled.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.logger.Info("Starting worker pool",
		"concurrency", wp.concurrency,
		"poll_interval", wp.pollInterval.String(),
		"task_timeout", wp.taskTimeout.String())

	var wg sync.WaitGroup
	for i := 0; i < wp.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			wp.runWorker(ctx, workerID)
		}(i)
	}
	wg.Wait()

	wp.logger.Info("Worker pool stopped")
}

func (wp *WorkerPool) runWorker(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messageID, body, err := wp.broker.Dequeue(wp.queueName)
		if err != nil {
			wp.logger.Error("Failed to dequeue message", "error", err, "worker", workerID)
			wp.sleep(ctx)
			continue
		}
		if messageID == "" {
			wp.sleep(ctx)
			continue
		}

		wp.processMessage(ctx, workerID, messageID, body)
	}
}

func (wp *WorkerPool) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(wp.pollInterval):
	}
}

func (wp *WorkerPool) processMessage(ctx context.Context, workerID int, messageID, body string) {
	// A malformed envelope is dropped with an ack; redelivering it can
	// never succeed.
	var msg usecases.DispatchMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		wp.logger.Error("Dropping malformed task message", "error", err, "message_id", messageID)
		wp.acknowledge(messageID)
		return
	}

	logger := wp.logger.With("task_id", msg.TaskID, "name", msg.Name, "worker", workerID)

	handler, err := wp.registry.Resolve(msg.Name)
	if err != nil {
		logger.Error("No handler for task", "error", err)
		wp.finish(ctx, logger, msg, entities.StatusFailed, nil, pointy.String(err.Error()))
		wp.acknowledge(messageID)
		return
	}

	startedAt := time.Now().UTC()
	if err = wp.runs.MarkRunning(ctx, msg.TaskID, startedAt); err != nil {
		logger.Error("Failed to mark task running", "error", err)
	}
	wp.events.Publish(entities.TaskEvent{TaskID: msg.TaskID, Name: msg.Name, Status: entities.StatusRunning})
	logger.Debug("Task started")

	result, err := wp.execute(ctx, handler, msg.Payload)
	if err != nil {
		logger.Error("Task failed", "error", err, "duration", time.Since(startedAt).String())
		wp.finish(ctx, logger, msg, entities.StatusFailed, nil, pointy.String(err.Error()))
	} else {
		logger.Info("Task succeeded", "duration", time.Since(startedAt).String())
		wp.finish(ctx, logger, msg, entities.StatusSucceeded, pointy.String(result), nil)
	}

	wp.acknowledge(messageID)
}

// execute runs the handler under the task timeout, converting panics
// into task errors.
func (wp *WorkerPool) execute(ctx context.Context, handler tasks.Handler, payload string) (result string, err error) {
	taskCtx := ctx
	if wp.taskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, wp.taskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	return handler(taskCtx, payload)
}

func (wp *WorkerPool) finish(ctx context.Context, logger *slog.Logger, msg usecases.DispatchMessage, status string, result, errMsg *string) {
	finishedAt := time.Now().UTC()

	if err := wp.runs.MarkFinished(ctx, msg.TaskID, status, result, errMsg, finishedAt); err != nil {
		logger.Error("Failed to record task outcome", "error", err)
	}

	outcome := queue.Outcome{Status: status}
	if result != nil {
		outcome.Result = *result
	}
	if errMsg != nil {
		outcome.Error = *errMsg
	}
	if err := wp.results.Store(msg.TaskID, outcome); err != nil {
		logger.Error("Failed to store task result", "error", err)
	}

	wp.events.Publish(entities.TaskEvent{
		TaskID: msg.TaskID,
		Name:   msg.Name,
		Status: status,
		Result: outcome.Result,
		Error:  outcome.Error,
	})
}

func (wp *WorkerPool) acknowledge(messageID string) {
	if err := wp.broker.Acknowledge(messageID, wp.queueName); err != nil {
		wp.logger.Error("Failed to acknowledge message", "error", err, "message_id", messageID)
	}
}
