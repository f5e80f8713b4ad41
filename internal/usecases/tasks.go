package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.openly.dev/pointy"

	"github.com/quayside/conveyor/internal/core/ports"
	"github.com/quayside/conveyor/internal/entities"
	"github.com/quayside/conveyor/internal/queue"
	"github.com/quayside/conveyor/internal/tasks"
)

// TaskRunsRepository is the persistence surface the service needs.
type TaskRunsRepository interface {
	InsertRun(ctx context.Context, task entities.Task) error
	MarkRunning(ctx context.Context, taskID string, startedAt time.Time) error
	MarkFinished(ctx context.Context, taskID, status string, result, errMsg *string, finishedAt time.Time) error
	FindByID(ctx context.Context, taskID string) (*entities.Task, error)
	FindRecent(ctx context.Context, limit uint64) ([]entities.Task, error)
	RemoveOldRuns(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Publisher is the broker surface the service needs.
type Publisher interface {
	Enqueue(body string, queueName string) (string, error)
}

// ResultWaiter is the result backend surface the service needs.
type ResultWaiter interface {
	Wait(ctx context.Context, taskID string, timeout time.Duration) (*queue.Outcome, error)
}

// DispatchMessage is the broker envelope body for one task dispatch.
type DispatchMessage struct {
	TaskID  string `json:"task_id"`
	Name    string `json:"name"`
	Payload string `json:"payload"`
}

type TaskService struct {
	logger    *slog.Logger
	registry  *tasks.Registry
	repo      TaskRunsRepository
	broker    Publisher
	results   ResultWaiter
	events    ports.TaskEventSink
	queueName string
}

func NewTaskService(
	logger *slog.Logger,
	registry *tasks.Registry,
	repo TaskRunsRepository,
	broker Publisher,
	results ResultWaiter,
	events ports.TaskEventSink,
) *TaskService {
	return &TaskService{
		logger:    logger,
		registry:  registry,
		repo:      repo,
		broker:    broker,
		results:   results,
		events:    events,
		queueName: queue.DefaultQueue,
	}
}

// Dispatch validates the task name, records the run and places it on the
// broker. It returns the task ID callers use to fetch or await results.
func (s *TaskService) Dispatch(ctx context.Context, name, payload string) (string, error) {
	if _, err := s.registry.Resolve(name); err != nil {
		return "", err
	}
	if payload == "" {
		payload = "{}"
	}

	task := entities.Task{
		ID:         uuid.New().String(),
		Name:       name,
		Payload:    payload,
		Status:     entities.StatusQueued,
		EnqueuedAt: time.Now().UTC(),
	}

	if err := s.repo.InsertRun(ctx, task); err != nil {
		return "", fmt.Errorf("failed to record task run: %w", err)
	}

	body, err := json.Marshal(DispatchMessage{TaskID: task.ID, Name: name, Payload: payload})
	if err != nil {
		return "", err
	}

	if _, err = s.broker.Enqueue(string(body), s.queueName); err != nil {
		// The run row exists but the broker never saw it; close the run
		// so it does not sit queued forever.
		markErr := s.repo.MarkFinished(ctx, task.ID, entities.StatusFailed,
			nil, pointy.String("enqueue failed: "+err.Error()), time.Now().UTC())
		if markErr != nil {
			s.logger.Error("Failed to mark unenqueued run as failed", "error", markErr, "task_id", task.ID)
		}
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	s.events.Publish(entities.TaskEvent{TaskID: task.ID, Name: name, Status: entities.StatusQueued})
	s.logger.Debug("Task dispatched", "task_id", task.ID, "name", name)

	return task.ID, nil
}

// Await blocks until the task result is available or the timeout
// elapses. Timeouts surface queue.ErrResultTimeout to the caller; the
// task itself keeps running.
func (s *TaskService) Await(ctx context.Context, taskID string, timeout time.Duration) (*queue.Outcome, error) {
	return s.results.Wait(ctx, taskID, timeout)
}

func (s *TaskService) GetTask(ctx context.Context, taskID string) (*entities.Task, error) {
	return s.repo.FindByID(ctx, taskID)
}

func (s *TaskService) ListRecent(ctx context.Context, limit uint64) ([]entities.Task, error) {
	return s.repo.FindRecent(ctx, limit)
}

func (s *TaskService) RemoveOldRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.repo.RemoveOldRuns(ctx, olderThan)
}
