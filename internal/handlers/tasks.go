package handlers

import (
	"context"
	"time"

	"github.com/quayside/conveyor/internal/entities"
	"github.com/quayside/conveyor/internal/queue"
	"github.com/quayside/conveyor/internal/usecases"
)

var _ TaskService = (*usecases.TaskService)(nil)

type TaskService interface {
	Dispatch(ctx context.Context, name, payload string) (string, error)
	Await(ctx context.Context, taskID string, timeout time.Duration) (*queue.Outcome, error)
	GetTask(ctx context.Context, taskID string) (*entities.Task, error)
	ListRecent(ctx context.Context, limit uint64) ([]entities.Task, error)
}

// HealthChecker reports liveness of an external collaborator.
type HealthChecker interface {
	IsAlive() (bool, error)
}
