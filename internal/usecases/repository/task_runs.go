package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/quayside/conveyor/internal/entities"
	"github.com/quayside/conveyor/pkg/database"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// TaskRunsRepository persists the audit trail of every dispatched task.
type TaskRunsRepository struct {
	logger *slog.Logger

	db         tx.DBGetter
	transactor *tx.Transactor
}

func NewTaskRunsRepository(logger *slog.Logger, pg *database.Postgres) *TaskRunsRepository {
	return &TaskRunsRepository{logger: logger, db: pg.DBGetter, transactor: pg.Transactor}
}

func (r *TaskRunsRepository) InsertRun(ctx context.Context, task entities.Task) error {
	query, args, err := psql.Insert("task_runs").
		Columns("id", "name", "payload", "status", "enqueued_at").
		Values(task.ID, task.Name, task.Payload, task.Status, task.EnqueuedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert query: %w", err)
	}

	_, err = r.db(ctx).Exec(ctx, query, args...)
	return err
}

func (r *TaskRunsRepository) MarkRunning(ctx context.Context, taskID string, startedAt time.Time) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE task_runs SET status = $1, started_at = $2 WHERE id = $3",
		entities.StatusRunning, startedAt, taskID)
	return err
}

// MarkFinished records the terminal state of a run. The status check and
// update run in one transaction so a run never finishes twice.
func (r *TaskRunsRepository) MarkFinished(ctx context.Context, taskID, status string, result, errMsg *string, finishedAt time.Time) error {
	return r.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		var current string
		err := r.db(ctx).QueryRow(ctx,
			"SELECT status FROM task_runs WHERE id = $1 FOR UPDATE", taskID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("task run %s not found", taskID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock task run: %w", err)
		}

		if current == entities.StatusSucceeded || current == entities.StatusFailed {
			return fmt.Errorf("task run %s already finished with status %s", taskID, current)
		}

		_, err = r.db(ctx).Exec(ctx,
			"UPDATE task_runs SET status = $1, result = $2, error = $3, finished_at = $4 WHERE id = $5",
			status, result, errMsg, finishedAt, taskID)
		if err != nil {
			return fmt.Errorf("failed to update task run %s: %w", taskID, err)
		}
		return nil
	})
}

func (r *TaskRunsRepository) FindByID(ctx context.Context, taskID string) (*entities.Task, error) {
	query, args, err := psql.Select("id", "name", "payload", "status", "result", "error", "enqueued_at", "started_at", "finished_at").
		From("task_runs").
		Where(sq.Eq{"id": taskID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	task, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.Task])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to collect task run row", "error", err, "task_id", taskID)
		return nil, err
	}

	return &task, nil
}

func (r *TaskRunsRepository) FindRecent(ctx context.Context, limit uint64) ([]entities.Task, error) {
	query, args, err := psql.Select("id", "name", "payload", "status", "result", "error", "enqueued_at", "started_at", "finished_at").
		From("task_runs").
		OrderBy("enqueued_at DESC").
		Limit(limit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	taskRuns, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.Task])
	if err != nil {
		r.logger.Error("failed to collect task run rows", "error", err)
		return nil, err
	}

	return taskRuns, nil
}

// RemoveOldRuns deletes finished runs older than the retention window.
func (r *TaskRunsRepository) RemoveOldRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	query, args, err := psql.Delete("task_runs").
		Where(sq.Eq{"status": []string{entities.StatusSucceeded, entities.StatusFailed}}).
		Where(sq.Lt{"finished_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build delete query: %w", err)
	}

	tag, err := r.db(ctx).Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}
