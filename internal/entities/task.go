package entities

import "time"

// Task statuses as stored in task_runs.status.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

type Task struct {
	ID         string     `json:"id"          db:"id"`
	Name       string     `json:"name"        db:"name"`
	Payload    string     `json:"payload"     db:"payload"`
	Status     string     `json:"status"      db:"status"`
	Result     *string    `json:"result,omitempty" db:"result"`
	Error      *string    `json:"error,omitempty"  db:"error"`
	EnqueuedAt time.Time  `json:"enqueued_at" db:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"  db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// TaskEvent is pushed to websocket subscribers on every status change.
type TaskEvent struct {
	TaskID string `json:"task_id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}
