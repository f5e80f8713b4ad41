package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/quayside/conveyor/internal/core/ports"
	"github.com/quayside/conveyor/internal/queue"
	"github.com/quayside/conveyor/internal/tasks"
)

const defaultListLimit = 50

// Pinger reports database liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HTTPHandler struct {
	logger      *slog.Logger
	taskService TaskService
	db          Pinger
	broker      HealthChecker
	staticDir   string
}

func NewHTTPHandler(logger *slog.Logger, taskService TaskService, db Pinger, broker HealthChecker, staticDir string) *HTTPHandler {
	return &HTTPHandler{
		logger:      logger,
		taskService: taskService,
		db:          db,
		broker:      broker,
		staticDir:   staticDir,
	}
}

func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	// API endpoints.

	// Tasks
	router.HandleFunc("/tasks/{name}/sync", h.DispatchTaskSync).Methods("POST")
	router.HandleFunc("/tasks/{name}", h.DispatchTask).Methods("POST")
	router.HandleFunc("/tasks/{taskId}", h.GetTask).Methods("GET")
	router.HandleFunc("/tasks", h.ListTasks).Methods("GET")

	// Health
	router.HandleFunc("/healthz", h.Health).Methods("GET")

	// Static files - register last to avoid intercepting other routes.
	fs := http.FileServer(http.Dir(h.staticDir))
	router.PathPrefix("/").Handler(http.StripPrefix("/", fs))
}

// DispatchTask enqueues a task and returns immediately with its ID.
func (h *HTTPHandler) DispatchTask(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]

	payload, err := readPayload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	taskID, err := h.taskService.Dispatch(r.Context(), name, payload)
	if err != nil {
		if errors.Is(err, tasks.ErrUnknownTask) {
			http.Error(w, fmt.Sprintf("Unknown task: %s", name), http.StatusBadRequest)
			return
		}
		h.logger.Error("Failed to dispatch task", "error", err, "name", name)
		http.Error(w, "Failed to dispatch task", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"task_id": taskID,
		"status":  "queued",
	})
}

// DispatchTaskSync enqueues a task and waits for its result. A missed
// result deadline maps to 504 while the task keeps running.
func (h *HTTPHandler) DispatchTaskSync(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]

	payload, err := readPayload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	timeout := ports.DefaultSyncTimeout
	if timeoutParam := r.URL.Query().Get("timeout"); timeoutParam != "" {
		seconds, parseErr := strconv.ParseFloat(timeoutParam, 64)
		if parseErr != nil || seconds <= 0 {
			http.Error(w, "Invalid timeout parameter", http.StatusBadRequest)
			return
		}
		timeout = time.Duration(seconds * float64(time.Second))
	}

	taskID, err := h.taskService.Dispatch(r.Context(), name, payload)
	if err != nil {
		if errors.Is(err, tasks.ErrUnknownTask) {
			http.Error(w, fmt.Sprintf("Unknown task: %s", name), http.StatusBadRequest)
			return
		}
		h.logger.Error("Failed to dispatch task", "error", err, "name", name)
		http.Error(w, "Failed to dispatch task", http.StatusInternalServerError)
		return
	}

	outcome, err := h.taskService.Await(r.Context(), taskID, timeout)
	if err != nil {
		if errors.Is(err, queue.ErrResultTimeout) {
			h.logger.Warn("Timed out waiting for task result", "task_id", taskID, "name", name, "timeout", timeout.String())
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusGatewayTimeout)
			json.NewEncoder(w).Encode(map[string]string{
				"task_id": taskID,
				"error":   "timed out waiting for task result",
			})
			return
		}
		h.logger.Error("Failed to await task result", "error", err, "task_id", taskID)
		http.Error(w, "Failed to await task result", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"task_id": taskID,
		"status":  outcome.Status,
		"result":  outcome.Result,
		"error":   outcome.Error,
	})
}

// GetTask returns the recorded run for a task ID.
func (h *HTTPHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	taskID := vars["taskId"]

	task, err := h.taskService.GetTask(r.Context(), taskID)
	if err != nil {
		h.logger.Error("Failed to get task", "error", err, "task_id", taskID)
		http.Error(w, "Failed to retrieve task", http.StatusInternalServerError)
		return
	}
	if task == nil {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(task)
}

// ListTasks returns the most recent task runs.
func (h *HTTPHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	limit := uint64(defaultListLimit)
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsed, err := strconv.ParseUint(limitParam, 10, 64)
		if err != nil || parsed == 0 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	taskRuns, err := h.taskService.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list tasks", "error", err)
		http.Error(w, "Failed to list tasks", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(taskRuns)
}

// Health checks the database and the broker.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := map[string]string{"database": "ok", "broker": "ok"}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Error("Database health check failed", "error", err)
		checks["database"] = "unreachable"
		status = http.StatusServiceUnavailable
	}

	if alive, err := h.broker.IsAlive(); err != nil || !alive {
		h.logger.Error("Broker health check failed", "error", err)
		checks["broker"] = "unreachable"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(checks)
}

func readPayload(r *http.Request) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read request body")
	}
	if len(body) == 0 {
		return "{}", nil
	}
	if !json.Valid(body) {
		return "", fmt.Errorf("request body must be valid JSON")
	}
	return string(body), nil
}
