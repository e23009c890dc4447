package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/phrazzld/taskrelay/internal/task"
)

// CreateTaskRequest represents the request body for submitting a task.
type CreateTaskRequest struct {
	Kind      string          `json:"kind"       validate:"required"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	DependsOn []string        `json:"depends_on" validate:"omitempty,dive,uuid"`
}

// DequeueRequest represents the request body for cancelling queued tasks by
// match criteria.
type DequeueRequest struct {
	Kind  string         `json:"kind"  validate:"required"`
	Match map[string]any `json:"match,omitempty"`
}

// TaskResponse represents the response data for a task record.
type TaskResponse struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Status       string          `json:"status"`
	DependsOn    []string        `json:"depends_on,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TaskHandler handles task-related HTTP requests.
type TaskHandler struct {
	engine    *task.Engine
	validator *validator.Validate
	logger    *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(engine *task.Engine, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		engine:    engine,
		validator: validator.New(),
		logger:    logger.With("component", "task_handler"),
	}
}

// CreateTask handles POST /api/tasks requests. The task is written through
// the persisted source and queued for execution; the response carries only
// the assigned id, processing happens asynchronously.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	deps := make([]uuid.UUID, 0, len(req.DependsOn))
	for _, raw := range req.DependsOn {
		id, err := uuid.Parse(raw)
		if err != nil {
			RespondWithError(w, http.StatusBadRequest, "Invalid dependency id: "+raw)
			return
		}
		deps = append(deps, id)
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}

	id, err := h.engine.Enqueue(r.Context(), req.Kind, payload, deps...)
	if err != nil {
		h.logger.Error("failed to enqueue task", "error", err, "task_kind", req.Kind)
		RespondWithError(w, http.StatusInternalServerError, "Failed to enqueue task")
		return
	}

	RespondWithJSON(w, http.StatusAccepted, map[string]string{"id": id.String()})
}

// ListTasks handles GET /api/tasks requests. The scope query parameter
// selects the queue partition (default), the completed partition, or both.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	var records []task.Record
	switch scope := r.URL.Query().Get("scope"); scope {
	case "", "queue":
		records = h.engine.Queued()
	case "completed":
		records = h.engine.Completed()
	case "all":
		records = h.engine.All()
	default:
		RespondWithError(w, http.StatusBadRequest, "Unknown scope: "+scope)
		return
	}

	out := make([]TaskResponse, len(records))
	for i, rec := range records {
		out[i] = recordToResponse(rec)
	}
	RespondWithJSON(w, http.StatusOK, out)
}

// GetTask handles GET /api/tasks/{id} requests.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	rec, found := h.engine.Get(id)
	if !found {
		RespondWithError(w, http.StatusNotFound, "Task not found")
		return
	}
	RespondWithJSON(w, http.StatusOK, recordToResponse(rec))
}

// WaitTask handles GET /api/tasks/{id}/wait requests, exposing the waiter
// protocol over HTTP. phase=local resolves once the record exists;
// phase=remote (the default) resolves once it is terminal. The wait is
// bounded by the request context.
func (h *TaskHandler) WaitTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var (
		rec task.Record
		err error
	)
	switch phase := r.URL.Query().Get("phase"); phase {
	case "local":
		rec, err = h.engine.AwaitLocal(r.Context(), id)
	case "", "remote":
		rec, err = h.engine.AwaitRemote(r.Context(), id)
	default:
		RespondWithError(w, http.StatusBadRequest, "Unknown phase: "+phase)
		return
	}

	if err != nil {
		RespondWithError(w, http.StatusRequestTimeout, "Wait cancelled")
		return
	}
	RespondWithJSON(w, http.StatusOK, recordToResponse(rec))
}

// DequeueTasks handles DELETE /api/tasks requests, cancelling queued tasks
// whose kind and fields match the given criteria.
func (h *TaskHandler) DequeueTasks(w http.ResponseWriter, r *http.Request) {
	var req DequeueRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	var m task.Matcher
	if len(req.Match) > 0 {
		m = task.Match(req.Match)
	}

	removed, err := h.engine.DequeueMatching(r.Context(), req.Kind, m)
	if err != nil {
		if errors.Is(err, task.ErrMatchPredicate) {
			RespondWithError(w, http.StatusBadRequest, "Invalid match criteria")
			return
		}
		h.logger.Error("failed to dequeue tasks", "error", err, "task_kind", req.Kind)
		RespondWithError(w, http.StatusInternalServerError, "Failed to dequeue tasks")
		return
	}

	RespondWithJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *TaskHandler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid task id")
		return uuid.Nil, false
	}
	return id, true
}

func recordToResponse(rec task.Record) TaskResponse {
	deps := make([]string, len(rec.DependsOn))
	for i, dep := range rec.DependsOn {
		deps[i] = dep.String()
	}
	if len(deps) == 0 {
		deps = nil
	}
	return TaskResponse{
		ID:           rec.ID.String(),
		Kind:         rec.Kind,
		Payload:      rec.Payload,
		Status:       string(rec.Status),
		DependsOn:    deps,
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}
