package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hiroki-koketsu/go-todo-store/internal/kvstore"
	"github.com/hiroki-koketsu/go-todo-store/internal/model"
	"github.com/hiroki-koketsu/go-todo-store/internal/repository"
	"github.com/hiroki-koketsu/go-todo-store/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/hiroki-koketsu/go-todo-store/internal/handler")

const (
	routeTasks    = "/api/v1/tasks"
	routeTask     = "/api/v1/tasks/{id}"
	routeStats    = "/api/v1/tasks/stats"
	routePriority = "/api/v1/tasks/{id}/priority"
	routeDueDate  = "/api/v1/tasks/{id}/due-date"
	routeToggle   = "/api/v1/tasks/{id}/toggle"
)

// TaskHandler handles HTTP requests for tasks.
type TaskHandler struct {
	repo    *repository.TaskRepository
	store   kvstore.Store
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// NewTaskHandler creates a new TaskHandler. store is only used for health
// checks; all task access goes through repo.
func NewTaskHandler(repo *repository.TaskRepository, store kvstore.Store, logger *slog.Logger, metrics *telemetry.Metrics) *TaskHandler {
	return &TaskHandler{
		repo:    repo,
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// Routes returns the chi router with task routes.
func (h *TaskHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(h.ensureInitialized)

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/stats", h.Stats)
	r.Get("/{id}", h.GetByID)
	r.Put("/{id}", h.UpdateTitle)
	r.Put("/{id}/priority", h.UpdatePriority)
	r.Put("/{id}/due-date", h.UpdateDueDate)
	r.Post("/{id}/toggle", h.ToggleComplete)
	r.Delete("/{id}", h.Delete)

	return r
}

// ensureInitialized loads the task list on first use. After the first
// successful load this is a flag check.
func (h *TaskHandler) ensureInitialized(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.repo.Initialize(r.Context()); err != nil {
			h.logger.ErrorContext(r.Context(), "failed to load task list", slog.Any("error", err))
			h.respondError(w, http.StatusServiceUnavailable, "task list unavailable")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// List returns all tasks, optionally filtered by ?status=all|active|completed.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "TaskHandler.List")
	defer span.End()

	filter, err := model.ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		h.logger.WarnContext(ctx, "invalid status filter", slog.Any("error", err))
		h.respondError(w, http.StatusBadRequest, err.Error())
		h.recordMetrics(ctx, "GET", routeTasks, http.StatusBadRequest, start)
		return
	}

	h.logger.InfoContext(ctx, "listing tasks", slog.String("status", string(filter)))

	tasks := h.repo.ListByStatus(ctx, filter)

	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	h.logger.InfoContext(ctx, "tasks listed", slog.Int("count", len(tasks)))

	h.respondJSON(w, http.StatusOK, tasks)
	h.recordMetrics(ctx, "GET", routeTasks, http.StatusOK, start)
}

// Create adds a new task.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "TaskHandler.Create")
	defer span.End()

	var req model.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(ctx, w, "POST", routeTasks, start, err)
		return
	}

	if err := req.Validate(); err != nil {
		h.logger.WarnContext(ctx, "validation failed", slog.Any("error", err))
		h.respondError(w, http.StatusBadRequest, err.Error())
		h.recordMetrics(ctx, "POST", routeTasks, http.StatusBadRequest, start)
		return
	}

	h.logger.InfoContext(ctx, "creating task", slog.String("title", req.Title))

	task, err := h.repo.Create(ctx, req.Title, req.Priority, req.DueDate)
	if err != nil {
		h.failed(ctx, w, "POST", routeTasks, start, "failed to create task", err)
		return
	}

	span.SetAttributes(attribute.String("task.id", task.ID))
	h.logger.InfoContext(ctx, "task created", slog.String("id", task.ID))

	h.respondJSON(w, http.StatusCreated, task)
	h.recordMetrics(ctx, "POST", routeTasks, http.StatusCreated, start)
}

// Stats returns completed, pending and overdue counts.
func (h *TaskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "TaskHandler.Stats")
	defer span.End()

	stats := h.repo.Stats(ctx)

	h.respondJSON(w, http.StatusOK, stats)
	h.recordMetrics(ctx, "GET", routeStats, http.StatusOK, start)
}

// GetByID returns a task by ID.
func (h *TaskHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(ctx, "TaskHandler.GetByID",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	h.logger.InfoContext(ctx, "getting task", slog.String("id", id))

	task, ok := h.repo.GetByID(ctx, id)
	if !ok {
		h.notFound(ctx, w, "GET", routeTask, start, id)
		return
	}

	h.respondJSON(w, http.StatusOK, task)
	h.recordMetrics(ctx, "GET", routeTask, http.StatusOK, start)
}

// UpdateTitle renames a task.
func (h *TaskHandler) UpdateTitle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(ctx, "TaskHandler.UpdateTitle",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	var req model.UpdateTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(ctx, w, "PUT", routeTask, start, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.badRequest(ctx, w, "PUT", routeTask, start, err)
		return
	}

	h.logger.InfoContext(ctx, "updating task title", slog.String("id", id))

	ok, err := h.repo.UpdateTitle(ctx, id, req.Title)
	h.finishUpdate(ctx, w, "PUT", routeTask, start, id, ok, err)
}

// UpdatePriority changes a task's priority.
func (h *TaskHandler) UpdatePriority(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(ctx, "TaskHandler.UpdatePriority",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	var req model.UpdatePriorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(ctx, w, "PUT", routePriority, start, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.badRequest(ctx, w, "PUT", routePriority, start, err)
		return
	}

	h.logger.InfoContext(ctx, "updating task priority",
		slog.String("id", id),
		slog.String("priority", req.Priority.String()),
	)

	ok, err := h.repo.UpdatePriority(ctx, id, req.Priority)
	h.finishUpdate(ctx, w, "PUT", routePriority, start, id, ok, err)
}

// UpdateDueDate sets or clears a task's due date.
func (h *TaskHandler) UpdateDueDate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(ctx, "TaskHandler.UpdateDueDate",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	var req model.UpdateDueDateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(ctx, w, "PUT", routeDueDate, start, err)
		return
	}

	h.logger.InfoContext(ctx, "updating task due date",
		slog.String("id", id),
		slog.Bool("clear", req.DueDate == nil),
	)

	ok, err := h.repo.UpdateDueDate(ctx, id, req.DueDate)
	h.finishUpdate(ctx, w, "PUT", routeDueDate, start, id, ok, err)
}

// ToggleComplete flips a task's completion state.
func (h *TaskHandler) ToggleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(ctx, "TaskHandler.ToggleComplete",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	h.logger.InfoContext(ctx, "toggling task", slog.String("id", id))

	ok, err := h.repo.ToggleComplete(ctx, id)
	h.finishUpdate(ctx, w, "POST", routeToggle, start, id, ok, err)
}

// Delete removes a task.
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(ctx, "TaskHandler.Delete",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	h.logger.InfoContext(ctx, "deleting task", slog.String("id", id))

	ok, err := h.repo.Delete(ctx, id)
	if err != nil {
		h.failed(ctx, w, "DELETE", routeTask, start, "failed to delete task", err)
		return
	}
	if !ok {
		h.notFound(ctx, w, "DELETE", routeTask, start, id)
		return
	}

	h.logger.InfoContext(ctx, "task deleted", slog.String("id", id))

	w.WriteHeader(http.StatusNoContent)
	h.recordMetrics(ctx, "DELETE", routeTask, http.StatusNoContent, start)
}

// Health returns a health check response. Stores that can be pinged are.
func (h *TaskHandler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.store.(kvstore.Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "store health check failed", slog.Any("error", err))
			h.respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// finishUpdate writes the response shared by every single-task mutation.
func (h *TaskHandler) finishUpdate(ctx context.Context, w http.ResponseWriter, method, route string, start time.Time, id string, ok bool, err error) {
	if err != nil {
		h.failed(ctx, w, method, route, start, "failed to update task", err)
		return
	}
	if !ok {
		h.notFound(ctx, w, method, route, start, id)
		return
	}

	// A concurrent delete can remove the task once the update has released it.
	task, found := h.repo.GetByID(ctx, id)
	if !found {
		h.notFound(ctx, w, method, route, start, id)
		return
	}
	h.logger.InfoContext(ctx, "task updated", slog.String("id", id))

	h.respondJSON(w, http.StatusOK, task)
	h.recordMetrics(ctx, method, route, http.StatusOK, start)
}

func (h *TaskHandler) badRequest(ctx context.Context, w http.ResponseWriter, method, route string, start time.Time, err error) {
	h.logger.WarnContext(ctx, "invalid request", slog.Any("error", err))
	msg := "invalid request body"
	var taskErr model.TaskError
	if errors.As(err, &taskErr) {
		msg = taskErr.Error()
	}
	h.respondError(w, http.StatusBadRequest, msg)
	h.recordMetrics(ctx, method, route, http.StatusBadRequest, start)
}

func (h *TaskHandler) notFound(ctx context.Context, w http.ResponseWriter, method, route string, start time.Time, id string) {
	h.logger.WarnContext(ctx, "task not found", slog.String("id", id))
	h.respondError(w, http.StatusNotFound, model.ErrTaskNotFound.Error())
	h.recordMetrics(ctx, method, route, http.StatusNotFound, start)
}

// failed reports err as a bad request when it is a domain error and as an
// internal error otherwise.
func (h *TaskHandler) failed(ctx context.Context, w http.ResponseWriter, method, route string, start time.Time, msg string, err error) {
	var taskErr model.TaskError
	if errors.As(err, &taskErr) {
		h.badRequest(ctx, w, method, route, start, err)
		return
	}
	h.logger.ErrorContext(ctx, msg, slog.Any("error", err))
	h.respondError(w, http.StatusInternalServerError, msg)
	h.recordMetrics(ctx, method, route, http.StatusInternalServerError, start)
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (h *TaskHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func (h *TaskHandler) recordMetrics(ctx context.Context, method, route string, status int, start time.Time) {
	duration := time.Since(start).Seconds()

	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	)

	h.metrics.RequestCounter.Add(ctx, 1, attrs)
	h.metrics.RequestDuration.Record(ctx, duration, attrs)
}
