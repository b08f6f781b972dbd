package repository

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hiroki-koketsu/go-todo-store/internal/kvstore"
	"github.com/hiroki-koketsu/go-todo-store/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultStorageKey is the key the task list snapshot is stored under.
const DefaultStorageKey = "todos"

var tracer = otel.Tracer("github.com/hiroki-koketsu/go-todo-store/internal/repository")

// TaskRepository owns the in-memory task list and keeps a snapshot of it in
// a key-value store. The list is loaded once by Initialize and written back
// in full after every mutation. Queries never touch the store.
type TaskRepository struct {
	store  kvstore.Store
	key    string
	now    func() time.Time
	logger *slog.Logger

	initMu      sync.Mutex
	initialized atomic.Bool

	mu    sync.RWMutex
	tasks []*model.Task
}

// Option configures a TaskRepository.
type Option func(*TaskRepository)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *TaskRepository) { r.now = now }
}

// WithLogger sets the logger used for recoverable load problems.
func WithLogger(logger *slog.Logger) Option {
	return func(r *TaskRepository) { r.logger = logger }
}

// WithStorageKey overrides DefaultStorageKey.
func WithStorageKey(key string) Option {
	return func(r *TaskRepository) { r.key = key }
}

// NewTaskRepository creates a new TaskRepository backed by store.
func NewTaskRepository(store kvstore.Store, opts ...Option) *TaskRepository {
	r := &TaskRepository{
		store:  store,
		key:    DefaultStorageKey,
		now:    time.Now,
		logger: slog.Default(),
		tasks:  make([]*model.Task, 0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize loads the snapshot from the store. Only the first successful
// call does any work; later and concurrent calls return once it is done.
// A snapshot that cannot be decoded is discarded and the list starts empty.
// A store read error is returned and the next call tries again.
func (r *TaskRepository) Initialize(ctx context.Context) error {
	if r.initialized.Load() {
		return nil
	}

	r.initMu.Lock()
	defer r.initMu.Unlock()

	if r.initialized.Load() {
		return nil
	}

	ctx, span := tracer.Start(ctx, "TaskRepository.Initialize",
		trace.WithAttributes(attribute.String("storage.key", r.key)),
	)
	defer span.End()

	raw, found, err := r.store.Get(ctx, r.key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot read failed")
		return fmt.Errorf("failed to read task snapshot: %w", err)
	}

	var loaded []*model.Task
	if found && raw != "" {
		tasks, err := decodeSnapshot(raw)
		if err != nil {
			r.logger.WarnContext(ctx, "discarding unreadable task snapshot",
				slog.String("key", r.key),
				slog.Any("error", err),
			)
			span.SetAttributes(attribute.Bool("snapshot.corrupt", true))
		} else {
			loaded = tasks
		}
	}

	r.mu.Lock()
	r.tasks = make([]*model.Task, 0, len(loaded))
	r.tasks = append(r.tasks, loaded...)
	r.mu.Unlock()

	r.initialized.Store(true)
	span.SetAttributes(attribute.Int("task.count", len(loaded)))
	return nil
}

// Initialized reports whether Initialize has completed.
func (r *TaskRepository) Initialized() bool {
	return r.initialized.Load()
}

// List returns all tasks, most recently created first.
func (r *TaskRepository) List(ctx context.Context) []model.Task {
	return r.ListByStatus(ctx, model.StatusAll)
}

// ListByStatus returns the tasks matching filter, most recently created first.
func (r *TaskRepository) ListByStatus(ctx context.Context, filter model.StatusFilter) []model.Task {
	_, span := tracer.Start(ctx, "TaskRepository.List",
		trace.WithAttributes(attribute.String("task.status", string(filter))),
	)
	defer span.End()

	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]model.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if filter.Match(*t) {
			tasks = append(tasks, t.Clone())
		}
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})

	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	return tasks
}

// GetByID retrieves a task by its ID.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (model.Task, bool) {
	_, span := tracer.Start(ctx, "TaskRepository.GetByID",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	r.mu.RLock()
	defer r.mu.RUnlock()

	task := r.find(id)
	span.SetAttributes(attribute.Bool("task.found", task != nil))
	if task == nil {
		return model.Task{}, false
	}
	return task.Clone(), true
}

// CompletedCount returns the number of completed tasks.
func (r *TaskRepository) CompletedCount(ctx context.Context) int {
	return r.Stats(ctx).Completed
}

// PendingCount returns the number of incomplete tasks.
func (r *TaskRepository) PendingCount(ctx context.Context) int {
	return r.Stats(ctx).Pending
}

// OverdueCount returns the number of incomplete tasks whose due date is on
// an earlier calendar day than today. A task due today is not overdue.
func (r *TaskRepository) OverdueCount(ctx context.Context) int {
	return r.Stats(ctx).Overdue
}

// Stats returns all counters from a single read of the list.
func (r *TaskRepository) Stats(ctx context.Context) model.TaskStats {
	_, span := tracer.Start(ctx, "TaskRepository.Stats")
	defer span.End()

	now := r.now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := model.TaskStats{Total: len(r.tasks)}
	for _, t := range r.tasks {
		if t.IsCompleted {
			stats.Completed++
		} else {
			stats.Pending++
		}
		if t.IsOverdue(now) {
			stats.Overdue++
		}
	}
	return stats
}

// Count returns the current number of tasks.
func (r *TaskRepository) Count() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.tasks))
}

// Create adds a new task and persists the list. A zero priority means Medium.
func (r *TaskRepository) Create(ctx context.Context, title string, priority model.Priority, dueDate *time.Time) (model.Task, error) {
	ctx, span := tracer.Start(ctx, "TaskRepository.Create",
		trace.WithAttributes(attribute.String("task.title", title)),
	)
	defer span.End()

	if err := model.ValidateTitle(title); err != nil {
		return model.Task{}, err
	}
	priority = priority.OrDefault()
	if !priority.Valid() {
		return model.Task{}, model.ErrInvalidPriority
	}

	task := &model.Task{
		ID:        uuid.New().String(),
		Title:     strings.TrimSpace(title),
		Priority:  priority,
		CreatedAt: r.now(),
		DueDate:   copyTime(dueDate),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks = append(r.tasks, task)
	span.SetAttributes(attribute.String("task.id", task.ID))

	if err := r.save(ctx); err != nil {
		return task.Clone(), err
	}
	return task.Clone(), nil
}

// UpdateTitle renames a task. It reports false if no task has the ID.
func (r *TaskRepository) UpdateTitle(ctx context.Context, id, title string) (bool, error) {
	if err := model.ValidateTitle(title); err != nil {
		return false, err
	}
	title = strings.TrimSpace(title)
	return r.mutate(ctx, "TaskRepository.UpdateTitle", id, func(t *model.Task) {
		t.Title = title
	})
}

// UpdatePriority changes a task's priority.
func (r *TaskRepository) UpdatePriority(ctx context.Context, id string, priority model.Priority) (bool, error) {
	if !priority.Valid() {
		return false, model.ErrInvalidPriority
	}
	return r.mutate(ctx, "TaskRepository.UpdatePriority", id, func(t *model.Task) {
		t.Priority = priority
	})
}

// UpdateDueDate sets a task's due date. A nil dueDate clears it.
func (r *TaskRepository) UpdateDueDate(ctx context.Context, id string, dueDate *time.Time) (bool, error) {
	dueDate = copyTime(dueDate)
	return r.mutate(ctx, "TaskRepository.UpdateDueDate", id, func(t *model.Task) {
		t.DueDate = dueDate
	})
}

// ToggleComplete flips a task between complete and incomplete. CompletedAt is
// stamped on every transition to complete and cleared on the way back.
func (r *TaskRepository) ToggleComplete(ctx context.Context, id string) (bool, error) {
	return r.mutate(ctx, "TaskRepository.ToggleComplete", id, func(t *model.Task) {
		t.IsCompleted = !t.IsCompleted
		if t.IsCompleted {
			now := r.now()
			t.CompletedAt = &now
		} else {
			t.CompletedAt = nil
		}
	})
}

// Delete removes a task from the list.
func (r *TaskRepository) Delete(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "TaskRepository.Delete",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(id)
	span.SetAttributes(attribute.Bool("task.found", idx >= 0))
	if idx < 0 {
		return false, nil
	}

	r.tasks = slices.Delete(r.tasks, idx, idx+1)
	return true, r.save(ctx)
}

// mutate applies fn to the task with the given ID and persists the list.
// Nothing is written when the ID is unknown.
func (r *TaskRepository) mutate(ctx context.Context, spanName, id string, fn func(*model.Task)) (bool, error) {
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	task := r.find(id)
	span.SetAttributes(attribute.Bool("task.found", task != nil))
	if task == nil {
		return false, nil
	}

	fn(task)
	return true, r.save(ctx)
}

// save writes the whole list under the storage key. Must be called with mu
// held. On failure the in-memory change is kept and the stored snapshot is
// stale until the next successful save.
func (r *TaskRepository) save(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "TaskRepository.save")
	defer span.End()

	raw, err := encodeSnapshot(r.tasks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot encode failed")
		return err
	}
	if err := r.store.Set(ctx, r.key, raw); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot write failed")
		return fmt.Errorf("failed to write task snapshot: %w", err)
	}
	span.SetAttributes(attribute.Int("snapshot.bytes", len(raw)))
	return nil
}

func (r *TaskRepository) find(id string) *model.Task {
	if idx := r.indexOf(id); idx >= 0 {
		return r.tasks[idx]
	}
	return nil
}

func (r *TaskRepository) indexOf(id string) int {
	for i, t := range r.tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
