package model

import (
	"strings"
	"time"
)

// Task represents a todo item in the system.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	IsCompleted bool       `json:"isCompleted"`
	Priority    Priority   `json:"priority"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt"`
	DueDate     *time.Time `json:"dueDate"`
}

// Clone returns a deep copy of the task so callers never share the
// optional timestamps with the repository's list.
func (t Task) Clone() Task {
	c := t
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	if t.DueDate != nil {
		v := *t.DueDate
		c.DueDate = &v
	}
	return c
}

// IsOverdue reports whether the task is incomplete and its due date falls on
// a calendar day strictly before the day of now. Time of day is ignored, and
// each date is read in its own location.
func (t Task) IsOverdue(now time.Time) bool {
	if t.IsCompleted || t.DueDate == nil {
		return false
	}
	return calendarDay(*t.DueDate).Before(calendarDay(now))
}

// calendarDay drops the time and zone of ts, keeping only its wall date.
func calendarDay(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// TaskStats summarizes the list.
type TaskStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
	Overdue   int `json:"overdue"`
}

// CreateTaskRequest represents the request body for creating a task.
type CreateTaskRequest struct {
	Title    string     `json:"title"`
	Priority Priority   `json:"priority,omitempty"`
	DueDate  *time.Time `json:"dueDate,omitempty"`
}

// Validate checks if the CreateTaskRequest is valid.
func (r *CreateTaskRequest) Validate() error {
	return ValidateTitle(r.Title)
}

// UpdateTitleRequest represents the request body for renaming a task.
type UpdateTitleRequest struct {
	Title string `json:"title"`
}

// Validate checks if the UpdateTitleRequest is valid.
func (r *UpdateTitleRequest) Validate() error {
	return ValidateTitle(r.Title)
}

// UpdatePriorityRequest represents the request body for changing priority.
type UpdatePriorityRequest struct {
	Priority Priority `json:"priority"`
}

// Validate checks if the UpdatePriorityRequest is valid.
func (r *UpdatePriorityRequest) Validate() error {
	if !r.Priority.Valid() {
		return ErrInvalidPriority
	}
	return nil
}

// UpdateDueDateRequest represents the request body for setting or clearing
// the due date. A null dueDate clears it.
type UpdateDueDateRequest struct {
	DueDate *time.Time `json:"dueDate"`
}

// ValidateTitle rejects titles that are empty once surrounding whitespace is
// removed.
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return ErrTitleRequired
	}
	return nil
}

// TaskError represents a domain error for tasks.
type TaskError struct {
	Message string
}

func (e TaskError) Error() string {
	return e.Message
}

var (
	ErrTaskNotFound    = TaskError{Message: "task not found"}
	ErrTitleRequired   = TaskError{Message: "title is required"}
	ErrInvalidPriority = TaskError{Message: "priority must be one of Low, Medium, High"}
	ErrInvalidStatus   = TaskError{Message: "status must be one of all, active, completed"}
)
