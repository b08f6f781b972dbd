package model

import "strings"

// StatusFilter selects tasks by completion state.
type StatusFilter string

const (
	StatusAll       StatusFilter = "all"
	StatusActive    StatusFilter = "active"
	StatusCompleted StatusFilter = "completed"
)

// ParseStatusFilter parses a filter name. An empty string means all.
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch StatusFilter(strings.ToLower(strings.TrimSpace(s))) {
	case "", StatusAll:
		return StatusAll, nil
	case StatusActive:
		return StatusActive, nil
	case StatusCompleted:
		return StatusCompleted, nil
	}
	return "", ErrInvalidStatus
}

// Match reports whether t passes the filter.
func (f StatusFilter) Match(t Task) bool {
	switch f {
	case StatusActive:
		return !t.IsCompleted
	case StatusCompleted:
		return t.IsCompleted
	}
	return true
}
