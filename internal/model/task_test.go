package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_IsOverdue(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)
	at := func(d time.Time) *time.Time { return &d }

	tests := []struct {
		name string
		task Task
		want bool
	}{
		{"no due date", Task{}, false},
		{"due yesterday", Task{DueDate: at(now.AddDate(0, 0, -1))}, true},
		{"due earlier today", Task{DueDate: at(now.Add(-9 * time.Hour))}, false},
		{"due tomorrow", Task{DueDate: at(now.AddDate(0, 0, 1))}, false},
		{"late last night", Task{DueDate: at(time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC))}, true},
		{"completed and late", Task{IsCompleted: true, DueDate: at(now.AddDate(0, 0, -3))}, false},
		{"due today in another zone", Task{DueDate: at(time.Date(2026, 3, 15, 0, 30, 0, 0, time.FixedZone("UTC+14", 14*60*60)))}, false},
		{"due yesterday in another zone", Task{DueDate: at(time.Date(2026, 3, 14, 23, 0, 0, 0, time.FixedZone("UTC-10", -10*60*60)))}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.task.IsOverdue(now))
		})
	}
}

func TestTask_Clone(t *testing.T) {
	due := time.Now()
	orig := Task{ID: "a", DueDate: &due, CompletedAt: &due}

	c := orig.Clone()
	*c.DueDate = due.Add(time.Hour)
	*c.CompletedAt = due.Add(time.Hour)

	assert.True(t, orig.DueDate.Equal(due), "DueDate shared with clone")
	assert.True(t, orig.CompletedAt.Equal(due), "CompletedAt shared with clone")
}

func TestValidateTitle(t *testing.T) {
	for _, title := range []string{"", "   ", "\t\n"} {
		assert.ErrorIs(t, ValidateTitle(title), ErrTitleRequired, "title %q", title)
	}
	assert.NoError(t, ValidateTitle("Buy milk"))
}

func TestParseStatusFilter(t *testing.T) {
	tests := []struct {
		in      string
		want    StatusFilter
		wantErr bool
	}{
		{"", StatusAll, false},
		{"all", StatusAll, false},
		{"Active", StatusActive, false},
		{"completed", StatusCompleted, false},
		{"done", "", true},
	}

	for _, tt := range tests {
		got, err := ParseStatusFilter(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidStatus, "input %q", tt.in)
		} else {
			require.NoError(t, err, "input %q", tt.in)
		}
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}

	done := Task{IsCompleted: true}
	open := Task{}
	assert.True(t, StatusActive.Match(open))
	assert.False(t, StatusActive.Match(done))
	assert.True(t, StatusCompleted.Match(done))
	assert.False(t, StatusCompleted.Match(open))
}
