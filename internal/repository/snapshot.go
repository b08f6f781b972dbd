package repository

import (
	"encoding/json"
	"fmt"

	"github.com/hiroki-koketsu/go-todo-store/internal/model"
)

func encodeSnapshot(tasks []*model.Task) (string, error) {
	raw, err := json.Marshal(tasks)
	if err != nil {
		return "", fmt.Errorf("failed to encode task snapshot: %w", err)
	}
	return string(raw), nil
}

// decodeSnapshot parses a stored snapshot. Null entries and repeated IDs are
// dropped, and a missing priority reads as Medium. CompletedAt is made to
// agree with IsCompleted: a completed task without one is stamped with its
// CreatedAt, and an open task loses it.
func decodeSnapshot(raw string) ([]*model.Task, error) {
	var decoded []*model.Task
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode task snapshot: %w", err)
	}

	seen := make(map[string]struct{}, len(decoded))
	tasks := make([]*model.Task, 0, len(decoded))
	for _, t := range decoded {
		if t == nil {
			continue
		}
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		t.Priority = t.Priority.OrDefault()
		switch {
		case t.IsCompleted && t.CompletedAt == nil:
			completedAt := t.CreatedAt
			t.CompletedAt = &completedAt
		case !t.IsCompleted:
			t.CompletedAt = nil
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
