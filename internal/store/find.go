package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/joescharf/prreview/internal/models"
)

// FindTask resolves a task by full id or by a unique id prefix.
func FindTask(ctx context.Context, s Store, id string) (*models.ReviewTask, error) {
	task, err := s.GetTask(ctx, id)
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, ErrNotFound) || id == "" {
		return nil, err
	}

	matches, err := s.ListTasks(ctx, TaskListFilter{IDPrefix: id, Limit: 2})
	if err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous task ID %s: matches more than one task", id)
	}
}
