package store

import (
	"context"
	"errors"

	"github.com/joescharf/prreview/internal/models"
)

var (
	// ErrNotFound is returned when no task exists for the requested id.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTransition is returned when a status update would move a task backward
	// or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// TaskListFilter specifies filters for listing tasks.
type TaskListFilter struct {
	Status   models.TaskStatus
	IDPrefix string // matches ids starting with this text, compared upper-cased
	Limit    int
}

// TaskUpdate describes a status transition and the data that accompanies it.
// Error is stored only for failed, Result only for completed and OwnerPID only
// for processing.
type TaskUpdate struct {
	Status   models.TaskStatus
	Error    string
	Result   *models.ReviewResult
	OwnerPID int
}

// Store defines the persistence interface for review tasks.
type Store interface {
	CreateTask(ctx context.Context, task *models.ReviewTask) error
	GetTask(ctx context.Context, id string) (*models.ReviewTask, error)
	ListTasks(ctx context.Context, filter TaskListFilter) ([]*models.ReviewTask, error)
	UpdateTask(ctx context.Context, id string, update TaskUpdate) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
