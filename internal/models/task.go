package models

import "time"

// TaskStatus represents the lifecycle state of a review task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Valid reports whether s is one of the known task statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransition reports whether a task may move from one status to another.
// Re-writing the same terminal status is allowed so terminal writes stay idempotent.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case TaskStatusPending:
		return to == TaskStatusProcessing || to == TaskStatusFailed
	case TaskStatusProcessing:
		return to == TaskStatusCompleted || to == TaskStatusFailed
	case TaskStatusCompleted, TaskStatusFailed:
		return to == from
	}
	return false
}

// ReviewTask is the durable record of one pull request review submission.
type ReviewTask struct {
	ID          string
	RepoURL     string
	PRNumber    int
	Status      TaskStatus
	Error       string        // set only when Status is failed
	Result      *ReviewResult // set only when Status is completed
	OwnerPID    int           // process that started the run, 0 before processing
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}
