package domain

import "time"

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Cancellable reports whether a cancel request is accepted in this state.
func (s TaskStatus) Cancellable() bool {
	return s == TaskPending || s == TaskProcessing
}

const (
	MinTaskDuration = 1
	MaxTaskDuration = 60
)

type Task struct {
	ID          string
	Name        string
	Description string
	Status      TaskStatus
	Progress    int
	OwnerID     string
	CreatedBy   string
	Duration    int // seconds
	Error       string
	CreatedAt   time.Time
	CompletedAt *time.Time
}
