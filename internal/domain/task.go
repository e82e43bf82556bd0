package domain

import (
	"context"
	"time"
)

// Task statuses.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// Task is a unit of work assigned to an agent, tracked externally to
// the decision engine. BlockedBy expresses declarative dependencies
// resolved when completion events arrive.
type Task struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	SessionID string    `json:"session_id"`
	Subject   string    `json:"subject,omitempty"`
	Status    string    `json:"status"`
	BlockedBy []string  `json:"blocked_by,omitempty"` // task ids
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskTracker is the opaque task-tracking interface of the host.
type TaskTracker interface {
	CreateTask(ctx context.Context, task Task) error
	UpdateStatus(ctx context.Context, taskID, status string) error
	TasksByAgent(ctx context.Context, agentID string) ([]Task, error)
	// TasksBlockedBy returns tasks whose BlockedBy set contains taskID.
	TasksBlockedBy(ctx context.Context, taskID string) ([]Task, error)
}
