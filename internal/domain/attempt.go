package domain

import (
	"context"
	"time"
)

// Outcome classifies one completed agent attempt.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeRejected Outcome = "rejected"
	OutcomePartial  Outcome = "partial"
)

// AttemptRecord is one execution try of an agent against a task.
// Immutable once completed; appended to a bounded history.
type AttemptRecord struct {
	AgentID       string    `json:"agent_id"`
	TaskID        string    `json:"task_id"`
	AttemptNumber int       `json:"attempt_number"` // 1-based, monotonic per agent+task
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
	Outcome       Outcome   `json:"outcome"`
	ErrorSummary  string    `json:"error_summary,omitempty"`
}

// RetryDecision is the retry engine's verdict for one completed attempt.
// Computed fresh each time; emitted, never persisted.
type RetryDecision struct {
	ShouldRetry        bool    `json:"should_retry"`
	RetryCount         int     `json:"retry_count"`
	MaxRetries         int     `json:"max_retries"`
	DelayMs            int     `json:"delay_ms"`
	AlternativeAgentID string  `json:"alternative_agent_id,omitempty"`
	Outcome            Outcome `json:"outcome"`
	Reason             string  `json:"reason"`
}

// AttemptStore is the append-only attempt history.
type AttemptStore interface {
	AppendAttempt(ctx context.Context, rec AttemptRecord) error
	// Attempts returns records for agent+task, oldest first.
	Attempts(ctx context.Context, agentID, taskID string) ([]AttemptRecord, error)
}
