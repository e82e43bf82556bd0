package domain

import (
	"context"
	"time"
)

// PipelineStep is one unit of a multi-step workflow. DependsOn holds
// indices of steps that must complete before this one may start.
type PipelineStep struct {
	AgentID         string `json:"agent_id" yaml:"agent_id"`
	DependsOn       []int  `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	EstimatedBudget int    `json:"estimated_budget,omitempty" yaml:"estimated_budget,omitempty"`
}

// PipelineDefinition is a statically configured workflow. Immutable at
// runtime; loaded from YAML and validated once.
type PipelineDefinition struct {
	Type           string         `json:"type" yaml:"type"`
	Description    string         `json:"description,omitempty" yaml:"description,omitempty"`
	TriggerPhrases []string       `json:"trigger_phrases" yaml:"trigger_phrases"`
	Steps          []PipelineStep `json:"steps" yaml:"steps"`
}

// Pipeline execution statuses. running is the only non-terminal state.
const (
	PipelineRunning   = "running"
	PipelineCompleted = "completed"
	PipelineAborted   = "aborted"
)

// PipelineExecution tracks one run of a pipeline definition.
type PipelineExecution struct {
	PipelineID     string         `json:"pipeline_id"`
	Type           string         `json:"type"`
	SessionID      string         `json:"session_id"`
	StepTaskIDs    map[int]string `json:"step_task_ids,omitempty"`
	CurrentStep    int            `json:"current_step"`
	CompletedSteps []int          `json:"completed_steps,omitempty"`
	Status         string         `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Terminal reports whether the execution can no longer advance.
func (e *PipelineExecution) Terminal() bool {
	return e.Status == PipelineCompleted || e.Status == PipelineAborted
}

// StepCompleted reports whether the given step index is done.
func (e *PipelineExecution) StepCompleted(idx int) bool {
	for _, c := range e.CompletedSteps {
		if c == idx {
			return true
		}
	}
	return false
}

// StepForTask returns the step index owning taskID, or -1.
func (e *PipelineExecution) StepForTask(taskID string) int {
	for idx, id := range e.StepTaskIDs {
		if id == taskID {
			return idx
		}
	}
	return -1
}

// StepForAgent returns the first incomplete step index assigned to
// agentID, or -1. Pipelines may use the same agent in several steps;
// the earliest pending one is the active one.
func (e *PipelineExecution) StepForAgent(agentID string, def *PipelineDefinition) int {
	if def == nil {
		return -1
	}
	for idx, step := range def.Steps {
		if step.AgentID == agentID && !e.StepCompleted(idx) {
			return idx
		}
	}
	return -1
}

// ExecutionStore persists pipeline executions, scoped by session id.
type ExecutionStore interface {
	GetExecution(ctx context.Context, sessionID string) (*PipelineExecution, error)
	SaveExecution(ctx context.Context, exec PipelineExecution) error
}
