package domain

import (
	"context"
	"time"
)

// EventKind distinguishes the two inputs the engine reacts to.
type EventKind string

const (
	EventRequest    EventKind = "request"
	EventCompletion EventKind = "completion"
)

// CompletionReport carries an agent's completion as observed by the host.
// Error holds the host's error field verbatim; the literal string "null"
// and the empty string both mean absence of error (upstream serializers
// emit "null" for nullable fields).
type CompletionReport struct {
	AgentID string `json:"agent_id"`
	TaskID  string `json:"task_id"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}

// Event is the single input type of Engine.Decide.
type Event struct {
	Kind       EventKind         `json:"kind"`
	SessionID  string            `json:"session_id"`
	Text       string            `json:"text,omitempty"` // request events
	Completion *CompletionReport `json:"completion,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// InstructionKind tags the Instruction union.
type InstructionKind string

const (
	InstructionNoop            InstructionKind = "no-op"
	InstructionDispatch        InstructionKind = "dispatch"
	InstructionRecommend       InstructionKind = "recommend"
	InstructionInject          InstructionKind = "inject"
	InstructionAdvancePipeline InstructionKind = "advance-pipeline"
	InstructionRetry           InstructionKind = "retry"
	InstructionReroute         InstructionKind = "reroute"
	InstructionCascadeFail     InstructionKind = "cascade-fail"
)

// Fragment is one budget-fitted content piece for injection.
type Fragment struct {
	SkillID   string `json:"skill_id"`
	Content   string `json:"content"`
	Tokens    int    `json:"tokens"`
	Truncated bool   `json:"truncated"`
	Silent    bool   `json:"silent"` // silent-inject tier: no user-visible notice
}

// Instruction is the tagged union emitted by Engine.Decide. Only the
// fields relevant to Kind are populated.
type Instruction struct {
	Kind InstructionKind `json:"kind"`

	// dispatch / recommend / retry / reroute
	AgentID    string `json:"agent_id,omitempty"`
	Confidence int    `json:"confidence,omitempty"`
	Rationale  string `json:"rationale,omitempty"`

	// inject
	Fragments     []Fragment `json:"fragments,omitempty"`
	BudgetUsed    int        `json:"budget_used,omitempty"`
	SystemMessage string     `json:"system_message,omitempty"` // notify-tier notice

	// advance-pipeline
	NextAgentID string `json:"next_agent_id,omitempty"`
	PipelineID  string `json:"pipeline_id,omitempty"`

	// retry
	DelayMs int `json:"delay_ms,omitempty"`

	// cascade-fail
	TaskIDs []string `json:"task_ids,omitempty"`
}

// Noop returns a no-op instruction with an optional rationale.
func Noop(rationale string) Instruction {
	return Instruction{Kind: InstructionNoop, Rationale: rationale}
}

// Category is the fixed decision-log taxonomy.
type Category string

const (
	CategoryArchitecture Category = "architecture"
	CategoryFrontend     Category = "frontend"
	CategoryBackend      Category = "backend"
	CategoryQuality      Category = "quality"
	CategorySecurity     Category = "security"
	CategoryDebugging    Category = "debugging"
	CategoryGeneral      Category = "general"
)

// RoutingDecision resolves what happens after an agent completes.
type RoutingDecision struct {
	FromAgent       string   `json:"from_agent"`
	ToAgents        []string `json:"to_agents,omitempty"` // empty = terminal
	Category        Category `json:"category"`
	PipelineDone    bool     `json:"pipeline_done,omitempty"`
	CascadeFailures []string `json:"cascade_failures,omitempty"` // dependent task ids marked failed
}

// DecisionRecord is one audit entry for an emitted instruction.
type DecisionRecord struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	Kind       InstructionKind `json:"kind"`
	AgentID    string          `json:"agent_id,omitempty"`
	Category   Category        `json:"category,omitempty"`
	Confidence int             `json:"confidence,omitempty"`
	Rationale  string          `json:"rationale,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// DecisionLog is the append-only audit sink.
type DecisionLog interface {
	AppendDecision(ctx context.Context, rec DecisionRecord) error
	Decisions(ctx context.Context, sessionID string, limit int) ([]DecisionRecord, error)
}
