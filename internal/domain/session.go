package domain

import (
	"context"
	"time"
)

// MaxPromptHistory bounds the per-session prompt history.
const MaxPromptHistory = 20

// AgentActivation tracks one active agent within a session.
type AgentActivation struct {
	Status     string `json:"status"` // "dispatched", "running", "completed", "failed"
	RetryCount int    `json:"retry_count"`
	TaskID     string `json:"task_id"`
}

// SessionState is the single unit of mutable state for one logical
// session timeline. Concurrent lifecycle hooks coordinate only through
// this record; writes are full-state rewrites, last-write-wins.
type SessionState struct {
	SessionID          string                     `json:"session_id"`
	ActiveAgents       map[string]AgentActivation `json:"active_agents,omitempty"`
	InjectedSkillIDs   []string                   `json:"injected_skill_ids,omitempty"`
	PromptHistory      []PromptRecord             `json:"prompt_history,omitempty"` // most-recent-first
	LastClassification *ClassificationResult      `json:"last_classification,omitempty"`
	ActivePipelineID   string                     `json:"active_pipeline_id,omitempty"`
	AccessStats        map[string]AccessStats     `json:"access_stats,omitempty"` // entry id -> stats
	UpdatedAt          time.Time                  `json:"updated_at"`
}

// PromptRecord is one remembered request.
type PromptRecord struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSessionState creates an empty session record.
func NewSessionState(sessionID string) *SessionState {
	return &SessionState{
		SessionID:    sessionID,
		ActiveAgents: make(map[string]AgentActivation),
		AccessStats:  make(map[string]AccessStats),
	}
}

// RecordPrompt prepends text to the bounded prompt history.
func (s *SessionState) RecordPrompt(text string, at time.Time) {
	s.PromptHistory = append([]PromptRecord{{Text: text, Timestamp: at}}, s.PromptHistory...)
	if len(s.PromptHistory) > MaxPromptHistory {
		s.PromptHistory = s.PromptHistory[:MaxPromptHistory]
	}
}

// Touch updates access stats for an entry id.
func (s *SessionState) Touch(entryID string, at time.Time) {
	if s.AccessStats == nil {
		s.AccessStats = make(map[string]AccessStats)
	}
	stats := s.AccessStats[entryID]
	stats.LastAccess = at
	stats.AccessCount++
	s.AccessStats[entryID] = stats
}

// HasInjectedSkill reports whether a skill was already injected this session.
func (s *SessionState) HasInjectedSkill(skillID string) bool {
	for _, id := range s.InjectedSkillIDs {
		if id == skillID {
			return true
		}
	}
	return false
}

// SessionStore persists session state, scoped by session id.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*SessionState, error)
	SaveSession(ctx context.Context, state SessionState) error
}
