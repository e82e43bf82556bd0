package domain

// SignalKind identifies one of the independent scoring signals.
type SignalKind string

const (
	SignalKeyword   SignalKind = "keyword"
	SignalRecency   SignalKind = "recency"
	SignalFrequency SignalKind = "frequency"
	SignalRelevance SignalKind = "relevance"
)

// Signal is one named score contribution for a candidate.
type Signal struct {
	Kind        SignalKind `json:"kind"`
	Source      string     `json:"source"`       // e.g. "trigger_terms", "tags", "session_history"
	Weight      int        `json:"weight"`       // raw score in [0,100] before aggregation
	MatchedTerm string     `json:"matched_term"` // term or tag that produced the match, if any
}

// Candidate is one agent or skill under consideration for the current
// request. Ephemeral: recomputed per request, never persisted directly.
type Candidate struct {
	ID             string   `json:"id"`
	Confidence     int      `json:"confidence"` // aggregated score in [0,100]
	MatchedSignals []Signal `json:"matched_signals,omitempty"`
}

// ClassificationResult is the output of one classification pass.
// Read-only downstream of the classifier.
type ClassificationResult struct {
	RankedAgents      []Candidate `json:"ranked_agents"`
	RankedSkills      []Candidate `json:"ranked_skills"`
	DominantIntent    string      `json:"dominant_intent"`
	OverallConfidence int         `json:"overall_confidence"`
	ShouldAutoAct     bool        `json:"should_auto_act"`
}

// TopAgent returns the highest-ranked agent candidate, or nil.
func (r *ClassificationResult) TopAgent() *Candidate {
	if len(r.RankedAgents) == 0 {
		return nil
	}
	return &r.RankedAgents[0]
}

// CalibrationAdjustment biases a future signal score for one target.
// Mutated by the feedback process; read-only for the classifier.
// Delta is kept within [-MaxDelta, MaxDelta] by the calibration manager
// to prevent runaway drift.
type CalibrationAdjustment struct {
	SignalKey   string `json:"signal_key"` // SignalKind the delta applies to
	TargetID    string `json:"target_id"`  // agent or skill id
	Delta       int    `json:"delta"`
	SampleCount int    `json:"sample_count"`
	LastUpdated string `json:"last_updated"` // RFC3339
}

// CalibrationKey identifies one adjustment entry.
func (a CalibrationAdjustment) CalibrationKey() string {
	return a.SignalKey + ":" + a.TargetID
}

// CalibrationStore persists calibration adjustments.
type CalibrationStore interface {
	All() ([]CalibrationAdjustment, error)
	Get(signalKey, targetID string) (*CalibrationAdjustment, error)
	Put(adj CalibrationAdjustment) error
}
