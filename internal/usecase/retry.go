package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
)

// outcomeScanWindow bounds how much of the output text is scanned for
// rejection/partial phrases. Later text is ignored: agents front-load
// refusals, and long outputs would otherwise dominate classification.
const outcomeScanWindow = 500

// phraseRule matches a lower-cased phrase within the scan window and
// yields an outcome. Rules are evaluated in a fixed, documented order:
// explicit error signal first, then rejection phrases, then partial
// phrases; anything else is success.
type phraseRule struct {
	phrase  string
	outcome domain.Outcome
}

// rejectionRules detect first-person refusal or incapacity phrasing.
// Retrying these is pointless; the engine reroutes instead.
var rejectionRules = []phraseRule{
	{"i cannot", domain.OutcomeRejected},
	{"i can't", domain.OutcomeRejected},
	{"i am unable", domain.OutcomeRejected},
	{"i'm unable", domain.OutcomeRejected},
	{"i am not able", domain.OutcomeRejected},
	{"i won't be able", domain.OutcomeRejected},
	{"i refuse", domain.OutcomeRejected},
	{"not something i can", domain.OutcomeRejected},
	{"outside my capabilities", domain.OutcomeRejected},
	{"beyond my capabilities", domain.OutcomeRejected},
}

// partialRules detect partial-completion phrasing.
var partialRules = []phraseRule{
	{"partially completed", domain.OutcomePartial},
	{"partially complete", domain.OutcomePartial},
	{"partial completion", domain.OutcomePartial},
	{"could not complete", domain.OutcomePartial},
	{"could not finish", domain.OutcomePartial},
	{"ran out of", domain.OutcomePartial},
	{"remaining work", domain.OutcomePartial},
	{"left incomplete", domain.OutcomePartial},
	{"incomplete:", domain.OutcomePartial},
}

// RetryEngine classifies completed attempts and decides retry versus
// terminate versus reroute. Every decision appends an AttemptRecord.
type RetryEngine struct {
	cfg      config.RetryConfig
	attempts domain.AttemptStore
	gate     *DispatchGate // optional; records outcomes per agent
	logger   *slog.Logger
}

// NewRetryEngine creates a retry engine. gate may be nil.
func NewRetryEngine(cfg config.RetryConfig, attempts domain.AttemptStore, gate *DispatchGate, logger *slog.Logger) *RetryEngine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelayMs <= 0 {
		cfg.BaseDelayMs = 1000
	}
	if cfg.MaxDelayMs <= 0 {
		cfg.MaxDelayMs = 30000
	}
	return &RetryEngine{cfg: cfg, attempts: attempts, gate: gate, logger: logger}
}

// ClassifyOutcome applies the ordered rule list to a completion report.
// The literal string "null" and the empty string in the error field are
// absence of error, not failure — upstream serializers emit "null" for
// nullable fields. (Almost certainly an upstream artifact, preserved
// for compatibility.)
func ClassifyOutcome(report domain.CompletionReport) domain.Outcome {
	if hasErrorSignal(report.Error) {
		return domain.OutcomeFailure
	}

	window := strings.ToLower(report.Output)
	if len(window) > outcomeScanWindow {
		window = window[:outcomeScanWindow]
	}
	for _, rule := range rejectionRules {
		if strings.Contains(window, rule.phrase) {
			return rule.outcome
		}
	}
	for _, rule := range partialRules {
		if strings.Contains(window, rule.phrase) {
			return rule.outcome
		}
	}
	return domain.OutcomeSuccess
}

func hasErrorSignal(errField string) bool {
	trimmed := strings.TrimSpace(errField)
	return trimmed != "" && trimmed != "null"
}

// Decide classifies the report, appends the attempt record, and
// computes the retry decision. The record is appended regardless of
// outcome, preserving full history for audit and future calibration.
func (e *RetryEngine) Decide(ctx context.Context, report domain.CompletionReport, startedAt time.Time) (domain.RetryDecision, error) {
	outcome := ClassifyOutcome(report)

	prior, err := e.attempts.Attempts(ctx, report.AgentID, report.TaskID)
	if err != nil {
		// Missing history degrades to a first attempt, never a fault.
		e.logger.Warn("attempt history unavailable, assuming first attempt",
			"agent_id", report.AgentID, "task_id", report.TaskID, "error", err)
		prior = nil
	}
	attemptNumber := len(prior) + 1

	rec := domain.AttemptRecord{
		AgentID:       report.AgentID,
		TaskID:        report.TaskID,
		AttemptNumber: attemptNumber,
		StartedAt:     startedAt,
		CompletedAt:   time.Now(),
		Outcome:       outcome,
		ErrorSummary:  summarizeError(report),
	}
	if err := e.attempts.AppendAttempt(ctx, rec); err != nil {
		e.logger.Warn("failed to append attempt record", "error", err)
	}

	if e.gate != nil {
		e.gate.Report(report.AgentID, outcome)
	}

	return e.decide(report.AgentID, outcome, attemptNumber), nil
}

// decide is the pure decision core: retryCount is the number of
// attempts already made (the current one included).
func (e *RetryEngine) decide(agentID string, outcome domain.Outcome, retryCount int) domain.RetryDecision {
	d := domain.RetryDecision{
		RetryCount: retryCount,
		MaxRetries: e.cfg.MaxRetries,
		Outcome:    outcome,
	}

	switch outcome {
	case domain.OutcomeSuccess:
		d.Reason = "completed successfully"
		return d
	case domain.OutcomeRejected:
		// A capability refusal will not succeed on retry.
		d.Reason = "agent rejected the task"
		d.AlternativeAgentID = e.cfg.Alternatives[agentID]
		return d
	}

	if retryCount >= e.cfg.MaxRetries {
		d.Reason = fmt.Sprintf("retry budget exhausted (%d/%d)", retryCount, e.cfg.MaxRetries)
		return d
	}

	d.ShouldRetry = true
	d.DelayMs = e.backoffDelay(retryCount)
	d.Reason = fmt.Sprintf("%s outcome, attempt %d of %d", outcome, retryCount, e.cfg.MaxRetries)
	return d
}

// backoffDelay doubles per retry and is capped at MaxDelayMs.
func (e *RetryEngine) backoffDelay(retryCount int) int {
	delay := e.cfg.BaseDelayMs
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= e.cfg.MaxDelayMs {
			return e.cfg.MaxDelayMs
		}
	}
	if delay > e.cfg.MaxDelayMs {
		return e.cfg.MaxDelayMs
	}
	return delay
}

func summarizeError(report domain.CompletionReport) string {
	if !hasErrorSignal(report.Error) {
		return ""
	}
	summary := strings.TrimSpace(report.Error)
	if len(summary) > 200 {
		summary = summary[:200]
	}
	return summary
}
