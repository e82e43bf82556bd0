package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
)

type memAttemptStore struct {
	records []domain.AttemptRecord
	failGet bool
}

func (s *memAttemptStore) AppendAttempt(_ context.Context, rec domain.AttemptRecord) error {
	s.records = append(s.records, rec)
	return nil
}

func (s *memAttemptStore) Attempts(_ context.Context, agentID, taskID string) ([]domain.AttemptRecord, error) {
	if s.failGet {
		return nil, domain.ErrNotFound
	}
	var out []domain.AttemptRecord
	for _, r := range s.records {
		if r.AgentID == agentID && r.TaskID == taskID {
			out = append(out, r)
		}
	}
	return out, nil
}

func testRetryEngine(store domain.AttemptStore) *RetryEngine {
	cfg := config.RetryConfig{
		MaxRetries:  3,
		BaseDelayMs: 1000,
		MaxDelayMs:  30000,
		Alternatives: map[string]string{
			"backend-dev": "fullstack-dev",
		},
	}
	return NewRetryEngine(cfg, store, nil, discardLogger())
}

func TestClassifyOutcomeErrorField(t *testing.T) {
	tests := []struct {
		name   string
		report domain.CompletionReport
		want   domain.Outcome
	}{
		{"explicit error", domain.CompletionReport{Error: "connection refused"}, domain.OutcomeFailure},
		{"error overrides clean output", domain.CompletionReport{Output: "all done", Error: "timeout"}, domain.OutcomeFailure},
		{"empty error is absence", domain.CompletionReport{Output: "done", Error: ""}, domain.OutcomeSuccess},
		{"literal null is absence", domain.CompletionReport{Output: "done", Error: "null"}, domain.OutcomeSuccess},
		{"whitespace null is absence", domain.CompletionReport{Output: "done", Error: "  null  "}, domain.OutcomeSuccess},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyOutcome(tc.report); got != tc.want {
				t.Errorf("ClassifyOutcome() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClassifyOutcomePhrases(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   domain.Outcome
	}{
		{"refusal", "I cannot modify production infrastructure from here.", domain.OutcomeRejected},
		{"refusal case insensitive", "Sorry, I'M UNABLE to access that repository.", domain.OutcomeRejected},
		{"capability", "That task is outside my capabilities.", domain.OutcomeRejected},
		{"partial", "Tests pass but the migration could not complete in time.", domain.OutcomePartial},
		{"partial remaining", "Done with phase one, remaining work is listed below.", domain.OutcomePartial},
		{"rejection wins over partial", "I cannot do this; the remaining work is large.", domain.OutcomeRejected},
		{"clean output", "Refactored the handler and added tests.", domain.OutcomeSuccess},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyOutcome(domain.CompletionReport{Output: tc.output, Error: "null"})
			if got != tc.want {
				t.Errorf("ClassifyOutcome(%q) = %q, want %q", tc.output, got, tc.want)
			}
		})
	}
}

func TestClassifyOutcomeScanWindow(t *testing.T) {
	// A refusal phrase past the scan window must not flip the outcome.
	output := strings.Repeat("progress line\n", 60) + "i cannot continue"
	got := ClassifyOutcome(domain.CompletionReport{Output: output})
	if got != domain.OutcomeSuccess {
		t.Errorf("phrase beyond scan window classified as %q, want success", got)
	}
}

func TestDecideSuccessNoRetry(t *testing.T) {
	store := &memAttemptStore{}
	eng := testRetryEngine(store)

	d, err := eng.Decide(context.Background(), domain.CompletionReport{
		AgentID: "backend-dev", TaskID: "t1", Output: "done", Error: "null",
	}, time.Now())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.ShouldRetry {
		t.Error("success must not retry")
	}
	if d.Outcome != domain.OutcomeSuccess {
		t.Errorf("outcome = %q, want success", d.Outcome)
	}
	if len(store.records) != 1 {
		t.Fatalf("attempt records = %d, want 1", len(store.records))
	}
	if store.records[0].AttemptNumber != 1 {
		t.Errorf("attempt number = %d, want 1", store.records[0].AttemptNumber)
	}
	if store.records[0].ErrorSummary != "" {
		t.Errorf("error summary = %q, want empty", store.records[0].ErrorSummary)
	}
}

func TestDecideFailureRetriesWithBackoff(t *testing.T) {
	store := &memAttemptStore{}
	eng := testRetryEngine(store)
	ctx := context.Background()
	report := domain.CompletionReport{AgentID: "backend-dev", TaskID: "t1", Error: "connection refused"}

	wantDelays := []int{1000, 2000}
	for i, want := range wantDelays {
		d, err := eng.Decide(ctx, report, time.Now())
		if err != nil {
			t.Fatalf("Decide #%d: %v", i+1, err)
		}
		if !d.ShouldRetry {
			t.Fatalf("attempt %d: ShouldRetry = false, want true", i+1)
		}
		if d.DelayMs != want {
			t.Errorf("attempt %d: delay = %d, want %d", i+1, d.DelayMs, want)
		}
		if d.RetryCount != i+1 {
			t.Errorf("attempt %d: retry count = %d, want %d", i+1, d.RetryCount, i+1)
		}
	}

	// Third failure exhausts the budget of three.
	d, err := eng.Decide(ctx, report, time.Now())
	if err != nil {
		t.Fatalf("Decide #3: %v", err)
	}
	if d.ShouldRetry {
		t.Error("exhausted budget must not retry")
	}
	if d.RetryCount != 3 || d.MaxRetries != 3 {
		t.Errorf("counts = %d/%d, want 3/3", d.RetryCount, d.MaxRetries)
	}
	if len(store.records) != 3 {
		t.Errorf("attempt records = %d, want 3", len(store.records))
	}
}

func TestDecideRejectionReroutes(t *testing.T) {
	store := &memAttemptStore{}
	eng := testRetryEngine(store)

	d, err := eng.Decide(context.Background(), domain.CompletionReport{
		AgentID: "backend-dev", TaskID: "t1",
		Output: "I cannot work on infrastructure changes.", Error: "null",
	}, time.Now())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.ShouldRetry {
		t.Error("rejection must not retry, even on the first attempt")
	}
	if d.Outcome != domain.OutcomeRejected {
		t.Errorf("outcome = %q, want rejected", d.Outcome)
	}
	if d.AlternativeAgentID != "fullstack-dev" {
		t.Errorf("alternative = %q, want fullstack-dev", d.AlternativeAgentID)
	}
}

func TestDecideRejectionWithoutAlternative(t *testing.T) {
	store := &memAttemptStore{}
	eng := testRetryEngine(store)

	d, err := eng.Decide(context.Background(), domain.CompletionReport{
		AgentID: "security-auditor", TaskID: "t9",
		Output: "I refuse to disable the audit log.", Error: "",
	}, time.Now())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.ShouldRetry || d.AlternativeAgentID != "" {
		t.Errorf("unmapped rejection: retry=%v alt=%q, want false and empty",
			d.ShouldRetry, d.AlternativeAgentID)
	}
}

func TestDecidePartialRetries(t *testing.T) {
	store := &memAttemptStore{}
	eng := testRetryEngine(store)

	d, err := eng.Decide(context.Background(), domain.CompletionReport{
		AgentID: "backend-dev", TaskID: "t2",
		Output: "Migration partially completed, two tables remain.", Error: "null",
	}, time.Now())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !d.ShouldRetry {
		t.Error("partial outcome under budget must retry")
	}
	if d.Outcome != domain.OutcomePartial {
		t.Errorf("outcome = %q, want partial", d.Outcome)
	}
}

func TestDecideUnavailableHistoryIsFirstAttempt(t *testing.T) {
	store := &memAttemptStore{failGet: true}
	eng := testRetryEngine(store)

	d, err := eng.Decide(context.Background(), domain.CompletionReport{
		AgentID: "backend-dev", TaskID: "t3", Error: "timeout",
	}, time.Now())
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1 when history is unavailable", d.RetryCount)
	}
	if !d.ShouldRetry {
		t.Error("first failure must retry")
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	eng := NewRetryEngine(config.RetryConfig{
		MaxRetries: 10, BaseDelayMs: 1000, MaxDelayMs: 5000,
	}, &memAttemptStore{}, nil, discardLogger())

	wantDelays := map[int]int{1: 1000, 2: 2000, 3: 4000, 4: 5000, 5: 5000, 9: 5000}
	for count, want := range wantDelays {
		if got := eng.backoffDelay(count); got != want {
			t.Errorf("backoffDelay(%d) = %d, want %d", count, got, want)
		}
	}
}

func TestSummarizeErrorTruncates(t *testing.T) {
	long := strings.Repeat("x", 400)
	got := summarizeError(domain.CompletionReport{Error: long})
	if len(got) != 200 {
		t.Errorf("summary length = %d, want 200", len(got))
	}
}
