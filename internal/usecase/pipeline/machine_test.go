package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
)

type memExecStore struct {
	execs map[string]domain.PipelineExecution
}

func newMemExecStore() *memExecStore {
	return &memExecStore{execs: make(map[string]domain.PipelineExecution)}
}

func (s *memExecStore) GetExecution(_ context.Context, sessionID string) (*domain.PipelineExecution, error) {
	e, ok := s.execs[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (s *memExecStore) SaveExecution(_ context.Context, exec domain.PipelineExecution) error {
	s.execs[exec.SessionID] = exec
	return nil
}

type memTaskTracker struct {
	tasks map[string]domain.Task
}

func newMemTaskTracker() *memTaskTracker {
	return &memTaskTracker{tasks: make(map[string]domain.Task)}
}

func (t *memTaskTracker) CreateTask(_ context.Context, task domain.Task) error {
	if _, ok := t.tasks[task.ID]; ok {
		return domain.ErrDuplicate
	}
	t.tasks[task.ID] = task
	return nil
}

func (t *memTaskTracker) UpdateStatus(_ context.Context, taskID, status string) error {
	task, ok := t.tasks[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	task.Status = status
	t.tasks[taskID] = task
	return nil
}

func (t *memTaskTracker) TasksByAgent(_ context.Context, agentID string) ([]domain.Task, error) {
	var out []domain.Task
	for _, task := range t.tasks {
		if task.AgentID == agentID {
			out = append(out, task)
		}
	}
	return out, nil
}

func (t *memTaskTracker) TasksBlockedBy(_ context.Context, taskID string) ([]domain.Task, error) {
	var out []domain.Task
	for _, task := range t.tasks {
		for _, b := range task.BlockedBy {
			if b == taskID {
				out = append(out, task)
				break
			}
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const featureDef = `type: feature-development
description: Design, build, review
trigger_phrases:
  - implement the feature
  - build a new feature
steps:
  - agent_id: architect
  - agent_id: backend-dev
    depends_on: [0]
  - agent_id: code-reviewer
    depends_on: [0, 1]
`

func testMachine(t *testing.T) (*Machine, *memExecStore, *memTaskTracker) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "feature.yaml"), []byte(featureDef), 0o644); err != nil {
		t.Fatal(err)
	}
	loader, err := NewLoader(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := loader.Load(); err != nil {
		t.Fatal(err)
	}
	store := newMemExecStore()
	tracker := newMemTaskTracker()
	m := NewMachine(loader, store, tracker, config.PipelineConfig{
		MinTriggerLength: 20,
		ShortQuestionLen: 80,
	}, testLogger())
	return m, store, tracker
}

func TestMatchTriggerPhrase(t *testing.T) {
	m, _, _ := testMachine(t)

	def := m.Match("Please implement the feature described in ticket PROJ-42")
	if def == nil {
		t.Fatal("expected a match")
	}
	if def.Type != "feature-development" {
		t.Errorf("matched %q, want feature-development", def.Type)
	}
}

func TestMatchCaseInsensitive(t *testing.T) {
	m, _, _ := testMachine(t)
	if m.Match("IMPLEMENT THE FEATURE for the billing page now") == nil {
		t.Error("trigger matching should be case-insensitive")
	}
}

func TestMatchFilters(t *testing.T) {
	m, _, _ := testMachine(t)

	tests := []struct {
		name string
		text string
	}{
		{"too short", "build a feature"},
		{"short question mark", "implement the feature now, maybe?"},
		{"interrogative opener", "should we implement the feature this sprint"},
		{"interrogative how", "how would you implement the feature here"},
		{"no trigger phrase", "refactor the payment handler and add tests"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if def := m.Match(tc.text); def != nil {
				t.Errorf("Match(%q) = %q, want no match", tc.text, def.Type)
			}
		})
	}
}

func TestMatchLongQuestionStillBlocked(t *testing.T) {
	m, _, _ := testMachine(t)
	// Interrogative opener blocks regardless of length.
	text := "could you implement the feature with the new schema and also migrate the existing rows over"
	if m.Match(text) != nil {
		t.Error("interrogative opener should block matching even for long requests")
	}
}

func TestStartCreatesFirstStepTask(t *testing.T) {
	m, store, tracker := testMachine(t)
	def := m.Match("implement the feature for session handling")
	if def == nil {
		t.Fatal("no match")
	}

	exec, err := m.Start(context.Background(), "s1", def)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if exec.Status != domain.PipelineRunning {
		t.Errorf("status = %q, want running", exec.Status)
	}
	if exec.CurrentStep != 0 {
		t.Errorf("current step = %d, want 0", exec.CurrentStep)
	}

	taskID, ok := exec.StepTaskIDs[0]
	if !ok {
		t.Fatal("step 0 task not instantiated")
	}
	task, ok := tracker.tasks[taskID]
	if !ok {
		t.Fatal("step 0 task not in tracker")
	}
	if task.AgentID != "architect" || len(task.BlockedBy) != 0 {
		t.Errorf("task = %+v, want architect with no blockers", task)
	}

	if _, err := store.GetExecution(context.Background(), "s1"); err != nil {
		t.Errorf("execution not persisted: %v", err)
	}
}

func TestCompleteStepWalksChainToCompletion(t *testing.T) {
	m, _, tracker := testMachine(t)
	def := m.Match("implement the feature for session handling")
	exec, err := m.Start(context.Background(), "s1", def)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx := context.Background()

	next, err := m.CompleteStep(ctx, exec, 0)
	if err != nil {
		t.Fatalf("CompleteStep(0): %v", err)
	}
	if next != 1 {
		t.Fatalf("next after 0 = %d, want 1", next)
	}
	step1Task := tracker.tasks[exec.StepTaskIDs[1]]
	if step1Task.AgentID != "backend-dev" {
		t.Errorf("step 1 agent = %q, want backend-dev", step1Task.AgentID)
	}
	if len(step1Task.BlockedBy) != 1 || step1Task.BlockedBy[0] != exec.StepTaskIDs[0] {
		t.Errorf("step 1 blockedBy = %v, want [step 0 task id]", step1Task.BlockedBy)
	}

	next, err = m.CompleteStep(ctx, exec, 1)
	if err != nil {
		t.Fatalf("CompleteStep(1): %v", err)
	}
	if next != 2 {
		t.Fatalf("next after 1 = %d, want 2", next)
	}

	next, err = m.CompleteStep(ctx, exec, 2)
	if err != nil {
		t.Fatalf("CompleteStep(2): %v", err)
	}
	if next != -1 {
		t.Errorf("next after final step = %d, want -1", next)
	}
	if exec.Status != domain.PipelineCompleted {
		t.Errorf("status = %q, want completed", exec.Status)
	}
}

func TestCompleteStepNeverReturnsBlockedStep(t *testing.T) {
	m, _, _ := testMachine(t)
	def := m.Match("implement the feature for session handling")
	exec, err := m.Start(context.Background(), "s1", def)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	next, err := m.CompleteStep(context.Background(), exec, 0)
	if err != nil {
		t.Fatalf("CompleteStep: %v", err)
	}
	// Step 2 depends on step 1, which is not done. Only step 1 is legal.
	if next != 1 {
		t.Errorf("next = %d, want 1 (step 2 is dependency-blocked)", next)
	}
}

func TestCompleteStepOnTerminalExecution(t *testing.T) {
	m, _, _ := testMachine(t)
	def := m.Match("implement the feature for session handling")
	exec, err := m.Start(context.Background(), "s1", def)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Abort(context.Background(), exec); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	if _, err := m.CompleteStep(context.Background(), exec, 0); !errors.Is(err, domain.ErrTerminalState) {
		t.Errorf("CompleteStep on aborted execution: err = %v, want ErrTerminalState", err)
	}
	if err := m.Abort(context.Background(), exec); !errors.Is(err, domain.ErrTerminalState) {
		t.Errorf("double Abort: err = %v, want ErrTerminalState", err)
	}
}

func TestNextStepSubsetInvariant(t *testing.T) {
	def := &domain.PipelineDefinition{
		Type: "t",
		Steps: []domain.PipelineStep{
			{AgentID: "a"},
			{AgentID: "b", DependsOn: []int{0}},
			{AgentID: "c", DependsOn: []int{0, 1}},
		},
	}

	subsets := [][]int{nil, {0}, {0, 1}, {0, 1, 2}, {1}, {2}, {1, 2}}
	for _, completed := range subsets {
		next := NextStep(def, completed)
		if next < 0 {
			continue
		}
		done := make(map[int]bool)
		for _, c := range completed {
			done[c] = true
		}
		for _, dep := range def.Steps[next].DependsOn {
			if !done[dep] {
				t.Errorf("completed %v: NextStep returned %d with unmet dependency %d", completed, next, dep)
			}
		}
		if done[next] {
			t.Errorf("completed %v: NextStep returned already-completed step %d", completed, next)
		}
	}

	if next := NextStep(def, []int{0, 1, 2}); next != -1 {
		t.Errorf("all steps completed: NextStep = %d, want -1", next)
	}
}

func TestMatchStableAcrossOverlappingTriggers(t *testing.T) {
	dir := t.TempDir()
	for typ, file := range map[string]string{"release": "release.yaml", "deploy": "deploy.yaml"} {
		def := "type: " + typ + "\ntrigger_phrases: [\"ship it to production\"]\nsteps:\n  - agent_id: backend-dev\n"
		if err := os.WriteFile(filepath.Join(dir, file), []byte(def), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	loader, err := NewLoader(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := loader.Load(); err != nil {
		t.Fatal(err)
	}
	m := NewMachine(loader, newMemExecStore(), newMemTaskTracker(), config.PipelineConfig{
		MinTriggerLength: 20,
		ShortQuestionLen: 80,
	}, testLogger())

	// Both definitions match; the type-sorted scan must pick the same
	// one on every call.
	for i := 0; i < 20; i++ {
		def := m.Match("Please ship it to production when the build is green")
		if def == nil {
			t.Fatal("expected a match")
		}
		if def.Type != "deploy" {
			t.Fatalf("matched %q, want deploy on every run", def.Type)
		}
	}
}
