package usecase

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
	"conductor/internal/usecase/pipeline"
)

type fakeExecStore struct {
	execs map[string]domain.PipelineExecution
}

func newFakeExecStore() *fakeExecStore {
	return &fakeExecStore{execs: make(map[string]domain.PipelineExecution)}
}

func (s *fakeExecStore) GetExecution(_ context.Context, sessionID string) (*domain.PipelineExecution, error) {
	e, ok := s.execs[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (s *fakeExecStore) SaveExecution(_ context.Context, exec domain.PipelineExecution) error {
	s.execs[exec.SessionID] = exec
	return nil
}

type fakeTaskTracker struct {
	tasks map[string]domain.Task
}

func newFakeTaskTracker() *fakeTaskTracker {
	return &fakeTaskTracker{tasks: make(map[string]domain.Task)}
}

func (t *fakeTaskTracker) CreateTask(_ context.Context, task domain.Task) error {
	t.tasks[task.ID] = task
	return nil
}

func (t *fakeTaskTracker) UpdateStatus(_ context.Context, taskID, status string) error {
	task, ok := t.tasks[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	task.Status = status
	t.tasks[taskID] = task
	return nil
}

func (t *fakeTaskTracker) TasksByAgent(_ context.Context, agentID string) ([]domain.Task, error) {
	var out []domain.Task
	for _, task := range t.tasks {
		if task.AgentID == agentID {
			out = append(out, task)
		}
	}
	return out, nil
}

func (t *fakeTaskTracker) TasksBlockedBy(_ context.Context, taskID string) ([]domain.Task, error) {
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

var routingCfg = config.RoutingConfig{
	Routes: map[string][]string{
		"architect":   {"backend-dev"},
		"backend-dev": {"code-reviewer"},
	},
	Categories: map[string]string{
		"architect":     "architecture",
		"backend-dev":   "backend",
		"code-reviewer": "quality",
		"rogue-agent":   "interpretive-dance",
	},
}

const resolverPipelineDef = `type: release
trigger_phrases: ["prepare the release"]
steps:
  - agent_id: backend-dev
  - agent_id: code-reviewer
    depends_on: [0]
`

func testResolver(t *testing.T) (*Resolver, *pipeline.Machine, *fakeExecStore, *fakeTaskTracker) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "release.yaml"), []byte(resolverPipelineDef), 0o644); err != nil {
		t.Fatal(err)
	}
	loader, err := pipeline.NewLoader(dir, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := loader.Load(); err != nil {
		t.Fatal(err)
	}
	execs := newFakeExecStore()
	tracker := newFakeTaskTracker()
	machine := pipeline.NewMachine(loader, execs, tracker, config.PipelineConfig{}, discardLogger())
	r := NewResolver(routingCfg, machine, execs, tracker, discardLogger())
	return r, machine, execs, tracker
}

func TestCategoryLookup(t *testing.T) {
	r, _, _, _ := testResolver(t)

	tests := []struct {
		agentID string
		want    domain.Category
	}{
		{"architect", domain.CategoryArchitecture},
		{"backend-dev", domain.CategoryBackend},
		{"code-reviewer", domain.CategoryQuality},
		{"unknown-agent", domain.CategoryGeneral},
		{"rogue-agent", domain.CategoryGeneral}, // unrecognized category name
	}
	for _, tc := range tests {
		if got := r.Category(tc.agentID); got != tc.want {
			t.Errorf("Category(%q) = %q, want %q", tc.agentID, got, tc.want)
		}
	}
}

func TestResolveStaticRoutes(t *testing.T) {
	r, _, _, _ := testResolver(t)

	d, err := r.Resolve(context.Background(), "s1", domain.CompletionReport{AgentID: "architect"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(d.ToAgents) != 1 || d.ToAgents[0] != "backend-dev" {
		t.Errorf("ToAgents = %v, want [backend-dev]", d.ToAgents)
	}
	if d.Category != domain.CategoryArchitecture {
		t.Errorf("category = %q, want architecture", d.Category)
	}
}

func TestResolveTerminalAgent(t *testing.T) {
	r, _, _, _ := testResolver(t)

	d, err := r.Resolve(context.Background(), "s1", domain.CompletionReport{AgentID: "code-reviewer"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(d.ToAgents) != 0 {
		t.Errorf("ToAgents = %v, want empty for terminal agent", d.ToAgents)
	}
}

func TestResolvePipelineWinsOverStaticRoutes(t *testing.T) {
	r, machine, _, _ := testResolver(t)
	ctx := context.Background()

	def := machine.Definition("release")
	exec, err := machine.Start(ctx, "s1", def)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	d, err := r.Resolve(ctx, "s1", domain.CompletionReport{
		AgentID: "backend-dev", TaskID: exec.StepTaskIDs[0],
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// Static table says backend-dev -> code-reviewer too, but the route
	// must come from the pipeline step, not the table.
	if len(d.ToAgents) != 1 || d.ToAgents[0] != "code-reviewer" {
		t.Errorf("ToAgents = %v, want [code-reviewer]", d.ToAgents)
	}
	if d.PipelineDone {
		t.Error("pipeline is not done after step 0")
	}
}

func TestResolveMarksPipelineDone(t *testing.T) {
	r, machine, execs, _ := testResolver(t)
	ctx := context.Background()

	exec, err := machine.Start(ctx, "s1", machine.Definition("release"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := machine.CompleteStep(ctx, exec, 0); err != nil {
		t.Fatalf("CompleteStep: %v", err)
	}

	d, err := r.Resolve(ctx, "s1", domain.CompletionReport{
		AgentID: "code-reviewer", TaskID: exec.StepTaskIDs[1],
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !d.PipelineDone {
		t.Error("final step completion should mark the pipeline done")
	}
	if len(d.ToAgents) != 0 {
		t.Errorf("ToAgents = %v, want empty at pipeline completion", d.ToAgents)
	}

	stored, err := execs.GetExecution(ctx, "s1")
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if stored.Status != domain.PipelineCompleted {
		t.Errorf("stored status = %q, want completed", stored.Status)
	}
}

func TestResolveOutsideAgentFallsBackToRoutes(t *testing.T) {
	r, machine, _, _ := testResolver(t)
	ctx := context.Background()

	if _, err := machine.Start(ctx, "s1", machine.Definition("release")); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// architect is not a step of the release pipeline.
	d, err := r.Resolve(ctx, "s1", domain.CompletionReport{AgentID: "architect", TaskID: "ext-1"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(d.ToAgents) != 1 || d.ToAgents[0] != "backend-dev" {
		t.Errorf("ToAgents = %v, want static route [backend-dev]", d.ToAgents)
	}
}

func TestCascadeFail(t *testing.T) {
	r, _, _, tracker := testResolver(t)
	ctx := context.Background()

	tracker.tasks["root"] = domain.Task{ID: "root", Status: domain.TaskRunning}
	tracker.tasks["dep-a"] = domain.Task{ID: "dep-a", Status: domain.TaskPending, BlockedBy: []string{"root"}}
	tracker.tasks["dep-b"] = domain.Task{ID: "dep-b", Status: domain.TaskPending, BlockedBy: []string{"root", "other"}}
	tracker.tasks["done"] = domain.Task{ID: "done", Status: domain.TaskCompleted, BlockedBy: []string{"root"}}
	tracker.tasks["free"] = domain.Task{ID: "free", Status: domain.TaskPending}

	failed, err := r.CascadeFail(ctx, "root")
	if err != nil {
		t.Fatalf("CascadeFail: %v", err)
	}
	sort.Strings(failed)
	if len(failed) != 2 || failed[0] != "dep-a" || failed[1] != "dep-b" {
		t.Errorf("failed = %v, want [dep-a dep-b]", failed)
	}

	if tracker.tasks["root"].Status != domain.TaskFailed {
		t.Error("root task should be marked failed")
	}
	if tracker.tasks["done"].Status != domain.TaskCompleted {
		t.Error("completed dependents must not be flipped to failed")
	}
	if tracker.tasks["free"].Status != domain.TaskPending {
		t.Error("unrelated task must be untouched")
	}
}

func TestCascadeFailEmptyTaskID(t *testing.T) {
	r, _, _, _ := testResolver(t)
	failed, err := r.CascadeFail(context.Background(), "")
	if err != nil || failed != nil {
		t.Errorf("CascadeFail(\"\") = %v, %v, want nil, nil", failed, err)
	}
}
