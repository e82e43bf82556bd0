package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
)

// interrogativeMarkers open clarifying questions rather than work
// requests. A request starting with one never triggers a pipeline.
var interrogativeMarkers = []string{
	"what", "why", "how", "when", "where", "who", "which",
	"can", "could", "should", "would", "is", "are", "do", "does",
}

// Machine drives pipeline executions: matching a request to a
// definition, starting a run, and advancing it on step completion.
type Machine struct {
	loader *Loader
	store  domain.ExecutionStore
	tasks  domain.TaskTracker
	cfg    config.PipelineConfig
	logger *slog.Logger
}

// NewMachine creates a pipeline machine.
func NewMachine(loader *Loader, store domain.ExecutionStore, tasks domain.TaskTracker, cfg config.PipelineConfig, logger *slog.Logger) *Machine {
	if cfg.MinTriggerLength <= 0 {
		cfg.MinTriggerLength = 20
	}
	if cfg.ShortQuestionLen <= 0 {
		cfg.ShortQuestionLen = 80
	}
	return &Machine{loader: loader, store: store, tasks: tasks, cfg: cfg, logger: logger}
}

// Match returns the first definition with a case-insensitive trigger
// phrase match against the request, or nil. Short requests and
// questions never match; triggering a multi-step workflow from a
// clarifying question is always wrong.
func (m *Machine) Match(requestText string) *domain.PipelineDefinition {
	text := strings.TrimSpace(requestText)
	if len(text) < m.cfg.MinTriggerLength {
		return nil
	}
	if isQuestion(text, m.cfg.ShortQuestionLen) {
		return nil
	}

	lower := strings.ToLower(text)
	for _, def := range m.loader.Definitions() {
		for _, phrase := range def.TriggerPhrases {
			if phrase == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(phrase)) {
				d := def
				return &d
			}
		}
	}
	return nil
}

func isQuestion(text string, shortLen int) bool {
	if strings.HasSuffix(text, "?") && len(text) < shortLen {
		return true
	}
	firstWord := text
	if i := strings.IndexFunc(text, unicode.IsSpace); i > 0 {
		firstWord = text[:i]
	}
	firstWord = strings.ToLower(strings.TrimRight(firstWord, ",:;"))
	for _, marker := range interrogativeMarkers {
		if firstWord == marker {
			return true
		}
	}
	return false
}

// Start instantiates an execution of def for the session and creates
// the first step's task. The first step has no dependencies by
// construction, so it is runnable immediately.
func (m *Machine) Start(ctx context.Context, sessionID string, def *domain.PipelineDefinition) (*domain.PipelineExecution, error) {
	now := time.Now()
	exec := domain.PipelineExecution{
		PipelineID:  ulid.Make().String(),
		Type:        def.Type,
		SessionID:   sessionID,
		StepTaskIDs: make(map[int]string),
		CurrentStep: 0,
		Status:      domain.PipelineRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	taskID, err := m.createStepTask(ctx, &exec, def, 0)
	if err != nil {
		return nil, err
	}
	exec.StepTaskIDs[0] = taskID

	if err := m.store.SaveExecution(ctx, exec); err != nil {
		return nil, domain.WrapOp("Machine.Start", err)
	}
	m.logger.Info("pipeline started",
		"pipeline_id", exec.PipelineID, "type", def.Type, "session_id", sessionID)
	return &exec, nil
}

// CompleteStep records stepIndex as done and advances to the next
// eligible step. It returns the next step index, or -1 when the
// execution just completed. The execution is persisted either way.
func (m *Machine) CompleteStep(ctx context.Context, exec *domain.PipelineExecution, stepIndex int) (int, error) {
	if exec.Terminal() {
		return -1, domain.NewSubSystemError("pipeline", "Machine.CompleteStep",
			domain.ErrTerminalState, fmt.Sprintf("execution %s is %s", exec.PipelineID, exec.Status))
	}
	def := m.loader.Definition(exec.Type)
	if def == nil {
		return -1, domain.NewSubSystemError("pipeline", "Machine.CompleteStep",
			domain.ErrNotFound, fmt.Sprintf("definition %q", exec.Type))
	}
	if stepIndex < 0 || stepIndex >= len(def.Steps) {
		return -1, domain.NewSubSystemError("pipeline", "Machine.CompleteStep",
			domain.ErrInvalidInput, fmt.Sprintf("step index %d", stepIndex))
	}

	if !exec.StepCompleted(stepIndex) {
		exec.CompletedSteps = append(exec.CompletedSteps, stepIndex)
	}
	exec.UpdatedAt = time.Now()

	next := NextStep(def, exec.CompletedSteps)
	if next < 0 {
		if len(exec.CompletedSteps) == len(def.Steps) {
			exec.Status = domain.PipelineCompleted
		}
		// No eligible step but incomplete ones remain: a failed step is
		// holding its dependents back. Stay running and wait for the
		// retry engine to resolve it.
		if err := m.store.SaveExecution(ctx, *exec); err != nil {
			return -1, domain.WrapOp("Machine.CompleteStep", err)
		}
		if exec.Status == domain.PipelineCompleted {
			m.logger.Info("pipeline completed", "pipeline_id", exec.PipelineID, "type", exec.Type)
		}
		return -1, nil
	}

	exec.CurrentStep = next
	if _, started := exec.StepTaskIDs[next]; !started {
		taskID, err := m.createStepTask(ctx, exec, def, next)
		if err != nil {
			return -1, err
		}
		exec.StepTaskIDs[next] = taskID
	}
	if err := m.store.SaveExecution(ctx, *exec); err != nil {
		return -1, domain.WrapOp("Machine.CompleteStep", err)
	}
	return next, nil
}

// Definition returns the loaded definition for a pipeline type, or nil.
func (m *Machine) Definition(pipelineType string) *domain.PipelineDefinition {
	return m.loader.Definition(pipelineType)
}

// Abort marks a running execution aborted.
func (m *Machine) Abort(ctx context.Context, exec *domain.PipelineExecution) error {
	if exec.Terminal() {
		return domain.NewSubSystemError("pipeline", "Machine.Abort",
			domain.ErrTerminalState, fmt.Sprintf("execution %s is %s", exec.PipelineID, exec.Status))
	}
	exec.Status = domain.PipelineAborted
	exec.UpdatedAt = time.Now()
	if err := m.store.SaveExecution(ctx, *exec); err != nil {
		return domain.WrapOp("Machine.Abort", err)
	}
	m.logger.Info("pipeline aborted", "pipeline_id", exec.PipelineID, "type", exec.Type)
	return nil
}

func (m *Machine) createStepTask(ctx context.Context, exec *domain.PipelineExecution, def *domain.PipelineDefinition, stepIndex int) (string, error) {
	step := def.Steps[stepIndex]

	var blockedBy []string
	for _, dep := range step.DependsOn {
		if id, ok := exec.StepTaskIDs[dep]; ok {
			blockedBy = append(blockedBy, id)
		}
	}

	now := time.Now()
	task := domain.Task{
		ID:        ulid.Make().String(),
		AgentID:   step.AgentID,
		SessionID: exec.SessionID,
		Subject:   fmt.Sprintf("%s: step %d", def.Type, stepIndex),
		Status:    domain.TaskPending,
		BlockedBy: blockedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.tasks.CreateTask(ctx, task); err != nil {
		return "", domain.WrapOp("Machine.createStepTask", err)
	}
	return task.ID, nil
}

// NextStep returns the first step index whose dependencies are all
// completed and which is not itself completed, or -1 when every step
// is done. Pure; exported for the routing resolver.
func NextStep(def *domain.PipelineDefinition, completed []int) int {
	done := make(map[int]bool, len(completed))
	for _, c := range completed {
		done[c] = true
	}
	for idx, step := range def.Steps {
		if done[idx] {
			continue
		}
		ready := true
		for _, dep := range step.DependsOn {
			if !done[dep] {
				ready = false
				break
			}
		}
		if ready {
			return idx
		}
	}
	return -1
}
