package usecase

import (
	"context"
	"errors"
	"log/slog"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
	"conductor/internal/usecase/pipeline"
)

// Resolver decides where work flows after an agent completes. An
// active pipeline always wins over the static routing table: the
// pipeline is an explicit plan, the table a default.
type Resolver struct {
	cfg     config.RoutingConfig
	machine *pipeline.Machine
	execs   domain.ExecutionStore
	tasks   domain.TaskTracker
	logger  *slog.Logger
}

// NewResolver creates a routing resolver. machine may be nil when no
// pipeline definitions are configured.
func NewResolver(cfg config.RoutingConfig, machine *pipeline.Machine, execs domain.ExecutionStore, tasks domain.TaskTracker, logger *slog.Logger) *Resolver {
	return &Resolver{cfg: cfg, machine: machine, execs: execs, tasks: tasks, logger: logger}
}

// Category classifies an agent's work into the fixed taxonomy.
func (r *Resolver) Category(agentID string) domain.Category {
	if name, ok := r.cfg.Categories[agentID]; ok {
		switch c := domain.Category(name); c {
		case domain.CategoryArchitecture, domain.CategoryFrontend, domain.CategoryBackend,
			domain.CategoryQuality, domain.CategorySecurity, domain.CategoryDebugging:
			return c
		}
	}
	return domain.CategoryGeneral
}

// Resolve routes a successful completion. Pipeline step advancement is
// tried first; otherwise the static from-agent table applies. Agents
// with no configured downstream are terminal.
func (r *Resolver) Resolve(ctx context.Context, sessionID string, report domain.CompletionReport) (domain.RoutingDecision, error) {
	decision := domain.RoutingDecision{
		FromAgent: report.AgentID,
		Category:  r.Category(report.AgentID),
	}

	if report.TaskID != "" {
		if err := r.tasks.UpdateStatus(ctx, report.TaskID, domain.TaskCompleted); err != nil && !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("failed to mark task completed", "task_id", report.TaskID, "error", err)
		}
	}

	routed, err := r.advancePipeline(ctx, sessionID, report, &decision)
	if err != nil {
		return decision, err
	}
	if routed {
		return decision, nil
	}

	decision.ToAgents = append([]string(nil), r.cfg.Routes[report.AgentID]...)
	return decision, nil
}

// advancePipeline reports whether an active pipeline owned the
// completion. Execution lookup failures degrade to the static table.
func (r *Resolver) advancePipeline(ctx context.Context, sessionID string, report domain.CompletionReport, decision *domain.RoutingDecision) (bool, error) {
	if r.machine == nil {
		return false, nil
	}
	exec, err := r.execs.GetExecution(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("execution lookup failed, using static routes", "session_id", sessionID, "error", err)
		}
		return false, nil
	}
	if exec == nil || exec.Status != domain.PipelineRunning {
		return false, nil
	}

	def := r.machine.Definition(exec.Type)
	stepIdx := exec.StepForTask(report.TaskID)
	if stepIdx < 0 {
		stepIdx = exec.StepForAgent(report.AgentID, def)
	}
	if stepIdx < 0 {
		// Completion from outside the pipeline; the plan is unaffected.
		return false, nil
	}

	next, err := r.machine.CompleteStep(ctx, exec, stepIdx)
	if err != nil {
		return false, domain.WrapOp("Resolver.advancePipeline", err)
	}
	if next < 0 {
		decision.PipelineDone = exec.Status == domain.PipelineCompleted
		return true, nil
	}
	decision.ToAgents = []string{def.Steps[next].AgentID}
	return true, nil
}

// CascadeFail marks every task blocked by failedTaskID as failed and
// returns the affected task ids. Called when an upstream task dies
// permanently, so downstream work is surfaced instead of silently
// stuck.
func (r *Resolver) CascadeFail(ctx context.Context, failedTaskID string) ([]string, error) {
	if failedTaskID == "" {
		return nil, nil
	}
	if err := r.tasks.UpdateStatus(ctx, failedTaskID, domain.TaskFailed); err != nil && !errors.Is(err, domain.ErrNotFound) {
		r.logger.Warn("failed to mark task failed", "task_id", failedTaskID, "error", err)
	}

	blocked, err := r.tasks.TasksBlockedBy(ctx, failedTaskID)
	if err != nil {
		return nil, domain.WrapOp("Resolver.CascadeFail", err)
	}

	var failed []string
	for _, task := range blocked {
		if task.Status == domain.TaskCompleted || task.Status == domain.TaskFailed {
			continue
		}
		if err := r.tasks.UpdateStatus(ctx, task.ID, domain.TaskFailed); err != nil {
			r.logger.Warn("cascade update failed", "task_id", task.ID, "error", err)
			continue
		}
		failed = append(failed, task.ID)
	}
	if len(failed) > 0 {
		r.logger.Info("cascade failure applied", "root_task", failedTaskID, "failed_count", len(failed))
	}
	return failed, nil
}
