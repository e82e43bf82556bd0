package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
	"conductor/internal/infra/tracer"
	"conductor/internal/usecase/pipeline"
)

// EngineDeps bundles the collaborators of the decision engine.
type EngineDeps struct {
	Catalog    domain.CatalogProvider
	Sessions   domain.SessionStore
	Classifier *Classifier
	Tiers      *TierResolver
	Allocator  *Allocator
	Retry      *RetryEngine
	Gate       *DispatchGate
	Resolver   *Resolver
	Machine    *pipeline.Machine
	Executions domain.ExecutionStore
	Calibrator *Calibrator
	Decisions  domain.DecisionLog
	Logger     *slog.Logger
}

// Engine is the single synchronous entry point: one event in, one
// instruction out. All decision functions underneath are pure; the
// engine owns the four mutation points (session state, pipeline
// advancement, attempt history, cascade marking).
type Engine struct {
	deps    EngineDeps
	cfg     *config.Config
	limiter *rate.Limiter // auto-dispatch throttle; nil = unlimited
	logger  *slog.Logger
}

// NewEngine creates the decision engine.
func NewEngine(cfg *config.Config, deps EngineDeps) *Engine {
	var limiter *rate.Limiter
	if cfg.DispatchLimit.PerMinute > 0 {
		burst := cfg.DispatchLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.DispatchLimit.PerMinute)/60.0), burst)
	}
	return &Engine{deps: deps, cfg: cfg, limiter: limiter, logger: deps.Logger}
}

// Decide maps one event to one instruction. It never panics and never
// returns an error: any internal fault degrades to a no-op instruction
// plus a diagnostic record, so the host workflow is never blocked.
func (e *Engine) Decide(ctx context.Context, event domain.Event) (instruction domain.Instruction) {
	ctx, span := tracer.StartDecision(ctx, string(event.Kind), event.SessionID)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("decide panicked, degrading to no-op",
				"session_id", event.SessionID, "panic", r, "stack", string(debug.Stack()))
			instruction = domain.Noop(fmt.Sprintf("internal fault: %v", r))
			e.recordDecision(ctx, event.SessionID, instruction)
		}
	}()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	switch event.Kind {
	case domain.EventRequest:
		instruction = e.decideRequest(ctx, event)
	case domain.EventCompletion:
		instruction = e.decideCompletion(ctx, event)
	default:
		instruction = domain.Noop(fmt.Sprintf("unknown event kind %q", event.Kind))
	}

	tracer.DecisionOutcome(span, string(instruction.Kind))
	e.recordDecision(ctx, event.SessionID, instruction)
	return instruction
}

func (e *Engine) decideRequest(ctx context.Context, event domain.Event) domain.Instruction {
	if strings.TrimSpace(event.Text) == "" {
		return domain.Noop("empty request")
	}

	session := e.loadSession(ctx, event.SessionID)
	session.RecordPrompt(event.Text, event.Timestamp)

	if ins, matched := e.tryStartPipeline(ctx, event, session); matched {
		e.saveSession(ctx, session)
		return ins
	}

	result := e.deps.Classifier.Classify(
		event.Text,
		e.deps.Catalog.Agents(),
		e.deps.Catalog.Skills(),
		session.AccessStats,
		e.deps.Calibrator.Adjustments(),
		event.Timestamp,
	)
	session.LastClassification = &result

	ins := e.resolveRequestInstruction(ctx, event, session, result)
	e.saveSession(ctx, session)
	return ins
}

// tryStartPipeline reports whether the request triggered a pipeline.
// Only evaluated when no execution is already running for the session.
func (e *Engine) tryStartPipeline(ctx context.Context, event domain.Event, session *domain.SessionState) (domain.Instruction, bool) {
	if e.deps.Machine == nil {
		return domain.Instruction{}, false
	}
	if e.deps.Executions != nil {
		if exec, err := e.deps.Executions.GetExecution(ctx, event.SessionID); err == nil &&
			exec != nil && exec.Status == domain.PipelineRunning {
			return domain.Instruction{}, false
		}
	}

	def := e.deps.Machine.Match(event.Text)
	if def == nil {
		return domain.Instruction{}, false
	}
	exec, err := e.deps.Machine.Start(ctx, event.SessionID, def)
	if err != nil {
		e.logger.Warn("pipeline start failed, falling back to classification",
			"type", def.Type, "error", err)
		return domain.Instruction{}, false
	}

	session.ActivePipelineID = exec.PipelineID
	firstAgent := def.Steps[0].AgentID
	e.markDispatched(session, firstAgent, exec.StepTaskIDs[0])
	return domain.Instruction{
		Kind:       domain.InstructionDispatch,
		AgentID:    firstAgent,
		PipelineID: exec.PipelineID,
		Rationale:  fmt.Sprintf("pipeline %q triggered, starting step 0", def.Type),
	}, true
}

func (e *Engine) resolveRequestInstruction(ctx context.Context, event domain.Event, session *domain.SessionState, result domain.ClassificationResult) domain.Instruction {
	top := result.TopAgent()
	if top == nil && len(result.RankedSkills) == 0 {
		return domain.Noop("empty catalog")
	}

	dispatchTier := TierNone
	if top != nil {
		dispatchTier = e.deps.Tiers.Resolve(TierDomainDispatch, top.Confidence)
	}

	switch dispatchTier {
	case TierAutoDispatch:
		if err := e.deps.Gate.Allow(top.ID); err != nil {
			e.logger.Warn("dispatch blocked, downgrading to recommendation",
				"agent_id", top.ID, "error", err)
			return e.recommend(top, "circuit open for agent, recommendation only")
		}
		if e.limiter != nil && !e.limiter.Allow() {
			e.logger.Warn("dispatch rate limit hit, downgrading to recommendation", "agent_id", top.ID)
			return e.recommend(top, "dispatch rate limit reached, recommendation only")
		}
		session.Touch(top.ID, event.Timestamp)
		e.markDispatched(session, top.ID, "")
		return domain.Instruction{
			Kind:       domain.InstructionDispatch,
			AgentID:    top.ID,
			Confidence: top.Confidence,
			Rationale:  dispatchRationale(top),
		}
	case TierStrongRecommend, TierSuggest:
		if ins, ok := e.injectSkills(ctx, event, session, result); ok {
			// Matched skills carry the context; the agent suggestion
			// rides along in the rationale.
			ins.Rationale = fmt.Sprintf("consider agent %s (confidence %d)", top.ID, top.Confidence)
			return ins
		}
		return e.recommend(top, dispatchRationale(top))
	}

	if ins, ok := e.injectSkills(ctx, event, session, result); ok {
		return ins
	}
	return domain.Noop("no candidate crossed an actionable tier")
}

func (e *Engine) recommend(top *domain.Candidate, rationale string) domain.Instruction {
	return domain.Instruction{
		Kind:       domain.InstructionRecommend,
		AgentID:    top.ID,
		Confidence: top.Confidence,
		Rationale:  rationale,
	}
}

// injectSkills builds an inject instruction from skill candidates at an
// inject tier, fitted under the token budget. Skills already injected
// this session are skipped; re-sending identical content wastes budget.
func (e *Engine) injectSkills(ctx context.Context, event domain.Event, session *domain.SessionState, result domain.ClassificationResult) (domain.Instruction, bool) {
	type selected struct {
		candidate domain.Candidate
		tier      string
	}
	var picks []selected
	for _, cand := range result.RankedSkills {
		tier := e.deps.Tiers.Resolve(TierDomainSkill, cand.Confidence)
		if tier != TierSilentInject && tier != TierNotifyInject {
			continue
		}
		if session.HasInjectedSkill(cand.ID) {
			continue
		}
		picks = append(picks, selected{candidate: cand, tier: tier})
	}
	if len(picks) == 0 {
		return domain.Instruction{}, false
	}

	items := make([]ContentItem, 0, len(picks))
	tiers := make(map[string]string, len(picks))
	for _, p := range picks {
		entry, err := e.deps.Catalog.Get(p.candidate.ID)
		if err != nil || entry == nil || entry.Content == "" {
			continue
		}
		items = append(items, ContentItem{ID: entry.ID, Content: entry.Content})
		tiers[entry.ID] = p.tier
	}
	if len(items) == 0 {
		return domain.Instruction{}, false
	}

	alloc := e.deps.Allocator.Allocate(items, e.cfg.Budget.TotalTokens)
	if len(alloc.Fragments) == 0 {
		return domain.Instruction{}, false
	}

	var notified []string
	for i := range alloc.Fragments {
		frag := &alloc.Fragments[i]
		frag.Silent = tiers[frag.SkillID] == TierSilentInject
		if !frag.Silent {
			notified = append(notified, frag.SkillID)
		}
		session.InjectedSkillIDs = append(session.InjectedSkillIDs, frag.SkillID)
		session.Touch(frag.SkillID, event.Timestamp)
	}

	ins := domain.Instruction{
		Kind:       domain.InstructionInject,
		Fragments:  alloc.Fragments,
		BudgetUsed: alloc.BudgetUsed,
	}
	if len(notified) > 0 {
		ins.SystemMessage = fmt.Sprintf("Injected skill context: %s", strings.Join(notified, ", "))
	}
	return ins, true
}

func (e *Engine) decideCompletion(ctx context.Context, event domain.Event) domain.Instruction {
	report := event.Completion
	if report == nil || report.AgentID == "" {
		return domain.Noop("completion event without a report")
	}

	decision, err := e.deps.Retry.Decide(ctx, *report, event.Timestamp)
	if err != nil {
		e.logger.Error("retry decision failed", "agent_id", report.AgentID, "error", err)
		return domain.Noop("retry decision unavailable")
	}

	session := e.loadSession(ctx, event.SessionID)
	defer e.saveSession(ctx, session)

	switch {
	case decision.ShouldRetry:
		e.bumpRetry(session, report.AgentID, decision.RetryCount)
		return domain.Instruction{
			Kind:      domain.InstructionRetry,
			AgentID:   report.AgentID,
			DelayMs:   decision.DelayMs,
			Rationale: decision.Reason,
		}
	case decision.Outcome == domain.OutcomeRejected:
		e.markAgentStatus(session, report.AgentID, "failed")
		if decision.AlternativeAgentID != "" {
			return domain.Instruction{
				Kind:      domain.InstructionReroute,
				AgentID:   decision.AlternativeAgentID,
				Rationale: fmt.Sprintf("agent %s rejected the task", report.AgentID),
			}
		}
		return e.cascade(ctx, report, "rejected with no configured alternative")
	case decision.Outcome == domain.OutcomeSuccess:
		return e.routeSuccess(ctx, event.SessionID, session, *report)
	default:
		// failure or partial with the retry budget exhausted.
		e.markAgentStatus(session, report.AgentID, "failed")
		return e.cascade(ctx, report, decision.Reason)
	}
}

// cascade marks dependents of the dead task failed and surfaces them.
func (e *Engine) cascade(ctx context.Context, report *domain.CompletionReport, reason string) domain.Instruction {
	failed, err := e.deps.Resolver.CascadeFail(ctx, report.TaskID)
	if err != nil {
		e.logger.Warn("cascade failed", "task_id", report.TaskID, "error", err)
	}
	if len(failed) == 0 {
		return domain.Noop(fmt.Sprintf("agent %s: %s", report.AgentID, reason))
	}
	return domain.Instruction{
		Kind:      domain.InstructionCascadeFail,
		AgentID:   report.AgentID,
		TaskIDs:   failed,
		Rationale: reason,
	}
}

func (e *Engine) routeSuccess(ctx context.Context, sessionID string, session *domain.SessionState, report domain.CompletionReport) domain.Instruction {
	e.markAgentStatus(session, report.AgentID, "completed")

	routing, err := e.deps.Resolver.Resolve(ctx, sessionID, report)
	if err != nil {
		e.logger.Error("routing failed", "agent_id", report.AgentID, "error", err)
		return domain.Noop("routing unavailable")
	}

	if routing.PipelineDone {
		session.ActivePipelineID = ""
		return domain.Noop("pipeline completed")
	}
	if len(routing.ToAgents) == 0 {
		return domain.Noop(fmt.Sprintf("agent %s is terminal", report.AgentID))
	}

	next := routing.ToAgents[0]
	if session.ActivePipelineID != "" {
		return domain.Instruction{
			Kind:        domain.InstructionAdvancePipeline,
			NextAgentID: next,
			PipelineID:  session.ActivePipelineID,
			Rationale:   fmt.Sprintf("step owned by %s completed", report.AgentID),
		}
	}
	return domain.Instruction{
		Kind:      domain.InstructionDispatch,
		AgentID:   next,
		Rationale: fmt.Sprintf("configured downstream of %s", report.AgentID),
	}
}

func (e *Engine) loadSession(ctx context.Context, sessionID string) *domain.SessionState {
	session, err := e.deps.Sessions.GetSession(ctx, sessionID)
	if err != nil || session == nil {
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			// Corrupted state falls back to a fresh session, never fatal.
			e.logger.Warn("session load failed, starting fresh", "session_id", sessionID, "error", err)
		}
		return domain.NewSessionState(sessionID)
	}
	return session
}

// saveSession persists the session and is fanned out with any other
// settled side effects; a failed write is logged, never propagated.
func (e *Engine) saveSession(ctx context.Context, session *domain.SessionState) {
	session.UpdatedAt = time.Now()
	results := settleAll(ctx, map[string]func(context.Context) error{
		"session-save": func(ctx context.Context) error {
			return e.deps.Sessions.SaveSession(ctx, *session)
		},
	})
	for _, r := range results {
		if r.Err != nil {
			e.logger.Warn("side effect failed", "hook", r.Name, "error", r.Err)
		}
	}
}

func (e *Engine) recordDecision(ctx context.Context, sessionID string, ins domain.Instruction) {
	if e.deps.Decisions == nil {
		return
	}
	rec := domain.DecisionRecord{
		ID:         ulid.Make().String(),
		SessionID:  sessionID,
		Kind:       ins.Kind,
		AgentID:    ins.AgentID,
		Confidence: ins.Confidence,
		Rationale:  ins.Rationale,
		CreatedAt:  time.Now(),
	}
	if ins.AgentID != "" && e.deps.Resolver != nil {
		rec.Category = e.deps.Resolver.Category(ins.AgentID)
	}
	results := settleAll(ctx, map[string]func(context.Context) error{
		"decision-log": func(ctx context.Context) error {
			return e.deps.Decisions.AppendDecision(ctx, rec)
		},
	})
	for _, r := range results {
		if r.Err != nil {
			e.logger.Warn("side effect failed", "hook", r.Name, "error", r.Err)
		}
	}
}

func (e *Engine) markDispatched(session *domain.SessionState, agentID, taskID string) {
	if session.ActiveAgents == nil {
		session.ActiveAgents = make(map[string]domain.AgentActivation)
	}
	session.ActiveAgents[agentID] = domain.AgentActivation{Status: "dispatched", TaskID: taskID}
}

func (e *Engine) markAgentStatus(session *domain.SessionState, agentID, status string) {
	if session.ActiveAgents == nil {
		session.ActiveAgents = make(map[string]domain.AgentActivation)
	}
	act := session.ActiveAgents[agentID]
	act.Status = status
	session.ActiveAgents[agentID] = act
}

func (e *Engine) bumpRetry(session *domain.SessionState, agentID string, count int) {
	if session.ActiveAgents == nil {
		session.ActiveAgents = make(map[string]domain.AgentActivation)
	}
	act := session.ActiveAgents[agentID]
	act.Status = "running"
	act.RetryCount = count
	session.ActiveAgents[agentID] = act
}

func dispatchRationale(top *domain.Candidate) string {
	for _, sig := range top.MatchedSignals {
		if sig.Kind == domain.SignalKeyword && sig.MatchedTerm != "" {
			return fmt.Sprintf("matched trigger %q with confidence %d", sig.MatchedTerm, top.Confidence)
		}
	}
	return fmt.Sprintf("confidence %d", top.Confidence)
}
