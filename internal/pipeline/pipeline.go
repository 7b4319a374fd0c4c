// Package pipeline orchestrates a turn: validation, locking, persistence,
// routing, context assembly, agent execution, and stream delivery.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/switchboard/internal/agent"
	"github.com/haasonsaas/switchboard/internal/contextasm"
	"github.com/haasonsaas/switchboard/internal/errs"
	"github.com/haasonsaas/switchboard/internal/memory"
	"github.com/haasonsaas/switchboard/internal/observability"
	"github.com/haasonsaas/switchboard/internal/providers"
	"github.com/haasonsaas/switchboard/internal/routing"
	"github.com/haasonsaas/switchboard/internal/sessions"
	"github.com/haasonsaas/switchboard/internal/store"
	"github.com/haasonsaas/switchboard/internal/stream"
	"github.com/haasonsaas/switchboard/internal/tools"
	"github.com/haasonsaas/switchboard/pkg/models"
)

// Config tunes the pipeline.
type Config struct {
	// MaxContentBytes caps the user message size. Default: 4 KiB
	MaxContentBytes int `yaml:"max_content_bytes"`
	// TurnTimeout bounds the whole turn. Default: 120s
	TurnTimeout time.Duration `yaml:"turn_timeout"`
	// LockTimeout bounds waiting for the session lock. Default: 30s
	LockTimeout time.Duration `yaml:"lock_timeout"`
	// ToolOutputCap truncates tool output streamed and persisted. Default: 32 KiB
	ToolOutputCap int `yaml:"tool_output_cap"`
	// SystemPrompt is the base system prompt ahead of agent personas.
	SystemPrompt string `yaml:"system_prompt"`
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		MaxContentBytes: 4 << 10,
		TurnTimeout:     120 * time.Second,
		LockTimeout:     30 * time.Second,
		ToolOutputCap:   32 << 10,
	}
}

// Pipeline wires the turn collaborators together.
type Pipeline struct {
	store     store.Store
	registry  *sessions.Registry
	router    *routing.Router
	assembler *contextasm.Assembler
	catalog   *agent.Catalog
	runner    *agent.Runner
	executor  *tools.Executor
	gateway   memory.Gateway
	metrics   *observability.Metrics
	config    Config
	logger    *slog.Logger
}

// Options carries the pipeline collaborators.
type Options struct {
	Store     store.Store
	Registry  *sessions.Registry
	Router    *routing.Router
	Assembler *contextasm.Assembler
	Catalog   *agent.Catalog
	Runner    *agent.Runner
	Executor  *tools.Executor
	Gateway   memory.Gateway
	Metrics   *observability.Metrics
	Config    Config
	Logger    *slog.Logger
}

// New creates a pipeline. A nil gateway disables memory.
func New(opts Options) *Pipeline {
	defaults := DefaultConfig()
	if opts.Config.MaxContentBytes <= 0 {
		opts.Config.MaxContentBytes = defaults.MaxContentBytes
	}
	if opts.Config.TurnTimeout <= 0 {
		opts.Config.TurnTimeout = defaults.TurnTimeout
	}
	if opts.Config.LockTimeout <= 0 {
		opts.Config.LockTimeout = defaults.LockTimeout
	}
	if opts.Config.ToolOutputCap <= 0 {
		opts.Config.ToolOutputCap = defaults.ToolOutputCap
	}
	if opts.Gateway == nil {
		opts.Gateway = memory.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{
		store:     opts.Store,
		registry:  opts.Registry,
		router:    opts.Router,
		assembler: opts.Assembler,
		catalog:   opts.Catalog,
		runner:    opts.Runner,
		executor:  opts.Executor,
		gateway:   opts.Gateway,
		metrics:   opts.Metrics,
		config:    opts.Config,
		logger:    opts.Logger.With("component", "pipeline"),
	}
}

// TurnRequest is one inbound user turn.
type TurnRequest struct {
	SessionID string
	UserID    string
	Message   string
}

// TurnResult summarizes a finished turn for non-streaming callers.
type TurnResult struct {
	SessionID string
	Assistant *models.Message
	Decision  models.RouterDecision
	Status    string
}

// sinkAdapter bridges the agent runner onto the event stream. Send failures
// after client disconnect are swallowed; persistence does not depend on the
// stream staying up.
type sinkAdapter struct {
	sink stream.Sink
}

func (s sinkAdapter) Token(text string) {
	_ = s.sink.Send(models.StreamEvent{Type: models.EventToken, Payload: models.TokenPayload{Content: text}})
}

func (s sinkAdapter) Status(message string) {
	_ = s.sink.Send(models.StreamEvent{Type: models.EventStatus, Payload: models.StatusPayload{Message: message}})
}

// Run executes one turn end to end. The returned error covers pre-lock
// failures (validation, lock timeout, storage); once the user message is
// persisted the turn always produces an assistant message and a terminal
// stream event instead of a bare error.
func (p *Pipeline) Run(ctx context.Context, req TurnRequest, sink stream.Sink) (*TurnResult, error) {
	if err := p.validate(req); err != nil {
		return nil, err
	}

	session, err := p.registry.GetOrCreate(ctx, req.SessionID, req.UserID, "")
	if err != nil {
		return nil, err
	}

	holder := uuid.NewString()
	release, err := p.registry.Locks().Acquire(ctx, session.ID, holder, p.config.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	// The pre-lock snapshot can be stale: a turn that held the lock ahead of
	// us may have set an agent lock or recorded a last agent while we queued.
	// Routing must see those writes.
	session, err = p.registry.Get(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.ActiveSessions.Inc()
		defer p.metrics.ActiveSessions.Dec()
	}

	turnCtx, cancel := context.WithTimeout(ctx, p.config.TurnTimeout)
	defer cancel()

	started := time.Now()
	result, err := p.runLocked(turnCtx, session, req, sink, started)
	if err != nil {
		return nil, err
	}

	// Step 13: the inactivity timer restarts only after the turn finishes.
	detached := context.WithoutCancel(ctx)
	if err := p.registry.Touch(detached, session); err != nil {
		p.logger.Warn("touch after turn failed", "session_id", session.ID, "error", err)
	}
	return result, nil
}

func (p *Pipeline) validate(req TurnRequest) error {
	if req.Message == "" {
		return errs.New(errs.KindValidation, "message is required")
	}
	if len(req.Message) > p.config.MaxContentBytes {
		return errs.New(errs.KindValidation, "message exceeds maximum size")
	}
	if req.SessionID != "" && !models.ValidSessionID(req.SessionID) {
		return errs.New(errs.KindValidation, "malformed session id")
	}
	return nil
}

// runLocked is steps 4 through 12: everything under the session lock.
func (p *Pipeline) runLocked(ctx context.Context, session *models.Session, req TurnRequest, sink stream.Sink, started time.Time) (*TurnResult, error) {
	if _, err := p.store.AppendMessage(ctx, session.ID, models.MessageUser, req.Message, nil); err != nil {
		return nil, err
	}

	settings := session.Settings()
	decision, cleanText := p.router.Route(ctx, req.Message, settings)
	if p.metrics != nil {
		p.metrics.RouterDecisions.WithLabelValues(decision.Agent, string(decision.OverrideSource)).Inc()
	}

	selected, err := p.catalog.Get(decision.Agent)
	if err != nil {
		// A routing decision outside the catalog falls back rather than fails.
		p.logger.Error("router picked unknown agent", "agent", decision.Agent)
		selected, _ = p.catalog.Get(agent.Analytical)
		decision = models.RouterDecision{
			Agent: agent.Analytical, Reason: "fallback", OverrideSource: models.OverrideFallback,
		}
	}

	bundle, err := p.assembler.Assemble(ctx, contextasm.Request{
		Session:      session,
		UserText:     cleanText,
		SystemPrompt: p.config.SystemPrompt,
		CrossSession: settings.CrossSession,
		Memory:       true,
	})
	if err != nil {
		return nil, err
	}
	if bundle.Degraded && p.metrics != nil {
		p.metrics.Degradations.WithLabelValues(bundle.DegradedReason).Inc()
	}

	_ = sink.Send(models.StreamEvent{
		Type:    models.EventStart,
		Payload: models.StartPayload{Agent: selected.Name, SessionID: session.ID},
	})

	toolCtx := tools.WithUserID(ctx, session.UserID)
	outcome, runErr := p.runner.Run(toolCtx, agent.RunInput{
		Agent:      selected,
		Bundle:     bundle,
		Signatures: p.allowedSignatures(selected),
		Tools:      p.toolRunner(session.ID, sink),
		Sink:       sinkAdapter{sink: sink},
		StartedAt:  started,
	})

	status := models.TurnStatusOK
	if runErr != nil {
		if errs.KindOf(runErr) == errs.KindCancelled {
			status = models.TurnStatusCancelled
		} else {
			status = models.TurnStatusError
		}
	}

	memoryMeta := p.recordMemory(ctx, session, cleanText, outcome, status)
	assistant, persistErr := p.persistAssistant(ctx, session.ID, decision, bundle, outcome, status, runErr, memoryMeta)
	if persistErr != nil {
		_ = sink.Send(models.StreamEvent{
			Type:    models.EventError,
			Payload: models.ErrorPayload{Code: string(errs.KindStorage), Message: "failed to persist assistant message"},
		})
		return nil, persistErr
	}

	p.emitTerminal(sink, assistant, status, runErr)
	p.observeTurn(selected.Name, status, started, outcome)

	if err := p.registry.RecordLastAgent(context.WithoutCancel(ctx), session.ID, selected.Name); err != nil {
		p.logger.Warn("record last agent failed", "session_id", session.ID, "error", err)
	}
	return &TurnResult{
		SessionID: session.ID,
		Assistant: assistant,
		Decision:  decision,
		Status:    status,
	}, nil
}

// toolRunner is step 9's tool half: one pending ToolExecution row per call,
// tool_start before tool_result, terminal update exactly once, output capped.
func (p *Pipeline) toolRunner(sessionID string, sink stream.Sink) agent.ToolRunner {
	return func(ctx context.Context, call providers.ToolCall) providers.ToolResult {
		// Disconnect stops new tool calls; only the one already in flight
		// runs to completion.
		if ctx.Err() != nil {
			return providers.ToolResult{ToolCallID: call.ID, Content: "turn cancelled", IsError: true}
		}

		execID, logErr := p.store.LogToolExecution(ctx, &models.ToolExecution{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			ToolName:  call.Name,
			Input:     call.Input,
			Status:    models.ToolExecPending,
			StartedAt: time.Now(),
		})
		if logErr != nil {
			p.logger.Error("tool execution log failed", "tool", call.Name, "error", logErr)
			return providers.ToolResult{ToolCallID: call.ID, Content: "tool bookkeeping failed", IsError: true}
		}

		var params map[string]any
		_ = json.Unmarshal(call.Input, &params)
		_ = sink.Send(models.StreamEvent{
			Type:    models.EventToolStart,
			Payload: models.ToolStartPayload{ToolID: execID, ToolName: call.Name, Params: params},
		})

		// In-flight tools finish even when the client goes away; the tool
		// timeout inside the executor still applies.
		execCtx := context.WithoutCancel(ctx)
		result := p.executor.Execute(execCtx, tools.Call{ID: execID, Name: call.Name, Input: call.Input})

		output, errMsg, success := p.shapeToolOutcome(result)
		completed := time.Now()
		patch := models.ToolExecutionPatch{
			Output:      output,
			Status:      models.ToolExecSuccess,
			CompletedAt: completed,
			DurationMs:  result.Duration.Milliseconds(),
		}
		if !success {
			patch.Status = models.ToolExecError
			patch.ErrorMessage = errMsg
		}
		if err := p.store.UpdateToolExecution(context.WithoutCancel(ctx), execID, patch); err != nil {
			p.logger.Error("tool execution update failed", "execution_id", execID, "error", err)
		}

		_ = sink.Send(models.StreamEvent{
			Type: models.EventToolResult,
			Payload: models.ToolResultPayload{
				ToolID:     execID,
				Success:    success,
				Result:     string(output),
				Error:      errMsg,
				DurationMs: result.Duration.Milliseconds(),
			},
		})
		if p.metrics != nil {
			st := "success"
			if !success {
				st = "error"
			}
			p.metrics.ToolExecutions.WithLabelValues(call.Name, st).Inc()
			p.metrics.ToolDuration.WithLabelValues(call.Name).Observe(result.Duration.Seconds())
		}

		content := string(output)
		if !success && content == "" {
			content = errMsg
		}
		return providers.ToolResult{ToolCallID: call.ID, Content: content, IsError: !success}
	}
}

// shapeToolOutcome caps output and flattens the error surface: executor
// errors and tool-declared failures both become error results.
func (p *Pipeline) shapeToolOutcome(result *tools.ExecutionResult) (output json.RawMessage, errMsg string, success bool) {
	if result.Err != nil {
		return nil, result.Err.Error(), false
	}
	if result.Result == nil {
		return nil, "tool returned no result", false
	}
	output = result.Result.Content
	if len(output) > p.config.ToolOutputCap {
		clipped, _ := json.Marshal(map[string]any{
			"truncated":      true,
			"original_bytes": len(output),
			"content":        string(output[:p.config.ToolOutputCap]),
		})
		output = clipped
	}
	if result.Result.IsError {
		return output, string(result.Result.Content), false
	}
	return output, "", true
}

// recordMemory is step 11: best-effort, budgeted, never fails the turn. The
// returned map is the persisted memory metadata: {"status":"ok"},
// {"status":"degraded","reason":...} when the gateway fails, or
// {"status":"skipped","reason":...} when there is no exchange to record.
func (p *Pipeline) recordMemory(ctx context.Context, session *models.Session, userText string, outcome *agent.Outcome, status string) map[string]any {
	if status != models.TurnStatusOK || outcome.Content == "" {
		return map[string]any{"status": "skipped", "reason": "no completed exchange"}
	}
	err := p.gateway.AddTurn(context.WithoutCancel(ctx), memory.Turn{
		UserID:    session.UserID,
		SessionID: session.ID,
		User:      userText,
		Assistant: outcome.Content,
	})
	if err != nil {
		p.logger.Warn("memory add turn degraded", "session_id", session.ID, "error", err)
		if p.metrics != nil {
			p.metrics.Degradations.WithLabelValues("memory").Inc()
		}
		return map[string]any{"status": "degraded", "reason": err.Error()}
	}
	return map[string]any{"status": "ok"}
}

// persistAssistant is step 10: the assistant row exists for every turn that
// appended a user message, including errored and cancelled turns.
func (p *Pipeline) persistAssistant(ctx context.Context, sessionID string, decision models.RouterDecision, bundle *models.ContextBundle, outcome *agent.Outcome, status string, runErr error, memoryMeta map[string]any) (*models.Message, error) {
	metadata := map[string]any{
		models.MetaAgent:          decision.Agent,
		models.MetaRouterDecision: decision.AsMetadata(),
		models.MetaToolsUsed:      outcome.ToolsUsed,
		models.MetaMemory:         memoryMeta,
		models.MetaTurnStatus:     status,
	}
	if bundle.Degraded {
		metadata[models.MetaDegraded] = bundle.DegradedReason
	}
	if runErr != nil {
		metadata[models.MetaTurnError] = map[string]any{
			"kind":    string(errs.KindOf(runErr)),
			"message": runErr.Error(),
		}
	}
	if outcome.Workflow != nil {
		metadata["workflow"] = outcome.Workflow
	}
	if outcome.Summary != "" {
		metadata["summary"] = outcome.Summary
	}

	// Persistence survives cancellation; the row must exist regardless.
	return p.store.AppendMessage(context.WithoutCancel(ctx), sessionID, models.MessageAssistant, outcome.Content, metadata)
}

// emitTerminal is step 12: exactly one of end or error closes the stream.
func (p *Pipeline) emitTerminal(sink stream.Sink, assistant *models.Message, status string, runErr error) {
	if status == models.TurnStatusError {
		kind := errs.KindOf(runErr)
		_ = sink.Send(models.StreamEvent{
			Type:    models.EventError,
			Payload: models.ErrorPayload{Code: string(kind), Message: runErr.Error()},
		})
		return
	}
	_ = sink.Send(models.StreamEvent{
		Type:    models.EventEnd,
		Payload: models.EndPayload{Message: assistant.Content, Metadata: assistant.Metadata},
	})
}

func (p *Pipeline) observeTurn(agentName, status string, started time.Time, outcome *agent.Outcome) {
	if p.metrics == nil {
		return
	}
	p.metrics.TurnCounter.WithLabelValues(agentName, status).Inc()
	p.metrics.TurnDuration.WithLabelValues(agentName).Observe(time.Since(started).Seconds())
	if outcome.InputTokens > 0 {
		p.metrics.LLMTokens.WithLabelValues("llm", "prompt").Add(float64(outcome.InputTokens))
	}
	if outcome.OutputTokens > 0 {
		p.metrics.LLMTokens.WithLabelValues("llm", "completion").Add(float64(outcome.OutputTokens))
	}
}

// allowedSignatures filters the registry down to the agent's subset.
func (p *Pipeline) allowedSignatures(a *agent.Agent) []tools.Signature {
	var out []tools.Signature
	for _, sig := range p.executor.Registry().Signatures() {
		if a.AllowsTool(sig.Name) {
			out = append(out, sig)
		}
	}
	return out
}
