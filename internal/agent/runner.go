package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/switchboard/internal/errs"
	"github.com/haasonsaas/switchboard/internal/providers"
	"github.com/haasonsaas/switchboard/internal/tools"
	"github.com/haasonsaas/switchboard/pkg/models"
)

// DefaultMaxIterations bounds the tool-use rounds in one turn.
const DefaultMaxIterations = 10

// ToolRunner executes a single tool call on behalf of the agent. The
// pipeline supplies it and handles persistence, stream events, and output
// caps; the runner only sees the result fed back to the model.
type ToolRunner func(ctx context.Context, call providers.ToolCall) providers.ToolResult

// Sink receives token and status output as the turn progresses.
type Sink interface {
	Token(text string)
	Status(message string)
}

// RunInput carries everything a turn needs.
type RunInput struct {
	Agent      *Agent
	Bundle     *models.ContextBundle
	Signatures []tools.Signature
	Tools      ToolRunner
	Sink       Sink
	// StartedAt anchors workflow time-overrun checks; zero means now.
	StartedAt time.Time
}

// Outcome is the result of a completed or failed turn.
type Outcome struct {
	Content      string
	Phase        Phase
	ToolsUsed    []string
	Workflow     *Assessment
	Summary      string
	InputTokens  int
	OutputTokens int
}

// Runner drives the per-turn state machine against a provider.
type Runner struct {
	provider      providers.Provider
	logger        *slog.Logger
	maxIterations int
}

// NewRunner creates a runner.
func NewRunner(provider providers.Provider, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		provider:      provider,
		logger:        logger.With("component", "agent"),
		maxIterations: DefaultMaxIterations,
	}
}

// Run executes one turn. Tool failures are fed back to the model and never
// fail the turn; fatal kinds (upstream, timeout, storage) return an error
// alongside whatever content accumulated.
func (r *Runner) Run(ctx context.Context, in RunInput) (*Outcome, error) {
	state := newTurnState()
	state.advance(PhasePlanning)

	startedAt := in.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	system, messages := buildConversation(in.Bundle, in.Agent.SystemPrompt)
	outcome := &Outcome{}

	if in.Agent.Workflow != nil {
		assessment := r.runPreStages(in, startedAt)
		outcome.Workflow = &assessment
		system += "\n\n" + assessment.ResolutionInstructions()
	}

	var content strings.Builder
	for iteration := 0; iteration < r.maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			state.advance(PhaseError)
			return r.finish(outcome, state, content.String()),
				errs.Wrap(errs.KindCancelled, "turn cancelled", err)
		}

		req := &providers.Request{
			Model:     in.Agent.Model,
			System:    system,
			Messages:  messages,
			MaxTokens: in.Agent.MaxTokens,
		}
		if r.provider.SupportsTools() {
			req.Tools = in.Signatures
		}

		chunks, err := r.provider.Complete(ctx, req)
		if err != nil {
			state.advance(PhaseError)
			return r.finish(outcome, state, content.String()), err
		}

		var roundText strings.Builder
		var toolCalls []providers.ToolCall
		var streamErr error
		for chunk := range chunks {
			switch {
			case chunk.Error != nil:
				streamErr = chunk.Error
			case chunk.ToolCall != nil:
				toolCalls = append(toolCalls, *chunk.ToolCall)
			case chunk.Text != "":
				roundText.WriteString(chunk.Text)
				content.WriteString(chunk.Text)
				in.Sink.Token(chunk.Text)
			}
			if chunk.Done {
				outcome.InputTokens += chunk.InputTokens
				outcome.OutputTokens += chunk.OutputTokens
			}
		}
		if streamErr != nil {
			state.advance(PhaseError)
			return r.finish(outcome, state, content.String()), streamErr
		}

		if len(toolCalls) == 0 {
			state.advance(PhaseGenerating)
			break
		}

		// Tool round: execute each call, feed results back, plan again.
		var results []providers.ToolResult
		for _, call := range toolCalls {
			state.advance(PhaseToolCall)
			state.advance(PhaseToolWait)
			results = append(results, r.runTool(ctx, in, call, state))
			state.advance(PhasePlanning)
		}
		messages = append(messages,
			providers.Message{Role: "assistant", Content: roundText.String(), ToolCalls: toolCalls},
			providers.Message{Role: "user", ToolResults: results},
		)
	}

	if state.phase == PhasePlanning {
		// Iteration cap reached with the model still asking for tools.
		state.advance(PhaseGenerating)
	}
	state.advance(PhaseDone)

	if in.Agent.Workflow != nil {
		in.Sink.Status(StageSummary)
		outcome.Summary = Summarize(content.String())
	}
	return r.finish(outcome, state, content.String()), nil
}

// runTool enforces the agent's tool subset, then delegates to the pipeline's
// tool runner. Failures come back as error results, never as turn errors.
func (r *Runner) runTool(ctx context.Context, in RunInput, call providers.ToolCall, state *turnState) providers.ToolResult {
	if !in.Agent.AllowsTool(call.Name) {
		r.logger.Warn("agent requested tool outside its subset",
			"agent", in.Agent.Name, "tool", call.Name)
		return providers.ToolResult{
			ToolCallID: call.ID,
			Content:    "tool " + call.Name + " is not available to this agent",
			IsError:    true,
		}
	}
	state.toolsUsed = append(state.toolsUsed, call.Name)
	return in.Tools(ctx, call)
}

// runPreStages walks the agency stages ahead of resolution, emitting one
// status event per stage.
func (r *Runner) runPreStages(in RunInput, startedAt time.Time) Assessment {
	in.Sink.Status(StageIntake)
	userText := lastUserContent(in.Bundle)

	in.Sink.Status(StageSentiment)
	in.Sink.Status(StageClassification)
	assessment := in.Agent.Workflow.Assess(userText, time.Since(startedAt))

	if assessment.Escalated {
		in.Sink.Status(StageEscalation)
	} else {
		in.Sink.Status(StageResolution)
	}
	return assessment
}

func (r *Runner) finish(outcome *Outcome, state *turnState, content string) *Outcome {
	outcome.Content = content
	outcome.Phase = state.phase
	outcome.ToolsUsed = state.toolsUsed
	return outcome
}

// buildConversation folds the bundle's system entries into a single system
// prompt led by the agent persona, and maps the rest to provider messages.
func buildConversation(bundle *models.ContextBundle, persona string) (string, []providers.Message) {
	var system []string
	if persona != "" {
		system = append(system, persona)
	}

	var messages []providers.Message
	for _, m := range bundle.Messages {
		switch m.Role {
		case models.MessageSystem:
			system = append(system, m.Content)
		case models.MessageAssistant:
			messages = append(messages, providers.Message{Role: "assistant", Content: m.Content})
		default:
			messages = append(messages, providers.Message{Role: "user", Content: m.Content})
		}
	}
	return strings.Join(system, "\n\n"), messages
}

func lastUserContent(bundle *models.ContextBundle) string {
	for i := len(bundle.Messages) - 1; i >= 0; i-- {
		if bundle.Messages[i].Role == models.MessageUser {
			return bundle.Messages[i].Content
		}
	}
	return ""
}
