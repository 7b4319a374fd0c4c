package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/switchboard/internal/errs"
	"github.com/haasonsaas/switchboard/internal/retry"
	"github.com/haasonsaas/switchboard/internal/tools"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// Anthropic implements Provider against the Anthropic Messages API.
//
// Thread Safety:
// Anthropic is safe for concurrent use; each Complete call creates an
// independent stream and goroutine.
type Anthropic struct {
	client       anthropic.Client
	defaultModel string
	retryConfig  retry.Config
}

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	// APIKey is required.
	APIKey string
	// BaseURL overrides the API endpoint, for proxies and tests.
	BaseURL string
	// DefaultModel is used when the request does not name one.
	DefaultModel string
	// Retry overrides the single-retry upstream policy.
	Retry retry.Config
}

// NewAnthropic creates the provider.
func NewAnthropic(config AnthropicConfig) (*Anthropic, error) {
	if config.APIKey == "" {
		return nil, errs.New(errs.KindValidation, "anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaultAnthropicModel
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = retry.Upstream()
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Anthropic{
		client:       anthropic.NewClient(options...),
		defaultModel: config.DefaultModel,
		retryConfig:  config.Retry,
	}, nil
}

func (p *Anthropic) Name() string        { return "anthropic" }
func (p *Anthropic) SupportsTools() bool { return true }

// Complete sends the request and streams chunks. Creation failures are
// retried per the upstream policy before the error chunk is emitted.
func (p *Anthropic) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *Chunk)
	go func() {
		defer close(chunks)

		stream, result := retry.DoWithValue(ctx, p.retryConfig, func() (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
			s := p.client.Messages.NewStreaming(ctx, params)
			if err := s.Err(); err != nil {
				s.Close()
				return nil, classifyAnthropicError(err)
			}
			return s, nil
		})
		if result.Err != nil {
			chunks <- &Chunk{Error: classifyAnthropicError(result.Err), Done: true}
			return
		}
		defer stream.Close()
		p.processStream(stream, chunks)
	}()
	return chunks, nil
}

func (p *Anthropic) buildParams(req *Request) (anthropic.MessageNewParams, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(effectiveMaxTokens(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		toolParams, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = toolParams
	}
	return params, nil
}

// processStream converts Messages API events into chunks. Tool input arrives
// as JSON fragments across delta events and is assembled before the tool call
// chunk is emitted.
func (p *Anthropic) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *Chunk) {
	var currentTool *ToolCall
	var toolInput strings.Builder
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				inputTokens = int(start.Message.Usage.InputTokens)
			}

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				use := block.AsToolUse()
				currentTool = &ToolCall{ID: use.ID, Name: use.Name}
				toolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &Chunk{Text: delta.Text}
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if currentTool != nil {
				input := toolInput.String()
				if input == "" {
					input = "{}"
				}
				currentTool.Input = json.RawMessage(input)
				chunks <- &Chunk{ToolCall: currentTool}
				currentTool = nil
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				outputTokens = int(delta.Usage.OutputTokens)
			}

		case "message_stop":
			chunks <- &Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
			return

		case "error":
			chunks <- &Chunk{Error: errs.New(errs.KindUpstream, "anthropic stream error"), Done: true}
			return
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &Chunk{Error: classifyAnthropicError(err), Done: true}
		return
	}
	chunks <- &Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
}

func convertAnthropicMessages(messages []Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		// System entries ride in params.System, not the message list.
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]interface{}
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, errs.Wrap(errs.KindValidation, "invalid tool call input", err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertAnthropicTools(signatures []tools.Signature) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, sig := range signatures {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(sig.Schema, &schema); err != nil {
			return nil, errs.Wrap(errs.KindValidation, "invalid schema for tool "+sig.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, sig.Name)
		if param.OfTool == nil {
			return nil, errs.New(errs.KindValidation, "invalid tool definition for "+sig.Name)
		}
		param.OfTool.Description = anthropic.String(sig.Description)
		result = append(result, param)
	}
	return result, nil
}

// classifyAnthropicError maps SDK errors onto the error taxonomy so the
// retry policy and the pipeline treat them uniformly.
func classifyAnthropicError(err error) error {
	if err == nil {
		return nil
	}
	var already *errs.Error
	if errors.As(err, &already) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return errs.Wrap(errs.KindRateLimited, "anthropic rate limited", err)
		case apiErr.StatusCode == 408 || apiErr.StatusCode == 504:
			return errs.Wrap(errs.KindTimeout, "anthropic timeout", err)
		case apiErr.StatusCode >= 500:
			return errs.Wrap(errs.KindUpstream, "anthropic server error", err)
		default:
			return errs.Wrap(errs.KindValidation, "anthropic rejected request", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.KindTimeout, "anthropic deadline exceeded", err)
	}
	if errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.KindCancelled, "anthropic call cancelled", err)
	}
	return errs.Wrap(errs.KindUpstream, "anthropic transport error", err)
}
