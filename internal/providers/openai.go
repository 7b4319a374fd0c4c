package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/switchboard/internal/errs"
	"github.com/haasonsaas/switchboard/internal/retry"
	"github.com/haasonsaas/switchboard/internal/tools"
)

const defaultOpenAIModel = openai.GPT4o

// OpenAI implements Provider against the OpenAI chat completions API.
type OpenAI struct {
	client       *openai.Client
	defaultModel string
	retryConfig  retry.Config
}

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	// APIKey is required.
	APIKey string
	// BaseURL overrides the API endpoint, for proxies and tests.
	BaseURL string
	// DefaultModel is used when the request does not name one.
	DefaultModel string
	// Retry overrides the single-retry upstream policy.
	Retry retry.Config
}

// NewOpenAI creates the provider.
func NewOpenAI(config OpenAIConfig) (*OpenAI, error) {
	if config.APIKey == "" {
		return nil, errs.New(errs.KindValidation, "openai: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaultOpenAIModel
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = retry.Upstream()
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if strings.TrimSpace(config.BaseURL) != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAI{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: config.DefaultModel,
		retryConfig:  config.Retry,
	}, nil
}

func (p *OpenAI) Name() string        { return "openai" }
func (p *OpenAI) SupportsTools() bool { return true }

// Complete sends the request and streams chunks.
func (p *OpenAI) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	stream, result := retry.DoWithValue(ctx, p.retryConfig, func() (*openai.ChatCompletionStream, error) {
		s, err := p.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return nil, classifyOpenAIError(err)
		}
		return s, nil
	})
	if result.Err != nil {
		return nil, result.Err
	}

	chunks := make(chan *Chunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

// processStream converts the chat stream into chunks. Tool calls arrive as
// argument fragments spread over multiple deltas, keyed by index, and are
// emitted once the finish reason or EOF confirms them complete.
func (p *OpenAI) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *Chunk) {
	defer close(chunks)
	defer stream.Close()

	pending := make(map[int]*ToolCall)
	pendingArgs := make(map[int]*strings.Builder)

	flushTools := func() {
		for i := 0; i < len(pending); i++ {
			tc, ok := pending[i]
			if !ok || tc.ID == "" || tc.Name == "" {
				continue
			}
			args := pendingArgs[i].String()
			if args == "" {
				args = "{}"
			}
			tc.Input = json.RawMessage(args)
			chunks <- &Chunk{ToolCall: tc}
		}
		pending = make(map[int]*ToolCall)
		pendingArgs = make(map[int]*strings.Builder)
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &Chunk{Error: errs.Wrap(errs.KindCancelled, "openai call cancelled", ctx.Err()), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flushTools()
				chunks <- &Chunk{Done: true}
				return
			}
			chunks <- &Chunk{Error: classifyOpenAIError(err), Done: true}
			return
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			chunks <- &Chunk{Text: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if pending[index] == nil {
				pending[index] = &ToolCall{}
				pendingArgs[index] = &strings.Builder{}
			}
			if tc.ID != "" {
				pending[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				pending[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				pendingArgs[index].WriteString(tc.Function.Arguments)
			}
		}
		if choice.FinishReason == openai.FinishReasonToolCalls {
			flushTools()
		}
	}
}

func convertOpenAIMessages(messages []Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		role := msg.Role
		if role == "" {
			role = openai.ChatMessageRoleUser
		}

		out := openai.ChatCompletionMessage{Role: role, Content: msg.Content}
		if len(msg.ToolCalls) > 0 {
			out.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				out.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				}
			}
		}
		if out.Content != "" || len(out.ToolCalls) > 0 {
			result = append(result, out)
		}

		// OpenAI wants each tool result as its own tool-role message.
		for _, tr := range msg.ToolResults {
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    tr.Content,
				ToolCallID: tr.ToolCallID,
			})
		}
	}
	return result
}

func convertOpenAITools(signatures []tools.Signature) []openai.Tool {
	result := make([]openai.Tool, len(signatures))
	for i, sig := range signatures {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        sig.Name,
				Description: sig.Description,
				Parameters:  sig.Schema,
			},
		}
	}
	return result
}

func classifyOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	var already *errs.Error
	if errors.As(err, &already) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return errs.Wrap(errs.KindRateLimited, "openai rate limited", err)
		case apiErr.HTTPStatusCode == 408 || apiErr.HTTPStatusCode == 504:
			return errs.Wrap(errs.KindTimeout, "openai timeout", err)
		case apiErr.HTTPStatusCode >= 500:
			return errs.Wrap(errs.KindUpstream, "openai server error", err)
		default:
			return errs.Wrap(errs.KindValidation, "openai rejected request", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.KindTimeout, "openai deadline exceeded", err)
	}
	if errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.KindCancelled, "openai call cancelled", err)
	}
	return errs.Wrap(errs.KindUpstream, "openai transport error", err)
}
