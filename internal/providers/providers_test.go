package providers

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/switchboard/internal/errs"
	"github.com/haasonsaas/switchboard/internal/tools"
)

func collect(t *testing.T, chunks <-chan *Chunk) (text string, toolCalls []ToolCall, err error) {
	t.Helper()
	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return sb.String(), toolCalls, chunk.Error
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		sb.WriteString(chunk.Text)
		if chunk.Done {
			break
		}
	}
	return sb.String(), toolCalls, nil
}

func TestMockStreamsScriptedReply(t *testing.T) {
	m := NewMock(MockReply{Text: "hello from the script"})
	chunks, err := m.Complete(context.Background(), &Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	text, calls, err := collect(t, chunks)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if text != "hello from the script" {
		t.Errorf("got %q", text)
	}
	if len(calls) != 0 {
		t.Errorf("unexpected tool calls: %+v", calls)
	}
}

func TestMockEmitsToolCallsBeforeText(t *testing.T) {
	m := NewMock(MockReply{
		ToolCalls: []ToolCall{{ID: "t1", Name: "calculator", Input: json.RawMessage(`{"expression":"1+1"}`)}},
		Text:      "the answer is 2",
	})
	chunks, err := m.Complete(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	var order []string
	for chunk := range chunks {
		switch {
		case chunk.ToolCall != nil:
			order = append(order, "tool")
		case chunk.Text != "":
			order = append(order, "text")
		}
	}
	if len(order) < 2 || order[0] != "tool" {
		t.Errorf("tool call must precede text, got %v", order)
	}
}

func TestMockDefaultReplyEchoesUser(t *testing.T) {
	m := NewMock()
	chunks, _ := m.Complete(context.Background(), &Request{
		Messages: []Message{{Role: "user", Content: "ping"}},
	})
	text, _, err := collect(t, chunks)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if !strings.Contains(text, "ping") {
		t.Errorf("default reply should reference the user text, got %q", text)
	}
}

func TestMockRecordsRequests(t *testing.T) {
	m := NewMock(MockReply{Text: "a"}, MockReply{Text: "b"})
	for i := 0; i < 2; i++ {
		chunks, _ := m.Complete(context.Background(), &Request{System: "sys"})
		collect(t, chunks)
	}
	if got := len(m.Requests()); got != 2 {
		t.Errorf("expected 2 recorded requests, got %d", got)
	}
}

func TestConvertOpenAIMessages(t *testing.T) {
	msgs := convertOpenAIMessages([]Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "t1", Name: "calc", Input: json.RawMessage(`{}`)}}},
		{Role: "user", ToolResults: []ToolResult{{ToolCallID: "t1", Content: "2"}}},
		{Role: "assistant", Content: "the answer is 2"},
	}, "be brief")

	if msgs[0].Role != openai.ChatMessageRoleSystem || msgs[0].Content != "be brief" {
		t.Errorf("system prompt must lead: %+v", msgs[0])
	}
	if msgs[1].Role != "user" {
		t.Errorf("unexpected second message: %+v", msgs[1])
	}
	if len(msgs[2].ToolCalls) != 1 || msgs[2].ToolCalls[0].Function.Name != "calc" {
		t.Errorf("assistant tool call lost: %+v", msgs[2])
	}
	if msgs[3].Role != openai.ChatMessageRoleTool || msgs[3].ToolCallID != "t1" {
		t.Errorf("tool result must become a tool-role message: %+v", msgs[3])
	}
	if msgs[4].Content != "the answer is 2" {
		t.Errorf("final assistant message lost: %+v", msgs[4])
	}
}

func TestConvertOpenAITools(t *testing.T) {
	out := convertOpenAITools([]tools.Signature{{
		Name:        "calculator",
		Description: "math",
		Schema:      json.RawMessage(`{"type":"object"}`),
	}})
	if len(out) != 1 || out[0].Function.Name != "calculator" {
		t.Fatalf("unexpected tools: %+v", out)
	}
	if out[0].Type != openai.ToolTypeFunction {
		t.Errorf("wrong tool type: %v", out[0].Type)
	}
}

func TestConvertAnthropicMessagesSkipsSystemRole(t *testing.T) {
	msgs, err := convertAnthropicMessages([]Message{
		{Role: "system", Content: "ignored here"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("system entries must not appear in the message list, got %d", len(msgs))
	}
}

func TestConvertAnthropicMessagesRejectsBadToolInput(t *testing.T) {
	_, err := convertAnthropicMessages([]Message{
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "t1", Name: "x", Input: json.RawMessage(`{broken`)}}},
	})
	if errs.KindOf(err) != errs.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestProviderConstructorsRequireKeys(t *testing.T) {
	if _, err := NewAnthropic(AnthropicConfig{}); errs.KindOf(err) != errs.KindValidation {
		t.Errorf("anthropic without key: %v", err)
	}
	if _, err := NewOpenAI(OpenAIConfig{}); errs.KindOf(err) != errs.KindValidation {
		t.Errorf("openai without key: %v", err)
	}
}
