package providers

import (
	"context"
	"sync"
)

// MockReply is one scripted Complete response.
type MockReply struct {
	// ToolCalls are emitted before Text, matching real tool-use turns.
	ToolCalls []ToolCall
	// Text is streamed in small chunks.
	Text string
	// Err terminates the stream instead of Done.
	Err error
}

// Mock is a scripted provider for tests and the mock backend mode. Replies
// are consumed in order; once the script is exhausted every call produces a
// deterministic reply derived from the last user message.
//
// Thread Safety:
// Mock is safe for concurrent use.
type Mock struct {
	mu       sync.Mutex
	script   []MockReply
	requests []*Request

	// ChunkSize controls how many runes each token chunk carries. Default: 8
	ChunkSize int
}

// NewMock creates a mock provider with an optional script.
func NewMock(script ...MockReply) *Mock {
	return &Mock{script: script, ChunkSize: 8}
}

func (m *Mock) Name() string        { return "mock" }
func (m *Mock) SupportsTools() bool { return true }

// Requests returns a copy of every request seen, for assertions.
func (m *Mock) Requests() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Enqueue appends replies to the script.
func (m *Mock) Enqueue(replies ...MockReply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, replies...)
}

// Complete pops the next scripted reply and streams it.
func (m *Mock) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var reply MockReply
	if len(m.script) > 0 {
		reply = m.script[0]
		m.script = m.script[1:]
	} else {
		reply = MockReply{Text: defaultMockText(req)}
	}
	chunkSize := m.ChunkSize
	m.mu.Unlock()
	if chunkSize <= 0 {
		chunkSize = 8
	}

	chunks := make(chan *Chunk)
	go func() {
		defer close(chunks)

		for i := range reply.ToolCalls {
			tc := reply.ToolCalls[i]
			select {
			case chunks <- &Chunk{ToolCall: &tc}:
			case <-ctx.Done():
				chunks <- &Chunk{Error: ctx.Err(), Done: true}
				return
			}
		}
		runes := []rune(reply.Text)
		for start := 0; start < len(runes); start += chunkSize {
			end := start + chunkSize
			if end > len(runes) {
				end = len(runes)
			}
			select {
			case chunks <- &Chunk{Text: string(runes[start:end])}:
			case <-ctx.Done():
				chunks <- &Chunk{Error: ctx.Err(), Done: true}
				return
			}
		}
		if reply.Err != nil {
			chunks <- &Chunk{Error: reply.Err, Done: true}
			return
		}
		chunks <- &Chunk{Done: true, OutputTokens: len(runes) / 4}
	}()
	return chunks, nil
}

func defaultMockText(req *Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" && req.Messages[i].Content != "" {
			content := req.Messages[i].Content
			if len(content) > 80 {
				content = content[:80]
			}
			return "Mock reply to: " + content
		}
	}
	return "Mock reply."
}
