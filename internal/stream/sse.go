// Package stream writes turn events to clients as Server-Sent Events. Each
// event is one "data:" line of JSON followed by a blank line; the stream
// carries exactly one terminal event.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/haasonsaas/switchboard/internal/errs"
	"github.com/haasonsaas/switchboard/pkg/models"
)

// ErrClosed is returned for sends after the terminal event.
var ErrClosed = errs.New(errs.KindValidation, "stream already closed")

// Sink receives turn events. SSEWriter streams them to a client; Buffer
// collects them for the non-streaming endpoint.
type Sink interface {
	Send(event models.StreamEvent) error
}

// SSEWriter streams events over an HTTP response.
//
// Thread Safety:
// SSEWriter serializes sends; the pipeline and tool goroutines may share it.
type SSEWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

// NewSSEWriter prepares the response for event streaming. It fails when the
// response writer cannot flush, since buffered SSE defeats the point.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errs.New(errs.KindValidation, "response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Send writes one event and flushes. After a terminal event the writer
// closes; further sends return ErrClosed.
func (s *SSEWriter) Send(event models.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	data, err := json.Marshal(event)
	if err != nil {
		return errs.Wrap(errs.KindValidation, "encode stream event", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		s.closed = true
		return errs.Wrap(errs.KindCancelled, "client write failed", err)
	}
	s.flusher.Flush()

	if event.Type.Terminal() {
		s.closed = true
	}
	return nil
}

// Closed reports whether a terminal event was sent or the client went away.
func (s *SSEWriter) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Buffer collects events in memory. The non-streaming endpoint replays them
// into a single JSON response.
type Buffer struct {
	mu     sync.Mutex
	events []models.StreamEvent
	closed bool
}

// NewBuffer creates an empty buffer sink.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Send records the event. Terminal events close the buffer.
func (b *Buffer) Send(event models.StreamEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.events = append(b.events, event)
	if event.Type.Terminal() {
		b.closed = true
	}
	return nil
}

// Events returns a copy of everything recorded.
func (b *Buffer) Events() []models.StreamEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.StreamEvent, len(b.events))
	copy(out, b.events)
	return out
}

// Terminal returns the terminal event, if one arrived.
func (b *Buffer) Terminal() (models.StreamEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed || len(b.events) == 0 {
		return models.StreamEvent{}, false
	}
	last := b.events[len(b.events)-1]
	return last, last.Type.Terminal()
}
