package web

import (
	"context"
	"net/http"
	"time"

	"github.com/haasonsaas/switchboard/internal/errs"
	"github.com/haasonsaas/switchboard/internal/memory"
	"github.com/haasonsaas/switchboard/internal/pipeline"
	"github.com/haasonsaas/switchboard/internal/routing"
	"github.com/haasonsaas/switchboard/internal/stream"
	"github.com/haasonsaas/switchboard/pkg/models"
)

type turnRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type turnResponse struct {
	SessionID string         `json:"session_id"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Status    string         `json:"status"`
}

// handleChat runs a turn to completion and returns the assistant message in
// one JSON response. It shares the pipeline with the streaming endpoint
// through a buffering sink.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if !s.allowTurn(w, r, req.SessionID) {
		return
	}

	sink := stream.NewBuffer()
	result, err := s.pipeline.Run(r.Context(), pipeline.TurnRequest{
		SessionID: req.SessionID,
		UserID:    r.Header.Get("X-User-ID"),
		Message:   req.Message,
	}, sink)
	if err != nil {
		writeErr(w, err)
		return
	}

	status := http.StatusOK
	if result.Status == models.TurnStatusError {
		if meta, ok := result.Assistant.Metadata[models.MetaTurnError].(map[string]any); ok {
			if kind, ok := meta["kind"].(string); ok {
				status = errs.Kind(kind).HTTPStatus()
			}
		}
	}
	jsonResponse(w, status, turnResponse{
		SessionID: result.SessionID,
		Message:   result.Assistant.Content,
		Metadata:  result.Assistant.Metadata,
		Status:    result.Status,
	})
}

// handleChatStream runs a turn with events streamed over SSE. Once the
// stream opens, failures surface as a terminal error event, never as a bare
// HTTP status.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if !s.allowTurn(w, r, req.SessionID) {
		return
	}

	writer, err := stream.NewSSEWriter(w)
	if err != nil {
		writeErr(w, err)
		return
	}

	if _, err := s.pipeline.Run(r.Context(), pipeline.TurnRequest{
		SessionID: req.SessionID,
		UserID:    r.Header.Get("X-User-ID"),
		Message:   req.Message,
	}, writer); err != nil && !writer.Closed() {
		kind := errs.KindOf(err)
		_ = writer.Send(models.StreamEvent{
			Type:    models.EventError,
			Payload: models.ErrorPayload{Code: string(kind), Message: err.Error()},
		})
	}
}

type memoryQueryRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type memoryQueryResponse struct {
	Entries []memory.Entry `json:"entries"`
}

// handleMemoryQuery serves ranked cross-session memory snippets for a user.
func (s *Server) handleMemoryQuery(w http.ResponseWriter, r *http.Request) {
	var req memoryQueryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeErr(w, errs.New(errs.KindValidation, "X-User-ID header is required"))
		return
	}
	if req.Query == "" {
		writeErr(w, errs.New(errs.KindValidation, "query is required"))
		return
	}
	if req.Limit <= 0 || req.Limit > 50 {
		req.Limit = 10
	}

	entries, err := s.gateway.QueryRelevant(r.Context(), userID, req.Query, req.Limit)
	if err != nil {
		writeErr(w, errs.Wrap(errs.KindDegraded, "memory query failed", err))
		return
	}
	if entries == nil {
		entries = []memory.Entry{}
	}
	jsonResponse(w, http.StatusOK, memoryQueryResponse{Entries: entries})
}

type slashCommandsResponse struct {
	Commands []routing.SlashCommand `json:"commands"`
}

func (s *Server) handleSlashCommands(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, slashCommandsResponse{Commands: s.router.Slash().List()})
}

func (s *Server) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if !s.csrf.Enabled() {
		jsonResponse(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	token, err := s.csrf.Mint(clientKey(r))
	if err != nil {
		writeErr(w, errs.Wrap(errs.KindAuth, "mint csrf token", err))
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"enabled": true, "token": token})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": "unreachable"})
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
