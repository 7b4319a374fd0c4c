package web

import (
	"net/http"
	"time"

	"github.com/haasonsaas/switchboard/internal/errs"
	"github.com/haasonsaas/switchboard/internal/store"
	"github.com/haasonsaas/switchboard/pkg/models"
)

type createChatRequest struct {
	Title          string `json:"title"`
	InitialMessage string `json:"initial_message"`
}

type createChatResponse struct {
	SessionID    string    `json:"session_id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	session, err := s.registry.GetOrCreate(r.Context(), "", r.Header.Get("X-User-ID"), req.Title)
	if err != nil {
		writeErr(w, err)
		return
	}
	if req.InitialMessage != "" {
		if _, err := s.store.AppendMessage(r.Context(), session.ID, models.MessageUser, req.InitialMessage, nil); err != nil {
			writeErr(w, err)
			return
		}
		session.MessageCount++
	}

	jsonResponse(w, http.StatusCreated, createChatResponse{
		SessionID:    session.ID,
		Title:        session.Title,
		CreatedAt:    session.CreatedAt,
		MessageCount: session.MessageCount,
	})
}

type listChatsResponse struct {
	Sessions []*models.Session `json:"sessions"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := intParam(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	opts := store.ListOptions{
		UserID: r.Header.Get("X-User-ID"),
		Limit:  limit,
		Offset: offset,
	}
	if status := r.URL.Query().Get("status"); status != "" {
		parsed := models.SessionStatus(status)
		if !parsed.Valid() {
			writeErr(w, errs.New(errs.KindValidation, "unknown status filter: "+status))
			return
		}
		opts.Status = parsed
	}

	list, err := s.registry.List(r.Context(), opts)
	if err != nil {
		writeErr(w, err)
		return
	}
	if list == nil {
		list = []*models.Session{}
	}
	jsonResponse(w, http.StatusOK, listChatsResponse{Sessions: list, Limit: limit, Offset: offset})
}

type messagesResponse struct {
	SessionID string            `json:"session_id"`
	Messages  []*models.Message `json:"messages"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.registry.Get(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}

	limit := intParam(r, "limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	offset := intParam(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	order := store.SortAsc
	if r.URL.Query().Get("order") == "desc" {
		order = store.SortDesc
	}

	msgs, err := s.store.ReadMessages(r.Context(), id, store.ReadOptions{
		Limit:  limit,
		Offset: offset,
		Order:  order,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	jsonResponse(w, http.StatusOK, messagesResponse{SessionID: id, Messages: msgs, Limit: limit, Offset: offset})
}

type appendMessageRequest struct {
	Type     string         `json:"type"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req appendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	typ := models.MessageType(req.Type)
	if req.Type == "" {
		typ = models.MessageUser
	}
	if !typ.Valid() {
		writeErr(w, errs.New(errs.KindValidation, "unknown message type: "+req.Type))
		return
	}
	if req.Content == "" {
		writeErr(w, errs.New(errs.KindValidation, "content is required"))
		return
	}

	if _, err := s.registry.Get(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	msg, err := s.store.AppendMessage(r.Context(), id, typ, req.Content, req.Metadata)
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, msg)
}

// handleDeleteChat soft-deletes by default. ?hard=true cascades messages and
// tool executions, and purges the memory service, when the admin flag is on.
func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	if r.URL.Query().Get("hard") == "true" {
		if !s.config.AllowHardDelete {
			jsonError(w, http.StatusForbidden, string(errs.KindAuth), "hard delete is disabled")
			return
		}
		if err := s.registry.HardDelete(ctx, id); err != nil {
			writeErr(w, err)
			return
		}
		if err := s.gateway.DeleteSession(ctx, id); err != nil {
			s.logger.Warn("memory purge failed", "session_id", id, "error", err)
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if _, err := s.registry.Get(ctx, id); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.registry.SoftDelete(ctx, id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.registry.Get(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.registry.MarkRead(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.registry.Settings(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	current, err := s.registry.Settings(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	// Decode over the current values so omitted fields keep their setting.
	if err := decodeJSON(r, &current); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.registry.UpdateSettings(r.Context(), id, current); err != nil {
		writeErr(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, current)
}
