package models

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"time"
)

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionInactive SessionStatus = "inactive"
	SessionArchived SessionStatus = "archived"
	SessionDeleted  SessionStatus = "deleted"
)

// Valid returns true for a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionInactive, SessionArchived, SessionDeleted:
		return true
	}
	return false
}

// Session represents a conversation thread. Sessions are created on the first
// user turn for a fresh id or explicitly over HTTP, and are mutated only by
// their exclusive writer.
type Session struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id,omitempty"`
	Title          string         `json:"title,omitempty"`
	Status         SessionStatus  `json:"status"`
	MessageCount   int            `json:"message_count"`
	UnreadCount    int            `json:"unread_count"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
}

// SessionSettings are the per-session routing preferences persisted in the
// session metadata bag.
type SessionSettings struct {
	AgentLock       bool   `json:"agent_lock"`
	AgentPreference string `json:"agent_preference,omitempty"`
	LastAgent       string `json:"last_agent,omitempty"`
	CrossSession    bool   `json:"cross_session"`
}

// Metadata keys for session settings.
const (
	MetaAgentLock       = "agent_lock"
	MetaAgentPreference = "agent_preference"
	MetaLastAgent       = "last_agent"
	MetaCrossSession    = "cross_session"
)

// Settings extracts the routing settings from the session metadata.
// Unknown or missing keys are tolerated.
func (s *Session) Settings() SessionSettings {
	var out SessionSettings
	if s == nil || s.Metadata == nil {
		return out
	}
	if v, ok := s.Metadata[MetaAgentLock].(bool); ok {
		out.AgentLock = v
	}
	if v, ok := s.Metadata[MetaAgentPreference].(string); ok {
		out.AgentPreference = v
	}
	if v, ok := s.Metadata[MetaLastAgent].(string); ok {
		out.LastAgent = v
	}
	if v, ok := s.Metadata[MetaCrossSession].(bool); ok {
		out.CrossSession = v
	}
	return out
}

// MetadataPatch returns the metadata entries for these settings, suitable for
// a shallow store-level merge.
func (s SessionSettings) MetadataPatch() map[string]any {
	return map[string]any{
		MetaAgentLock:       s.AgentLock,
		MetaAgentPreference: s.AgentPreference,
		MetaLastAgent:       s.LastAgent,
		MetaCrossSession:    s.CrossSession,
	}
}

var sessionIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// ValidSessionID reports whether id has the opaque 32-char hex shape.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// NewSessionID generates a fresh opaque session id.
func NewSessionID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err) // crypto/rand failure is unrecoverable
	}
	return hex.EncodeToString(buf[:])
}
