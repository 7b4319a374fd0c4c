// Package web is the HTTP surface: REST endpoints over the store and
// registry, the turn endpoints over the pipeline, and the SSE stream.
package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/switchboard/internal/auth"
	"github.com/haasonsaas/switchboard/internal/memory"
	"github.com/haasonsaas/switchboard/internal/observability"
	"github.com/haasonsaas/switchboard/internal/pipeline"
	"github.com/haasonsaas/switchboard/internal/ratelimit"
	"github.com/haasonsaas/switchboard/internal/routing"
	"github.com/haasonsaas/switchboard/internal/sessions"
	"github.com/haasonsaas/switchboard/internal/store"
)

// Config holds web server configuration.
type Config struct {
	// MaxBodyBytes caps request bodies. Default: 64 KiB
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
	// AllowHardDelete enables the admin cascade delete behind ?hard=true.
	AllowHardDelete bool `yaml:"allow_hard_delete"`
	// ReadHeaderTimeout for the http.Server.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

// DefaultConfig returns the default web configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:      64 << 10,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Server translates HTTP calls into pipeline and store operations.
type Server struct {
	config   Config
	pipeline *pipeline.Pipeline
	registry *sessions.Registry
	store    store.Store
	router   *routing.Router
	gateway  memory.Gateway
	limiter  *ratelimit.Limiter
	csrf     *auth.CSRFService
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// Options carries the server collaborators.
type Options struct {
	Config   Config
	Pipeline *pipeline.Pipeline
	Registry *sessions.Registry
	Store    store.Store
	Router   *routing.Router
	Gateway  memory.Gateway
	Limiter  *ratelimit.Limiter
	CSRF     *auth.CSRFService
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// NewServer creates the HTTP surface. A nil limiter disables rate limiting;
// a nil or secret-less CSRF service disables the token check.
func NewServer(opts Options) *Server {
	defaults := DefaultConfig()
	if opts.Config.MaxBodyBytes <= 0 {
		opts.Config.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if opts.Config.ReadHeaderTimeout <= 0 {
		opts.Config.ReadHeaderTimeout = defaults.ReadHeaderTimeout
	}
	if opts.Gateway == nil {
		opts.Gateway = memory.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		config:   opts.Config,
		pipeline: opts.Pipeline,
		registry: opts.Registry,
		store:    opts.Store,
		router:   opts.Router,
		gateway:  opts.Gateway,
		limiter:  opts.Limiter,
		csrf:     opts.CSRF,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With("component", "web"),
	}
}

// Handler builds the route table with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chats", s.handleCreateChat)
	mux.HandleFunc("GET /api/chats", s.handleListChats)
	mux.HandleFunc("GET /api/chats/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/chats/{id}/messages", s.handleAppendMessage)
	mux.HandleFunc("DELETE /api/chats/{id}", s.handleDeleteChat)
	mux.HandleFunc("PATCH /api/chats/{id}/read", s.handleMarkRead)
	mux.HandleFunc("GET /api/chats/{id}/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/chats/{id}/settings", s.handleUpdateSettings)

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/chat/stream", s.handleChatStream)

	mux.HandleFunc("POST /api/memory/cross-session", s.handleMemoryQuery)
	mux.HandleFunc("GET /api/slash-commands", s.handleSlashCommands)
	mux.HandleFunc("GET /api/csrf", s.handleCSRFToken)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	handler = s.csrfMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)
	return handler
}
