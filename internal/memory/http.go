package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/haasonsaas/switchboard/internal/errs"
)

// HTTPGateway talks to a remote memory service over JSON/HTTP.
type HTTPGateway struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// HTTPOption configures an HTTPGateway.
type HTTPOption func(*HTTPGateway)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(g *HTTPGateway) { g.httpClient = client }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(g *HTTPGateway) { g.logger = logger }
}

// NewHTTPGateway creates a gateway for the given service base URL.
func NewHTTPGateway(baseURL, token string, opts ...HTTPOption) *HTTPGateway {
	g := &HTTPGateway{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     slog.Default().With("component", "memory"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AddTurn posts a completed exchange.
func (g *HTTPGateway) AddTurn(ctx context.Context, turn Turn) error {
	return g.do(ctx, http.MethodPost, "/memory/turns", turn, nil)
}

// QueryRelevant fetches snippets for a query, scoped to the user.
func (g *HTTPGateway) QueryRelevant(ctx context.Context, userID, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 3
	}
	req := map[string]any{"user_id": userID, "query": query, "limit": limit}
	var out struct {
		Entries []Entry `json:"entries"`
	}
	if err := g.do(ctx, http.MethodPost, "/memory/query", req, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// DeleteSession purges session memory.
func (g *HTTPGateway) DeleteSession(ctx context.Context, sessionID string) error {
	return g.do(ctx, http.MethodDelete, "/memory/sessions/"+url.PathEscape(sessionID), nil, nil)
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return errs.Wrap(errs.KindUpstream, "memory request encode", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return errs.Wrap(errs.KindUpstream, "memory request", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindUpstream, "memory request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errs.New(errs.KindUpstream, fmt.Sprintf("memory: status %d: %s", resp.StatusCode, msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errs.Wrap(errs.KindUpstream, "memory response decode", err)
		}
	}
	return nil
}
