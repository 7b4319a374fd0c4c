// Package crm is a narrow client for the CRM service used by the crm agent
// and its tools. It exposes only the lookups the tools need.
package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/haasonsaas/switchboard/internal/errs"
)

// Contact is a CRM contact record.
type Contact struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Company string `json:"company,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// Deal is a CRM deal record.
type Deal struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Stage    string  `json:"stage"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
	Contact  string  `json:"contact_id,omitempty"`
}

// Client calls the CRM HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a CRM client for the given base URL and bearer token.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default().With("component", "crm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchContacts looks up contacts matching the query.
func (c *Client) SearchContacts(ctx context.Context, query string, limit int) ([]Contact, error) {
	if limit <= 0 {
		limit = 5
	}
	var out struct {
		Contacts []Contact `json:"contacts"`
	}
	params := url.Values{"q": {query}, "limit": {strconv.Itoa(limit)}}
	if err := c.getJSON(ctx, "/contacts/search?"+params.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Contacts, nil
}

// GetDeal fetches one deal by id.
func (c *Client) GetDeal(ctx context.Context, id string) (*Deal, error) {
	var deal Deal
	if err := c.getJSON(ctx, "/deals/"+url.PathEscape(id), &deal); err != nil {
		return nil, err
	}
	return &deal, nil
}

// SearchDeals looks up deals matching the query.
func (c *Client) SearchDeals(ctx context.Context, query string, limit int) ([]Deal, error) {
	if limit <= 0 {
		limit = 5
	}
	var out struct {
		Deals []Deal `json:"deals"`
	}
	params := url.Values{"q": {query}, "limit": {strconv.Itoa(limit)}}
	if err := c.getJSON(ctx, "/deals/search?"+params.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Deals, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errs.Wrap(errs.KindUpstream, "crm request", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindUpstream, "crm request", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errs.New(errs.KindNotFound, "crm: not found")
	case resp.StatusCode == http.StatusTooManyRequests:
		return errs.New(errs.KindRateLimited, "crm: rate limited")
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errs.New(errs.KindUpstream, fmt.Sprintf("crm: status %d: %s", resp.StatusCode, body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrap(errs.KindUpstream, "crm response decode", err)
	}
	return nil
}
