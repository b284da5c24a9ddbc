// Package pulsectl is a command-line client for the pulse HTTP API.
package pulsectl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okian/pulse/internal/domain/ingest"
	"github.com/okian/pulse/internal/domain/model"
)

// DefaultAddr is the API base URL used when neither --addr nor PULSE_URL is set.
const DefaultAddr = "http://localhost:9080"

// Client calls the pulse API.
type Client struct {
	base string
	http *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the transport client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		if d > 0 {
			cl.http = &http.Client{Timeout: d, Transport: cl.http.Transport}
		}
	}
}

// NewClient creates a client for the API at base.
func NewClient(base string, opts ...ClientOption) *Client {
	if base == "" {
		base = DefaultAddr
	}
	c := &Client{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: 2 * time.Minute}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IngestParams selects a synchronous ingestion window.
type IngestParams struct {
	Scope  string    `json:"scope"`
	Since  time.Time `json:"since,omitzero"`
	Until  time.Time `json:"until,omitzero"`
	DryRun bool      `json:"dry_run,omitempty"`
}

// Ingest runs ingestion for a scope and waits for the report.
func (c *Client) Ingest(ctx context.Context, p IngestParams) (ingest.Report, error) {
	var report ingest.Report
	err := c.do(ctx, http.MethodPost, "/ingest/run", p, &report)
	return report, err
}

// Queue submits a cursor-driven ingestion run to the worker pool.
func (c *Client) Queue(ctx context.Context, scope string) error {
	body := map[string]any{"scope": scope, "async": true}
	return c.do(ctx, http.MethodPost, "/ingest/run", body, nil)
}

// Generate asks for the next recommendation in scope.
func (c *Client) Generate(ctx context.Context, scope string) (model.Response, error) {
	var resp model.Response
	err := c.do(ctx, http.MethodPost, "/priority/generate", map[string]string{"scope": scope}, &resp)
	return resp, err
}

// Feedback records the outcome of a recommendation.
func (c *Client) Feedback(ctx context.Context, id string, fb model.Feedback) error {
	body := struct {
		RecommendationID string `json:"recommendation_id"`
		model.Feedback
	}{id, fb}
	return c.do(ctx, http.MethodPost, "/priority/feedback", body, nil)
}

// Stats returns feedback aggregates per weight configuration.
func (c *Client) Stats(ctx context.Context, window time.Duration) ([]model.WeightStats, error) {
	path := "/priority/feedback/stats"
	if window > 0 {
		path += "?window=" + url.QueryEscape(window.String())
	}
	var out struct {
		Stats []model.WeightStats `json:"stats"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Stats, err
}

// Journey returns the active journey of scope.
func (c *Client) Journey(ctx context.Context, scope string) (model.Journey, error) {
	var j model.Journey
	err := c.do(ctx, http.MethodGet, "/journey/state?scope="+url.QueryEscape(scope), nil, &j)
	return j, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			return fmt.Errorf("%w: %s %s: %d", ErrUnexpectedStatus, method, path, resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
