// Package linear implements the issue-tracker normalizer over the Linear
// GraphQL API.
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/pulse/internal/config"
	"github.com/okian/pulse/internal/domain/ingest"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
	"github.com/okian/pulse/pkg/protect"
)

// CircuitName identifies the Linear breaker.
const CircuitName = "linear"

const (
	defaultBaseURL  = "https://api.linear.app/graphql"
	defaultPageSize = 50
	defaultMaxPages = 10
	maxErrorBody    = 512
)

// issuesQuery pages issues of one team in ascending updatedAt order.
const issuesQuery = `query Issues($filter: IssueFilter, $first: Int, $after: String) {
  issues(filter: $filter, first: $first, after: $after, sort: [{updatedAt: {order: Ascending}}]) {
    nodes {
      id identifier title url priority createdAt updatedAt
      state { id name type }
      labels { nodes { name } }
      assignee { name }
      team { key }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

// ErrGraphQL wraps errors reported in a GraphQL response body.
var ErrGraphQL = errors.New("linear: graphql error")

// Source fetches team issues.
type Source struct {
	baseURL  string
	apiKey   string
	pageSize int
	maxPages int
	client   *http.Client
	limiter  *rate.Limiter
	guard    *protect.Guard
	log      logger.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) {
		if c != nil {
			s.client = c
		}
	}
}

// WithLimiter sets the outbound request limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(s *Source) { s.limiter = l }
}

// WithGuard sets the protected-call capability.
func WithGuard(g *protect.Guard) Option {
	return func(s *Source) {
		if g != nil {
			s.guard = g
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Source) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a Source from configuration.
func New(cfg config.LinearConfig, opts ...Option) *Source {
	s := &Source{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		pageSize: cfg.PageSize,
		maxPages: cfg.MaxPages,
		client:   &http.Client{},
		guard:    protect.NewGuard(protect.WithTimeout(cfg.Timeout)),
		log:      logger.Nop(),
	}
	if s.baseURL == "" {
		s.baseURL = defaultBaseURL
	}
	if s.pageSize <= 0 {
		s.pageSize = defaultPageSize
	}
	if s.maxPages <= 0 {
		s.maxPages = defaultMaxPages
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Source implements ingest.Normalizer.
func (s *Source) Source() model.Source { return model.SourceTracker }

// Targets returns one target per configured team key.
func (s *Source) Targets(scope config.Scope) []ingest.Target {
	out := make([]ingest.Target, 0, len(scope.Teams))
	for _, team := range scope.Teams {
		out = append(out, ingest.Target{Key: "tracker:" + team, Name: team})
	}
	return out
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type issuesResponse struct {
	Data *struct {
		Issues struct {
			Nodes    []json.RawMessage `json:"nodes"`
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
		} `json:"issues"`
	} `json:"data"`
	Errors []struct {
		Message    string `json:"message"`
		Extensions struct {
			Code string `json:"code"`
		} `json:"extensions"`
	} `json:"errors"`
}

// Fetch yields one page at a time. Pages arrive in ascending updatedAt, so
// the cursor after a page never passes an event of a later page.
func (s *Source) Fetch(ctx context.Context, req ingest.FetchRequest, yield func(ingest.Page) error) error {
	since := ingest.LowerBound(req)
	cursor := req.Cursor
	after := ""

	for page := 1; page <= s.maxPages; page++ {
		resp, err := s.page(ctx, req.Target.Name, since, req.Until, after)
		if err != nil {
			return fmt.Errorf("linear: %s page %d: %w", req.Target.Name, page, err)
		}
		issues := resp.Data.Issues

		var (
			events []model.Event
			newest time.Time
		)
		for _, raw := range issues.Nodes {
			evs, err := Normalize(raw)
			if err != nil {
				metrics.RecordNormalizeError(string(model.SourceTracker))
				s.log.Warn(ctx, "skipping malformed issue", logger.String("team", req.Target.Name), logger.Error(err))
				continue
			}
			for _, e := range evs {
				if !req.Until.IsZero() && e.TS.After(req.Until) {
					continue
				}
				if e.TS.After(newest) {
					newest = e.TS
				}
				events = append(events, e)
			}
		}
		sort.SliceStable(events, func(i, j int) bool { return events[i].TS.Before(events[j].TS) })

		next := ingest.MaxTimeCursor(cursor, newest)
		if len(events) > 0 || next != cursor {
			if err := yield(ingest.Page{Events: events, Cursor: next}); err != nil {
				return err
			}
		}
		cursor = next

		if !issues.PageInfo.HasNextPage || issues.PageInfo.EndCursor == "" {
			return nil
		}
		after = issues.PageInfo.EndCursor
	}
	return nil
}

func (s *Source) page(ctx context.Context, team string, since, until time.Time, after string) (*issuesResponse, error) {
	updated := map[string]any{}
	if !since.IsZero() {
		updated["gte"] = since.UTC().Format(time.RFC3339Nano)
	}
	if !until.IsZero() {
		updated["lte"] = until.UTC().Format(time.RFC3339Nano)
	}
	filter := map[string]any{"team": map[string]any{"key": map[string]any{"eq": team}}}
	if len(updated) > 0 {
		filter["updatedAt"] = updated
	}
	vars := map[string]any{"filter": filter, "first": s.pageSize}
	if after != "" {
		vars["after"] = after
	}
	body, err := json.Marshal(graphQLRequest{Query: issuesQuery, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("linear: encode query: %w", err)
	}

	var out *issuesResponse
	err = s.guard.Do(ctx, CircuitName, func(ctx context.Context) error {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
		if err != nil {
			return protect.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if s.apiKey != "" {
			req.Header.Set("Authorization", s.apiKey)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return &protect.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		}

		var r issuesResponse
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return err
			}
			return protect.Permanent(fmt.Errorf("%w: %w", ErrMalformed, err))
		}
		if len(r.Errors) > 0 {
			e := r.Errors[0]
			err := fmt.Errorf("%w: %s", ErrGraphQL, e.Message)
			if e.Extensions.Code == "RATELIMITED" {
				return protect.Transient(err)
			}
			return protect.Permanent(err)
		}
		if r.Data == nil {
			return protect.Permanent(fmt.Errorf("%w: response without data", ErrMalformed))
		}
		out = &r
		return nil
	})
	return out, err
}
