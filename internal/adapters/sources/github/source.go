// Package github implements the version-control normalizer over the GitHub
// REST activity events API.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
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

// CircuitName identifies the GitHub breaker.
const CircuitName = "github"

const (
	defaultBaseURL  = "https://api.github.com"
	defaultPerPage  = 100
	defaultMaxPages = 3
	maxErrorBody    = 512
)

// Source fetches repository activity events.
type Source struct {
	baseURL  string
	token    string
	perPage  int
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
func New(cfg config.GitHubConfig, opts ...Option) *Source {
	s := &Source{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		perPage:  cfg.PerPage,
		maxPages: cfg.MaxPages,
		client:   &http.Client{},
		guard:    protect.NewGuard(protect.WithTimeout(cfg.Timeout)),
		log:      logger.Nop(),
	}
	if s.baseURL == "" {
		s.baseURL = defaultBaseURL
	}
	if s.perPage <= 0 {
		s.perPage = defaultPerPage
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
func (s *Source) Source() model.Source { return model.SourceVCS }

// Targets returns one target per configured repository.
func (s *Source) Targets(scope config.Scope) []ingest.Target {
	out := make([]ingest.Target, 0, len(scope.Repos))
	for _, repo := range scope.Repos {
		out = append(out, ingest.Target{Key: "vcs:" + repo, Name: repo})
	}
	return out
}

// Fetch reads up to maxPages of the repository's events. The API returns
// newest first, so pages are buffered and yielded as one ascending batch.
// When a later page fails, the events already read are yielded with the
// cursor unchanged and the error is returned; the next run re-reads the
// same window and the store drops the duplicates. The cursor also stays put
// when the page limit is hit before the window's lower bound is reached.
func (s *Source) Fetch(ctx context.Context, req ingest.FetchRequest, yield func(ingest.Page) error) error {
	since := ingest.LowerBound(req)
	var (
		collected []model.Event
		newest    time.Time
		fetchErr  error
		reached   bool
	)

	for page := 1; page <= s.maxPages; page++ {
		items, err := s.page(ctx, req.Target.Name, page)
		if err != nil {
			fetchErr = fmt.Errorf("github: %s page %d: %w", req.Target.Name, page, err)
			break
		}
		for _, raw := range items {
			evs, err := Normalize(raw)
			if err != nil {
				metrics.RecordNormalizeError(string(model.SourceVCS))
				s.log.Warn(ctx, "skipping malformed event", logger.String("repo", req.Target.Name), logger.Error(err))
				continue
			}
			for _, e := range evs {
				if e.TS.Before(since) {
					continue
				}
				if !req.Until.IsZero() && e.TS.After(req.Until) {
					continue
				}
				if e.TS.After(newest) {
					newest = e.TS
				}
				collected = append(collected, e)
			}
		}
		low := oldest(items)
		if len(items) < s.perPage || !low.After(since) {
			reached = true
		}
		if len(items) < s.perPage || low.Before(since) {
			break
		}
	}

	sort.SliceStable(collected, func(i, j int) bool { return collected[i].TS.Before(collected[j].TS) })
	cursor := req.Cursor
	switch {
	case fetchErr != nil:
	case !reached:
		s.log.Warn(ctx, "page limit reached before the cursor; holding it",
			logger.String("repo", req.Target.Name), logger.Int("max_pages", s.maxPages))
	default:
		cursor = ingest.MaxTimeCursor(req.Cursor, newest)
	}
	if len(collected) > 0 || cursor != req.Cursor {
		if err := yield(ingest.Page{Events: collected, Cursor: cursor}); err != nil {
			return err
		}
	}
	return fetchErr
}

// oldest returns the smallest created_at of a page; unreadable items are ignored.
func oldest(items []json.RawMessage) time.Time {
	var low time.Time
	for _, raw := range items {
		var head struct {
			CreatedAt time.Time `json:"created_at"`
		}
		if json.Unmarshal(raw, &head) != nil || head.CreatedAt.IsZero() {
			continue
		}
		if low.IsZero() || head.CreatedAt.Before(low) {
			low = head.CreatedAt
		}
	}
	return low
}

func (s *Source) page(ctx context.Context, repo string, page int) ([]json.RawMessage, error) {
	var items []json.RawMessage
	err := s.guard.Do(ctx, CircuitName, func(ctx context.Context) error {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		u := fmt.Sprintf("%s/repos/%s/events?per_page=%d&page=%d", s.baseURL, pathEscapeRepo(repo), s.perPage, page)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return protect.Permanent(err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
		if s.token != "" {
			req.Header.Set("Authorization", "Bearer "+s.token)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return &protect.StatusError{
				Code:       resp.StatusCode,
				Body:       strings.TrimSpace(string(body)),
				RetryAfter: retryAfter(resp.Header),
			}
		}
		items = items[:0]
		if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return err
			}
			return protect.Permanent(fmt.Errorf("%w: %w", ErrMalformed, err))
		}
		return nil
	})
	return items, err
}

func pathEscapeRepo(repo string) string {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok {
		return url.PathEscape(repo)
	}
	return url.PathEscape(owner) + "/" + url.PathEscape(name)
}

// retryAfter reads Retry-After seconds, falling back to the rate limit reset header.
func retryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if h.Get("X-RateLimit-Remaining") == "0" {
		if reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			if d := time.Until(time.Unix(reset, 0)); d > 0 {
				return d
			}
		}
	}
	return 0
}
