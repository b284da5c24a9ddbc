// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - New() returns a Config filled with defaults.
//   - Load layers a YAML file and PULSE_ environment variables on top.
//   - Validation errors wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"math"
	"runtime"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DatabasePath is the SQLite file holding events, cursors and recommendations.
	// ":memory:" keeps everything in process.
	DatabasePath string `koanf:"database_path"`

	// JourneysFile optionally seeds active journeys at startup (YAML).
	JourneysFile string `koanf:"journeys_file"`

	// Scopes lists the ingestion/recommendation scopes and their upstream targets.
	Scopes []Scope `koanf:"scopes"`

	Ingest    IngestConfig    `koanf:"ingest"`
	GitHub    GitHubConfig    `koanf:"github"`
	Linear    LinearConfig    `koanf:"linear"`
	Reasoning ReasoningConfig `koanf:"reasoning"`
	Protect   ProtectConfig   `koanf:"protect"`
	Context   ContextConfig   `koanf:"context"`
	Scoring   ScoringConfig   `koanf:"scoring"`
}

// Scope names a unit of work (a team or a product) and the upstream
// repositories and tracker teams that feed it.
type Scope struct {
	Name  string   `koanf:"name"`
	Repos []string `koanf:"repos"`
	Teams []string `koanf:"teams"`
}

// IngestConfig controls the scheduled ingestion loop.
type IngestConfig struct {
	// Interval between scheduled runs per scope; 0 disables the scheduler.
	Interval time.Duration `koanf:"interval"`
	// Lookback applies when a cursor has never been written.
	Lookback time.Duration `koanf:"lookback"`
	// QueueSize bounds pending scheduled jobs.
	QueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of ingestion workers.
	WorkerCount int `koanf:"worker_count"`
	// SampleSize is the number of normalized events echoed on dry runs.
	SampleSize int `koanf:"sample_size"`
}

// GitHubConfig configures the version-control source.
type GitHubConfig struct {
	Enabled   bool          `koanf:"enabled"`
	BaseURL   string        `koanf:"base_url"`
	Token     string        `koanf:"token"`
	PerPage   int           `koanf:"per_page"`
	MaxPages  int           `koanf:"max_pages"`
	RateLimit float64       `koanf:"rate_limit"`
	Burst     int           `koanf:"burst"`
	Timeout   time.Duration `koanf:"timeout"`
}

// LinearConfig configures the issue-tracker source.
type LinearConfig struct {
	Enabled   bool          `koanf:"enabled"`
	BaseURL   string        `koanf:"base_url"`
	APIKey    string        `koanf:"api_key"`
	PageSize  int           `koanf:"page_size"`
	MaxPages  int           `koanf:"max_pages"`
	RateLimit float64       `koanf:"rate_limit"`
	Burst     int           `koanf:"burst"`
	Timeout   time.Duration `koanf:"timeout"`
}

// ReasoningConfig configures the external reasoning service (OpenAI-compatible chat API).
type ReasoningConfig struct {
	Enabled     bool          `koanf:"enabled"`
	BaseURL     string        `koanf:"base_url"`
	APIKey      string        `koanf:"api_key"`
	Model       string        `koanf:"model"`
	Timeout     time.Duration `koanf:"timeout"`
	MaxTokens   int           `koanf:"max_tokens"`
	Temperature float64       `koanf:"temperature"`
	// Rerank lets the reasoning reply reorder the selected candidates.
	Rerank bool `koanf:"rerank"`
}

// ProtectConfig tunes circuit breakers and retries around external calls.
type ProtectConfig struct {
	FailureThreshold int           `koanf:"failure_threshold"`
	Cooldown         time.Duration `koanf:"cooldown"`
	HalfOpenMax      int           `koanf:"half_open_max"`
	MaxRetries       int           `koanf:"max_retries"`
	BaseBackoff      time.Duration `koanf:"base_backoff"`
	MaxBackoff       time.Duration `koanf:"max_backoff"`
}

// ContextConfig controls the context builder and its cache.
type ContextConfig struct {
	MetricsWindow         time.Duration `koanf:"metrics_window"`
	MetricsTTL            time.Duration `koanf:"metrics_ttl"`
	EnrichmentWindow      time.Duration `koanf:"enrichment_window"`
	EnrichmentTTL         time.Duration `koanf:"enrichment_ttl"`
	RecentEvents          int           `koanf:"recent_events"`
	RecentRecommendations int           `koanf:"recent_recommendations"`
	// CacheBackend is "memory" or "sqlite".
	CacheBackend string `koanf:"cache_backend"`
}

// ScoringConfig holds the Phase A factor weights.
type ScoringConfig struct {
	Urgency      float64 `koanf:"urgency"`
	Impact       float64 `koanf:"impact"`
	Momentum     float64 `koanf:"momentum"`
	Energy       float64 `koanf:"energy"`
	Alternatives int     `koanf:"alternatives"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:     "info",
		LogFormat:    "text",
		Addr:         ":9080",
		DatabasePath: "pulse.db",
		Ingest: IngestConfig{
			Interval:    15 * time.Minute,
			Lookback:    72 * time.Hour,
			QueueSize:   64,
			WorkerCount: runtime.NumCPU(),
			SampleSize:  3,
		},
		GitHub: GitHubConfig{
			BaseURL:   "https://api.github.com",
			PerPage:   100,
			MaxPages:  3,
			RateLimit: 5,
			Burst:     5,
			Timeout:   15 * time.Second,
		},
		Linear: LinearConfig{
			BaseURL:   "https://api.linear.app/graphql",
			PageSize:  50,
			MaxPages:  10,
			RateLimit: 2,
			Burst:     2,
			Timeout:   15 * time.Second,
		},
		Reasoning: ReasoningConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Timeout:     8 * time.Second,
			MaxTokens:   600,
			Temperature: 0.3,
		},
		Protect: ProtectConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
			HalfOpenMax:      1,
			MaxRetries:       2,
			BaseBackoff:      200 * time.Millisecond,
			MaxBackoff:       2 * time.Second,
		},
		Context: ContextConfig{
			MetricsWindow:         48 * time.Hour,
			MetricsTTL:            5 * time.Minute,
			EnrichmentWindow:      7 * 24 * time.Hour,
			EnrichmentTTL:         5 * time.Minute,
			RecentEvents:          20,
			RecentRecommendations: 5,
			CacheBackend:          "memory",
		},
		Scoring: ScoringConfig{
			Urgency:      0.25,
			Impact:       0.25,
			Momentum:     0.25,
			Energy:       0.25,
			Alternatives: 3,
		},
	}
}

// weightTolerance absorbs float rounding in configured weights.
const weightTolerance = 1e-6

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("%w: database_path must not be empty", ErrInvalidConfig)
	}
	if c.Context.MetricsTTL <= 0 || c.Context.EnrichmentTTL <= 0 {
		return fmt.Errorf("%w: context cache ttl must be positive", ErrInvalidConfig)
	}
	if c.Context.MetricsWindow <= 0 {
		return fmt.Errorf("%w: context.metrics_window must be positive", ErrInvalidConfig)
	}
	switch c.Context.CacheBackend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("%w: unknown cache backend %q", ErrInvalidConfig, c.Context.CacheBackend)
	}
	s := c.Scoring
	for _, w := range []float64{s.Urgency, s.Impact, s.Momentum, s.Energy} {
		if w < 0 {
			return fmt.Errorf("%w: scoring weights must be non-negative", ErrInvalidConfig)
		}
	}
	if sum := s.Urgency + s.Impact + s.Momentum + s.Energy; math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("%w: scoring weights must sum to 1.0, got %.4f", ErrInvalidConfig, sum)
	}
	if s.Alternatives < 0 {
		return fmt.Errorf("%w: scoring.alternatives must not be negative", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(c.Scopes))
	repos := make(map[string]string)
	teams := make(map[string]string)
	for _, sc := range c.Scopes {
		name := strings.TrimSpace(sc.Name)
		if name == "" {
			return fmt.Errorf("%w: scope name must not be empty", ErrInvalidConfig)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate scope %q", ErrInvalidConfig, name)
		}
		seen[name] = struct{}{}
		if err := claim(repos, "repo", name, sc.Repos); err != nil {
			return err
		}
		if err := claim(teams, "team", name, sc.Teams); err != nil {
			return err
		}
	}
	return nil
}

// claim records targets as owned by scope. Events are unique across scopes
// and a target's cursor is serialized only by its owning scope, so every repo
// and team belongs to at most one scope.
func claim(owners map[string]string, kind, scope string, targets []string) error {
	for _, t := range targets {
		key := strings.ToLower(strings.TrimSpace(t))
		if key == "" {
			return fmt.Errorf("%w: scope %q has an empty %s", ErrInvalidConfig, scope, kind)
		}
		if owner, taken := owners[key]; taken && owner != scope {
			return fmt.Errorf("%w: %s %q is shared by scopes %q and %q", ErrInvalidConfig, kind, t, owner, scope)
		}
		owners[key] = scope
	}
	return nil
}

// Scope returns the named scope.
func (c *Config) Scope(name string) (Scope, bool) {
	for _, sc := range c.Scopes {
		if sc.Name == name {
			return sc, true
		}
	}
	return Scope{}, false
}
