// Package service wires the ingestion pipeline, the recommendation engine
// and the feedback loop into the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/okian/pulse/internal/adapters/cache"
	"github.com/okian/pulse/internal/adapters/mq/queue"
	"github.com/okian/pulse/internal/adapters/mq/worker"
	"github.com/okian/pulse/internal/adapters/reasoner"
	"github.com/okian/pulse/internal/adapters/repository"
	"github.com/okian/pulse/internal/adapters/sources/github"
	"github.com/okian/pulse/internal/adapters/sources/linear"
	"github.com/okian/pulse/internal/config"
	"github.com/okian/pulse/internal/domain/ctxbuild"
	"github.com/okian/pulse/internal/domain/dedupe"
	"github.com/okian/pulse/internal/domain/engine"
	"github.com/okian/pulse/internal/domain/feedback"
	"github.com/okian/pulse/internal/domain/ingest"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/scoring"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/protect"
)

const memoryDatabase = ":memory:"

// Service implements the API dependencies for the recommendation system.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	// Core components
	store    *repository.Store
	ownStore bool
	guard    *protect.Guard
	cache    cache.Cache
	runner   *ingest.Runner
	engine   *engine.Engine
	feedback *feedback.Loop
	inflight dedupe.Deduper
	jobs     *queue.InMemoryQueue
	pool     *worker.Pool

	// Overrides
	normalizers []ingest.Normalizer
	reasoner    reasoner.Client
	httpClient  *http.Client
	now         func() time.Time

	// State
	started     bool
	cancel      context.CancelFunc
	stopSched   context.CancelFunc
	schedulerUp chan struct{}

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore uses an already opened store. The service does not close it.
func WithStore(s *repository.Store) Option {
	return func(svc *Service) {
		if s != nil {
			svc.store = s
		}
	}
}

// WithNormalizers replaces the configured sources.
func WithNormalizers(n ...ingest.Normalizer) Option {
	return func(s *Service) {
		s.normalizers = n
	}
}

// WithReasoner replaces the configured reasoning client.
func WithReasoner(c reasoner.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.reasoner = c
		}
	}
}

// WithHTTPClient sets the client used for upstream APIs.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithClock overrides time.Now for every component.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service for cfg. Components are created by Start.
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.New()
	}
	s := &Service{
		cfg:    cfg,
		now:    time.Now,
		logger: logger.Get(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store, seeds journeys, builds every component and starts
// the worker pool and the scheduler.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting pulse service...")

	if err := s.openStore(ctx); err != nil {
		return err
	}
	if path := s.cfg.JourneysFile; path != "" {
		n, err := SeedJourneys(ctx, s.store, path)
		if err != nil {
			s.closeStore()
			return err
		}
		s.logger.Info(ctx, "journeys seeded", logger.String("file", path), logger.Int("count", n))
	}

	s.guard = s.newGuard()
	if s.normalizers == nil {
		s.normalizers = s.sources()
	}
	s.runner = ingest.NewRunner(s.store, s.cfg.Scopes, s.normalizers,
		ingest.WithLookback(s.cfg.Ingest.Lookback),
		ingest.WithSampleSize(s.cfg.Ingest.SampleSize),
		ingest.WithClock(s.now),
		ingest.WithLogger(s.logger.Named("ingest")),
	)

	eng, err := s.newEngine()
	if err != nil {
		s.closeStore()
		return err
	}
	s.engine = eng
	s.feedback = feedback.New(s.store,
		feedback.WithClock(s.now),
		feedback.WithLogger(s.logger.Named("feedback")),
	)

	s.inflight = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.cfg.Ingest.QueueSize))
	s.jobs = queue.NewInMemoryQueue(queue.WithCapacity(s.cfg.Ingest.QueueSize))
	s.pool = worker.NewPool(s.cfg.Ingest.WorkerCount, s.jobs, s.runner,
		worker.WithReleaser(s.inflight),
		worker.WithLogger(s.logger.Named("worker")),
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	schedCtx, stopSched := context.WithCancel(runCtx)
	s.cancel = cancel
	s.stopSched = stopSched
	s.schedulerUp = make(chan struct{})
	s.pool.Start(runCtx)

	sched := NewScheduler(s.cfg.Ingest.Interval, s.runner.Scopes(), s,
		WithHousekeeping(s.purgeCache),
		WithSchedulerLogger(s.logger.Named("scheduler")),
	)
	go func() {
		defer close(s.schedulerUp)
		sched.Run(schedCtx)
	}()

	s.started = true
	s.logger.Info(ctx, "pulse service started",
		logger.Int("scopes", len(s.cfg.Scopes)),
		logger.Int("sources", len(s.normalizers)),
		logger.Int("workers", s.pool.Size()),
		logger.Duration("interval", s.cfg.Ingest.Interval),
		logger.Bool("reasoning", s.reasoner != nil),
	)
	return nil
}

// Stop stops the scheduler, waits for running jobs up to ctx and closes an
// owned store. Calls made after Stop begins return ErrNotStarted.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()
	s.logger.Info(ctx, "stopping pulse service...")

	// The scheduler submits through ready(), so it is stopped without the lock held.
	s.stopSched()
	<-s.schedulerUp
	err := s.pool.Shutdown(ctx)
	s.cancel()

	s.mu.Lock()
	s.closeStore()
	s.mu.Unlock()

	s.logger.Info(ctx, "pulse service stopped")
	return err
}

func (s *Service) openStore(ctx context.Context) error {
	if s.store != nil {
		return nil
	}
	var (
		st  *repository.Store
		err error
	)
	if s.cfg.DatabasePath == memoryDatabase {
		st, err = repository.OpenMemory(ctx, repository.WithClock(s.now))
	} else {
		st, err = repository.Open(ctx, s.cfg.DatabasePath, repository.WithClock(s.now))
	}
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	s.store = st
	s.ownStore = true
	return nil
}

func (s *Service) closeStore() {
	if !s.ownStore || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error(context.Background(), "close store", logger.Error(err))
	}
	s.store = nil
	s.ownStore = false
}

// newGuard shares one set of breakers across every upstream so /circuits
// reports them together.
func (s *Service) newGuard() *protect.Guard {
	p := s.cfg.Protect
	return protect.NewGuard(
		protect.WithTimeout(max(s.cfg.GitHub.Timeout, s.cfg.Linear.Timeout)),
		protect.WithRetries(p.MaxRetries),
		protect.WithBackoff(p.BaseBackoff, p.MaxBackoff),
		protect.WithBreakerOptions(
			protect.WithThreshold(p.FailureThreshold),
			protect.WithCooldown(p.Cooldown),
			protect.WithHalfOpenMax(p.HalfOpenMax),
		),
		protect.WithLogger(s.logger.Named("protect")),
	)
}

func (s *Service) sources() []ingest.Normalizer {
	var out []ingest.Normalizer
	if s.cfg.GitHub.Enabled {
		opts := []github.Option{github.WithGuard(s.guard), github.WithLogger(s.logger.Named("github"))}
		if s.httpClient != nil {
			opts = append(opts, github.WithHTTPClient(s.httpClient))
		}
		out = append(out, github.New(s.cfg.GitHub, opts...))
	}
	if s.cfg.Linear.Enabled {
		opts := []linear.Option{linear.WithGuard(s.guard), linear.WithLogger(s.logger.Named("linear"))}
		if s.httpClient != nil {
			opts = append(opts, linear.WithHTTPClient(s.httpClient))
		}
		out = append(out, linear.New(s.cfg.Linear, opts...))
	}
	return out
}

func (s *Service) newEngine() (*engine.Engine, error) {
	cc := s.cfg.Context
	switch cc.CacheBackend {
	case "sqlite":
		s.cache = cache.NewSQLite(s.store)
	default:
		s.cache = cache.NewMemory()
	}
	builder := ctxbuild.New(s.store, s.cache,
		ctxbuild.WithMetricsWindow(cc.MetricsWindow),
		ctxbuild.WithTTL(cc.MetricsTTL, cc.EnrichmentTTL),
		ctxbuild.WithEnrichmentWindow(cc.EnrichmentWindow),
		ctxbuild.WithLimits(cc.RecentEvents, cc.RecentRecommendations),
		ctxbuild.WithClock(s.now),
		ctxbuild.WithLogger(s.logger.Named("ctxbuild")),
	)

	sc := s.cfg.Scoring
	scorer, err := scoring.New(
		scoring.WithWeights(scoring.Weights{Urgency: sc.Urgency, Impact: sc.Impact, Momentum: sc.Momentum, Energy: sc.Energy}),
		scoring.WithAlternatives(sc.Alternatives),
	)
	if err != nil {
		return nil, fmt.Errorf("scoring: %w", err)
	}

	if s.reasoner == nil && s.cfg.Reasoning.Enabled {
		opts := []reasoner.Option{reasoner.WithGuard(s.guard), reasoner.WithLogger(s.logger.Named("reasoner"))}
		if s.httpClient != nil {
			opts = append(opts, reasoner.WithHTTPClient(s.httpClient))
		}
		s.reasoner = reasoner.New(s.cfg.Reasoning, opts...)
	}

	opts := []engine.Option{
		engine.WithRerank(s.cfg.Reasoning.Rerank),
		engine.WithClock(s.now),
		engine.WithLogger(s.logger.Named("engine")),
	}
	if s.reasoner != nil {
		opts = append(opts, engine.WithReasoner(s.reasoner, s.cfg.Reasoning.Timeout))
	}
	return engine.New(builder, scorer, s.store, opts...), nil
}

func (s *Service) purgeCache(ctx context.Context) {
	n, err := s.cache.Purge(ctx, s.now())
	if err != nil {
		s.logger.Warn(ctx, "cache purge failed", logger.Error(err))
		return
	}
	if n > 0 {
		s.logger.Debug(ctx, "cache purged", logger.Int("entries", n))
	}
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// RunIngest runs ingestion for the request synchronously.
func (s *Service) RunIngest(ctx context.Context, req ingest.Request) (ingest.Report, error) {
	if err := s.ready(); err != nil {
		return ingest.Report{}, err
	}
	return s.runner.Run(ctx, req)
}

// Submit queues a background ingestion run for scope.
func (s *Service) Submit(ctx context.Context, scope string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, ok := s.cfg.Scope(scope); !ok {
		return fmt.Errorf("%w: %q", ingest.ErrUnknownScope, scope)
	}
	if s.inflight.SeenAndRecord(ctx, scope) {
		return fmt.Errorf("ingestion for %q: %w", scope, dedupe.ErrPending)
	}
	job := queue.Job{Request: ingest.Request{Scope: scope}, EnqueuedAt: s.now()}
	if !s.jobs.Enqueue(ctx, job) {
		s.inflight.Unrecord(ctx, scope)
		return fmt.Errorf("ingestion for %q: %w", scope, queue.ErrFull)
	}
	return nil
}

// Generate emits a recommendation for scope.
func (s *Service) Generate(ctx context.Context, scope string) (model.Recommendation, error) {
	if err := s.ready(); err != nil {
		return model.Recommendation{}, err
	}
	return s.engine.Generate(ctx, scope)
}

// RecordFeedback attaches feedback to a recommendation.
func (s *Service) RecordFeedback(ctx context.Context, id string, fb model.Feedback) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.feedback.Record(ctx, id, fb)
}

// FeedbackStats aggregates feedback over window.
func (s *Service) FeedbackStats(ctx context.Context, window time.Duration) ([]model.WeightStats, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.feedback.Stats(ctx, window)
}

// Journey returns the active journey of scope.
func (s *Service) Journey(ctx context.Context, scope string) (model.Journey, error) {
	if err := s.ready(); err != nil {
		return model.Journey{}, err
	}
	j, err := s.store.ActiveJourney(ctx, scope)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Journey{}, fmt.Errorf("%w: %w", ctxbuild.ErrNoActiveJourney, err)
	}
	return j, err
}

// Circuits lists breaker states of every upstream.
func (s *Service) Circuits() []protect.Snapshot {
	if s.ready() != nil {
		return nil
	}
	return s.guard.States()
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.store.Ping(ctx)
}

// Stats returns service statistics for monitoring.
func (s *Service) Stats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started": s.started,
		"scopes":  len(s.cfg.Scopes),
	}
	if s.started {
		stats["queue_length"] = s.jobs.Len(ctx)
		stats["pending_scopes"] = s.inflight.Size()
		stats["workers"] = s.pool.Size()
		stats["sources"] = len(s.normalizers)
		if n, err := s.store.CountEvents(ctx, ""); err == nil {
			stats["events"] = n
		}
	}
	return stats
}
