// Package ctxbuild assembles the context snapshot a recommendation is scored
// against. It is the one place that trades staleness for latency: metrics
// and enrichment layers are served from a TTL cache and recomputed on miss or
// expiry; recent events are always read from the store.
package ctxbuild

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/okian/pulse/internal/adapters/cache"
	"github.com/okian/pulse/internal/adapters/repository"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/rollup"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// Layer names reported in ContextSnapshot.Layers and CacheHits.
const (
	LayerJourney               = "journey"
	LayerMetrics               = "metrics"
	LayerRecentEvents          = "recent_events"
	LayerEnrichment            = "enrichment"
	LayerTime                  = "time_context"
	LayerRecentRecommendations = "recent_recommendations"
)

// Default builder configuration constants.
const (
	defaultMetricsWindow    = 48 * time.Hour
	defaultTTL              = 5 * time.Minute
	defaultEnrichmentWindow = 7 * 24 * time.Hour
	defaultRecentEvents     = 20
	defaultRecentRecs       = 5
)

// Store is the read side the builder needs.
type Store interface {
	ActiveJourney(ctx context.Context, scope string) (model.Journey, error)
	Query(ctx context.Context, q repository.EventQuery) ([]model.Event, error)
	RecentRecommendations(ctx context.Context, scope string, n int) ([]model.RecommendationDigest, error)
}

// Builder builds context snapshots. It is the only writer of its cache keys.
type Builder struct {
	store    Store
	cache    cache.Cache
	computer rollup.Computer

	metricsWindow    time.Duration
	metricsTTL       time.Duration
	enrichmentWindow time.Duration
	enrichmentTTL    time.Duration
	recentEvents     int
	recentRecs       int

	now func() time.Time
	log logger.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithMetricsWindow sets the rolling metrics window.
func WithMetricsWindow(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.metricsWindow = d
		}
	}
}

// WithTTL sets the cache TTL of the metrics and enrichment layers.
func WithTTL(metricsTTL, enrichmentTTL time.Duration) Option {
	return func(b *Builder) {
		if metricsTTL > 0 {
			b.metricsTTL = metricsTTL
		}
		if enrichmentTTL > 0 {
			b.enrichmentTTL = enrichmentTTL
		}
	}
}

// WithEnrichmentWindow sets how far back enrichment layers look.
func WithEnrichmentWindow(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.enrichmentWindow = d
		}
	}
}

// WithLimits sets the number of recent events and recommendations included.
func WithLimits(events, recommendations int) Option {
	return func(b *Builder) {
		if events >= 0 {
			b.recentEvents = events
		}
		if recommendations >= 0 {
			b.recentRecs = recommendations
		}
	}
}

// WithComputer replaces the metrics aggregator.
func WithComputer(c rollup.Computer) Option {
	return func(b *Builder) {
		if c != nil {
			b.computer = c
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.log = l
		}
	}
}

// New creates a Builder.
func New(store Store, c cache.Cache, opts ...Option) *Builder {
	b := &Builder{
		store:            store,
		cache:            c,
		computer:         rollup.Aggregator{},
		metricsWindow:    defaultMetricsWindow,
		metricsTTL:       defaultTTL,
		enrichmentWindow: defaultEnrichmentWindow,
		enrichmentTTL:    defaultTTL,
		recentEvents:     defaultRecentEvents,
		recentRecs:       defaultRecentRecs,
		now:              time.Now,
		log:              logger.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// metricsEntry is the cached metrics layer.
type metricsEntry struct {
	Metrics model.MetricsSnapshot `json:"metrics"`
}

// Build assembles the snapshot for scope. A missing journey or an
// unreachable store fails the build; cache failures only cost a recompute.
func (b *Builder) Build(ctx context.Context, scope string) (model.ContextSnapshot, error) {
	now := b.now().UTC()

	journey, err := b.store.ActiveJourney(ctx, scope)
	if errors.Is(err, repository.ErrNotFound) {
		return model.ContextSnapshot{}, fmt.Errorf("scope %q: %w", scope, ErrNoActiveJourney)
	}
	if err != nil {
		return model.ContextSnapshot{}, fmt.Errorf("ctxbuild: journey: %w", err)
	}

	snap := model.ContextSnapshot{
		Scope:     scope,
		BuiltAt:   now,
		Journey:   journey,
		CacheHits: []string{},
	}
	hist := &history{b: b, scope: scope, now: now}

	m, expires, hit, err := b.metricsLayer(ctx, scope, now, hist)
	if err != nil {
		return model.ContextSnapshot{}, err
	}
	snap.Metrics = m
	snap.MetricsExpiresAt = expires
	if hit {
		snap.CacheHits = append(snap.CacheHits, LayerMetrics)
	}

	recent, err := b.store.Query(ctx, repository.EventQuery{Scope: scope, To: now, Newest: true, Limit: b.recentEvents})
	if err != nil {
		return model.ContextSnapshot{}, fmt.Errorf("ctxbuild: recent events: %w", err)
	}
	if recent == nil {
		recent = []model.Event{}
	}
	snap.RecentEvents = recent

	enr, hit, err := b.enrichmentLayer(ctx, scope, now, hist)
	if err != nil {
		return model.ContextSnapshot{}, err
	}
	if hit {
		snap.CacheHits = append(snap.CacheHits, LayerEnrichment)
	}
	enr.age(now)
	snap.BlockedItems = nonNil(enr.BlockedItems)
	snap.OpenPRs = nonNil(enr.OpenPRs)
	snap.ActiveIssues = nonNil(enr.ActiveIssues)
	snap.Momentum = enr.Momentum
	snap.Momentum.Level = level(journey, enr.Momentum.Trend)

	snap.Time = TimeContext(now, journey.Preferences)

	recs, err := b.store.RecentRecommendations(ctx, scope, b.recentRecs)
	if err != nil {
		return model.ContextSnapshot{}, fmt.Errorf("ctxbuild: recent recommendations: %w", err)
	}
	snap.RecentRecommendations = nonNil(recs)

	snap.Layers = []string{LayerJourney, LayerMetrics, LayerRecentEvents, LayerEnrichment, LayerTime, LayerRecentRecommendations}
	b.log.Debug(ctx, "context built",
		logger.String("scope", scope),
		logger.Any("cache_hits", snap.CacheHits),
		logger.Int("recent_events", len(snap.RecentEvents)),
	)
	return snap, nil
}

// metricsLayer serves the rolling window from cache or recomputes it. A
// served snapshot is never older than its entry's expiry.
func (b *Builder) metricsLayer(ctx context.Context, scope string, now time.Time, hist *history) (model.MetricsSnapshot, time.Time, bool, error) {
	key := MetricsKey(scope, b.metricsWindow)
	var entry metricsEntry
	if exp, ok := b.lookup(ctx, key, now, &entry); ok {
		metrics.RecordCache(LayerMetrics, true)
		return entry.Metrics, exp, true, nil
	}
	metrics.RecordCache(LayerMetrics, false)

	events, err := hist.events(ctx)
	if err != nil {
		return model.MetricsSnapshot{}, time.Time{}, false, err
	}
	entry.Metrics = b.computer.Compute(events, b.metricsWindow, now)
	exp := now.Add(b.metricsTTL)
	b.save(ctx, key, entry, exp)
	return entry.Metrics, exp, false, nil
}

func (b *Builder) enrichmentLayer(ctx context.Context, scope string, now time.Time, hist *history) (enrichment, bool, error) {
	key := EnrichmentKey(scope)
	var enr enrichment
	if _, ok := b.lookup(ctx, key, now, &enr); ok {
		metrics.RecordCache(LayerEnrichment, true)
		return enr, true, nil
	}
	metrics.RecordCache(LayerEnrichment, false)

	events, err := hist.events(ctx)
	if err != nil {
		return enrichment{}, false, err
	}
	from := now.Add(-max(b.enrichmentWindow, 2*momentumSpan))
	inWindow := make([]model.Event, 0, len(events))
	for _, e := range events {
		if !e.TS.Before(from) {
			inWindow = append(inWindow, e)
		}
	}
	enr = enrich(inWindow, now)
	b.save(ctx, key, enr, now.Add(b.enrichmentTTL))
	return enr, false, nil
}

// lookup decodes a live cache entry into v.
func (b *Builder) lookup(ctx context.Context, key string, now time.Time, v any) (time.Time, bool) {
	data, exp, ok, err := b.cache.Get(ctx, key, now)
	if err != nil {
		b.log.Warn(ctx, "cache read failed", logger.String("key", key), logger.Error(err))
		metrics.RecordError("ctxbuild", "cache_read")
		return time.Time{}, false
	}
	if !ok {
		return time.Time{}, false
	}
	if err := json.Unmarshal(data, v); err != nil {
		b.log.Warn(ctx, "discarding undecodable cache entry", logger.String("key", key), logger.Error(err))
		return time.Time{}, false
	}
	return exp, true
}

// save writes one cache entry; failures are logged and ignored.
func (b *Builder) save(ctx context.Context, key string, v any, expiresAt time.Time) {
	data, err := json.Marshal(v)
	if err == nil {
		err = b.cache.Put(ctx, key, data, expiresAt)
	}
	if err != nil {
		b.log.Warn(ctx, "cache write failed", logger.String("key", key), logger.Error(err))
		metrics.RecordError("ctxbuild", "cache_write")
	}
}

// history loads the scope's event history once per build.
type history struct {
	b      *Builder
	scope  string
	now    time.Time
	loaded bool
	list   []model.Event
}

// events covers the metrics window, the enrichment window and both
// momentum spans. Tickets blocked before that horizon are not counted.
func (h *history) events(ctx context.Context) ([]model.Event, error) {
	if h.loaded {
		return h.list, nil
	}
	span := max(h.b.metricsWindow, h.b.enrichmentWindow, 2*momentumSpan)
	list, err := h.b.store.Query(ctx, repository.EventQuery{Scope: h.scope, From: h.now.Add(-span), To: h.now})
	if err != nil {
		return nil, fmt.Errorf("ctxbuild: events: %w", err)
	}
	h.list, h.loaded = list, true
	return list, nil
}

// MetricsKey is the cache key of the metrics layer.
func MetricsKey(scope string, window time.Duration) string {
	return "metrics:" + scope + ":" + window.String()
}

// EnrichmentKey is the cache key of the enrichment layers.
func EnrichmentKey(scope string) string {
	return "enrichment:" + scope
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
