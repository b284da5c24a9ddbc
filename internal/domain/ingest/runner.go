package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/okian/pulse/internal/adapters/repository"
	"github.com/okian/pulse/internal/config"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/rollup"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// Default runner configuration constants.
const (
	defaultLookback   = 72 * time.Hour
	defaultSampleSize = 3
)

// Runner drives every normalizer for a scope and commits their pages.
type Runner struct {
	store       Store
	normalizers []Normalizer
	scopes      map[string]config.Scope
	locks       *scopeLocks
	lookback    time.Duration
	sampleSize  int
	now         func() time.Time
	log         logger.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLookback sets the window used when a target has no cursor.
func WithLookback(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.lookback = d
		}
	}
}

// WithSampleSize sets how many events a dry run echoes back.
func WithSampleSize(n int) Option {
	return func(r *Runner) {
		if n >= 0 {
			r.sampleSize = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRunner creates a runner over the configured scopes.
func NewRunner(store Store, scopes []config.Scope, normalizers []Normalizer, opts ...Option) *Runner {
	r := &Runner{
		store:       store,
		normalizers: normalizers,
		scopes:      make(map[string]config.Scope, len(scopes)),
		locks:       newScopeLocks(),
		lookback:    defaultLookback,
		sampleSize:  defaultSampleSize,
		now:         time.Now,
		log:         logger.Nop(),
	}
	for _, sc := range scopes {
		r.scopes[sc.Name] = sc
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Scopes lists configured scope names in sorted order.
func (r *Runner) Scopes() []string {
	out := make([]string, 0, len(r.scopes))
	for name := range r.scopes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Run ingests every target of the scope. Runs of the same scope are
// serialized; a failing target is reported and does not stop the others.
// The returned error is reserved for rejected requests and lock waits
// abandoned through ctx.
func (r *Runner) Run(ctx context.Context, req Request) (Report, error) {
	scope, ok := r.scopes[req.Scope]
	if !ok {
		return Report{}, fmt.Errorf("%w: %q", ErrUnknownScope, req.Scope)
	}
	if !req.Since.IsZero() && !req.Until.IsZero() && req.Since.After(req.Until) {
		return Report{}, ErrInvalidRange
	}

	release, err := r.locks.acquire(ctx, scope.Name)
	if err != nil {
		return Report{}, fmt.Errorf("ingest: wait for scope %q: %w", scope.Name, err)
	}
	defer release()

	report := Report{Scope: scope.Name, DryRun: req.DryRun}
	days := map[string]time.Time{}
	for _, n := range r.normalizers {
		for _, target := range n.Targets(scope) {
			res, touched := r.runTarget(ctx, n, scope.Name, target, req, &report)
			report.Results = append(report.Results, res)
			for k, d := range touched {
				days[k] = d
			}
		}
	}

	if !req.DryRun {
		r.recomputeDays(ctx, scope.Name, days)
	}
	return report, nil
}

func (r *Runner) runTarget(ctx context.Context, n Normalizer, scope string, target Target, req Request, report *Report) (Result, map[string]time.Time) {
	start := r.now()
	src := n.Source()
	res := Result{Source: src, Target: target.Name}
	touched := map[string]time.Time{}
	log := r.log.With(logger.String("source", string(src)), logger.String("target", target.Name))

	stored, hasCursor, err := r.store.Cursor(ctx, target.Key)
	if err != nil {
		res.Error = err.Error()
		metrics.RecordIngest(string(src), 0, 0, "error", r.now().Sub(start).Seconds())
		metrics.RecordError("ingest", "cursor_read")
		return res, touched
	}

	fr := FetchRequest{Scope: scope, Target: target, Cursor: stored.Value, Since: req.Since, Until: req.Until}
	if fr.Since.IsZero() && !hasCursor {
		fr.Since = r.now().Add(-r.lookback)
	}
	current := stored.Value

	err = n.Fetch(ctx, fr, func(p Page) error {
		for i := range p.Events {
			p.Events[i].Scope = scope
		}
		res.EventsGenerated += len(p.Events)
		if req.DryRun {
			for _, e := range p.Events {
				if len(report.Sample) < r.sampleSize {
					report.Sample = append(report.Sample, e)
				}
			}
			return nil
		}

		inserted, err := r.store.InsertBatch(ctx, p.Events)
		if err != nil {
			return fmt.Errorf("store page: %w", err)
		}
		res.EventsIngested += inserted
		res.Skipped += len(p.Events) - inserted
		for _, e := range p.Events {
			day := rollup.DayStart(e.TS)
			touched[rollup.DayKey(day)] = day
		}

		if p.Cursor != "" && p.Cursor != current {
			if err := r.store.SetCursor(ctx, target.Key, p.Cursor); err != nil {
				return fmt.Errorf("advance cursor: %w", err)
			}
			current = p.Cursor
			res.CursorAdvancedTo = p.Cursor
			metrics.RecordCursorAdvance(string(src))
		}
		return nil
	})

	result := "ok"
	if err != nil {
		result = "error"
		res.Error = err.Error()
		kind := "fetch"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			kind = "canceled"
		}
		metrics.RecordError("ingest", kind)
		log.Warn(ctx, "ingestion target failed",
			logger.Int("events_ingested", res.EventsIngested),
			logger.Error(err),
		)
	} else {
		log.Info(ctx, "ingestion target done",
			logger.Int("events_generated", res.EventsGenerated),
			logger.Int("events_ingested", res.EventsIngested),
			logger.String("cursor", current),
			logger.Bool("dry_run", req.DryRun),
		)
	}
	metrics.RecordIngest(string(src), res.EventsGenerated, res.EventsIngested, result, r.now().Sub(start).Seconds())
	return res, touched
}

// recomputeDays replaces the daily aggregates of every day a run touched.
func (r *Runner) recomputeDays(ctx context.Context, scope string, days map[string]time.Time) {
	for key, day := range days {
		events, err := r.store.Query(ctx, repository.EventQuery{
			Scope: scope,
			From:  day,
			To:    day.Add(24*time.Hour - time.Nanosecond),
		})
		if err != nil {
			r.log.Error(ctx, "daily metrics query failed", logger.String("date", key), logger.Error(err))
			metrics.RecordError("ingest", "daily_metrics")
			continue
		}
		d := model.DailyMetrics{
			Date:       key,
			Scope:      scope,
			Metrics:    rollup.ComputeDay(events, day),
			ComputedAt: r.now().UTC(),
		}
		if err := r.store.UpsertDailyMetrics(ctx, d); err != nil {
			r.log.Error(ctx, "daily metrics upsert failed", logger.String("date", key), logger.Error(err))
			metrics.RecordError("ingest", "daily_metrics")
		}
	}
}
