// Package engine turns a context snapshot into an emitted recommendation:
// Phase A scoring always runs; Phase B reasoning may only add narrative and
// reorder the selected candidates, and any failure of it falls back to
// Phase A verbatim.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/pulse/internal/adapters/reasoner"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/scoring"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
	"github.com/okian/pulse/pkg/protect"
)

// Stages of one recommendation request.
const (
	StageBuildingContext = "building_context"
	StageScoring         = "scoring"
	StageReasoning       = "reasoning"
	StageEmitted         = "emitted"
)

// Reasons Phase B was discarded.
const (
	FallbackDisabled    = "disabled"
	FallbackTimeout     = "timeout"
	FallbackMalformed   = "malformed"
	FallbackCircuitOpen = "circuit_open"
	FallbackError       = "error"
)

const defaultReasoningTimeout = 8 * time.Second

// ContextBuilder builds the snapshot of a scope.
type ContextBuilder interface {
	Build(ctx context.Context, scope string) (model.ContextSnapshot, error)
}

// Recorder persists emitted recommendations.
type Recorder interface {
	SaveRecommendation(ctx context.Context, r model.Recommendation) error
}

// Engine generates recommendations. It is safe for concurrent use.
type Engine struct {
	builder  ContextBuilder
	scorer   scoring.Scorer
	recorder Recorder
	reasoner reasoner.Client

	timeout time.Duration
	rerank  bool
	now     func() time.Time
	newID   func() (string, error)
	onStage func(scope, stage string)
	log     logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithReasoner enables Phase B through c. Each call is bounded by timeout.
func WithReasoner(c reasoner.Client, timeout time.Duration) Option {
	return func(e *Engine) {
		e.reasoner = c
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// WithRerank lets Phase B reorder the selected candidates.
func WithRerank(enabled bool) Option {
	return func(e *Engine) { e.rerank = enabled }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDs replaces the recommendation id generator.
func WithIDs(fn func() (string, error)) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// WithStageHook observes stage transitions.
func WithStageHook(fn func(scope, stage string)) Option {
	return func(e *Engine) { e.onStage = fn }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// New creates an Engine. Without WithReasoner every response is Phase A only.
func New(b ContextBuilder, s scoring.Scorer, r Recorder, opts ...Option) *Engine {
	e := &Engine{
		builder:  b,
		scorer:   s,
		recorder: r,
		timeout:  defaultReasoningTimeout,
		now:      time.Now,
		newID:    uuidV7,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func uuidV7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Generate runs every stage for scope. A build failure is terminal and
// nothing is emitted; a reasoning failure only sets the fallback reason.
func (e *Engine) Generate(ctx context.Context, scope string) (model.Recommendation, error) {
	start := time.Now()

	e.stage(scope, StageBuildingContext)
	snap, err := e.builder.Build(ctx, scope)
	if err != nil {
		metrics.RecordError("engine", "build_context")
		return model.Recommendation{}, fmt.Errorf("%w: %w", ErrBuildContext, err)
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return model.Recommendation{}, fmt.Errorf("%w: encode snapshot: %w", ErrBuildContext, err)
	}
	contextID := model.ContextID(raw)

	e.stage(scope, StageScoring)
	ranking := e.scorer.Rank(snap)
	selected := append([]scoring.Scored{ranking.Primary}, ranking.Alternatives...)

	e.stage(scope, StageReasoning)
	text, reason := e.reason(ctx, snap, ranking, selected)
	if err := ctx.Err(); err != nil {
		return model.Recommendation{}, err
	}
	aiUsed := reason == ""
	if aiUsed && len(text.order) > 0 {
		reordered := make([]scoring.Scored, 0, len(selected))
		for _, i := range text.order {
			reordered = append(reordered, selected[i])
		}
		selected = reordered
	}

	id, err := e.newID()
	if err != nil {
		return model.Recommendation{}, fmt.Errorf("engine: recommendation id: %w", err)
	}
	now := e.now().UTC()
	rec := model.Recommendation{
		ID:         id,
		CreatedAt:  now,
		Scope:      scope,
		JourneyID:  snap.Journey.ID,
		WeightsKey: ranking.WeightsKey,
		Snapshot:   snap,
		Response:   respond(id, now, contextID, snap, ranking, selected, text.narrative, reason),
	}
	if err := e.recorder.SaveRecommendation(ctx, rec); err != nil {
		metrics.RecordError("engine", "persist")
		return model.Recommendation{}, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	e.stage(scope, StageEmitted)
	metrics.RecordRecommendation(aiUsed, time.Since(start).Seconds())
	e.log.Info(ctx, "recommendation emitted",
		logger.String("scope", scope),
		logger.String("id", id),
		logger.String("action_type", selected[0].Type),
		logger.Bool("ai_reasoning_used", aiUsed),
		logger.String("fallback_reason", reason),
	)
	return rec, nil
}

type reasoned struct {
	narrative narrative
	order     []int
}

// reason runs Phase B and returns the fallback reason, empty on success.
// The call runs in its own goroutine so an unresponsive client cannot hold
// the request past the timeout.
func (e *Engine) reason(ctx context.Context, snap model.ContextSnapshot, r scoring.Ranking, selected []scoring.Scored) (reasoned, string) {
	fallback := reasoned{narrative: fallbackNarrative(snap, r)}
	if e.reasoner == nil {
		return e.fallback(ctx, fallback, FallbackDisabled, nil)
	}

	rctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	type result struct {
		out reasoner.Reasoning
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := e.reasoner.Reason(rctx, reasoner.Request{Snapshot: snap, Candidates: selected, AllowRerank: e.rerank})
		done <- result{out, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-rctx.Done():
		res.err = rctx.Err()
	}
	if res.err != nil {
		return e.fallback(ctx, fallback, classify(res.err), res.err)
	}
	if !e.rerank {
		res.out.Ranking = nil
	}
	return reasoned{
		narrative: narrative{
			summary:   or(res.out.SituationAnalysis, "Current context analyzed"),
			why:       or(res.out.PrimaryReasoning, r.Primary.Reasoning),
			alignment: or(res.out.GoalAlignment, "Supports overall objectives"),
		},
		order: res.out.Ranking,
	}, ""
}

func (e *Engine) fallback(ctx context.Context, fb reasoned, reason string, err error) (reasoned, string) {
	metrics.RecordReasoningFallback(reason)
	if err != nil {
		e.log.Warn(ctx, "reasoning discarded", logger.String("reason", reason), logger.Error(err))
	}
	return fb, reason
}

func classify(err error) string {
	switch {
	case errors.Is(err, reasoner.ErrDisabled):
		return FallbackDisabled
	case errors.Is(err, protect.ErrCircuitOpen):
		return FallbackCircuitOpen
	case errors.Is(err, reasoner.ErrMalformed):
		return FallbackMalformed
	case errors.Is(err, context.DeadlineExceeded):
		return FallbackTimeout
	default:
		return FallbackError
	}
}

func respond(id string, now time.Time, contextID string, snap model.ContextSnapshot, r scoring.Ranking,
	selected []scoring.Scored, n narrative, reason string,
) model.Response {
	primary := selected[0]
	why := n.why
	if primary.Seq != r.Primary.Seq {
		why = primary.Reasoning
	}
	alts := make([]model.Alternative, 0, len(selected)-1)
	for _, s := range selected[1:] {
		alts = append(alts, model.Alternative{
			Action:         s.Action,
			Why:            s.Reasoning,
			WhenToConsider: s.Trigger,
			TimeEstimate:   s.TimeEstimate,
		})
	}
	scores := make([]model.CandidateScore, 0, len(r.All))
	for _, s := range r.All {
		scores = append(scores, s.Score())
	}
	return model.Response{
		RecommendationID: id,
		GeneratedAt:      now,
		ContextID:        contextID,
		PrimaryAction: model.PrimaryAction{
			Action:         primary.Action,
			Why:            why,
			ExpectedImpact: primary.ExpectedImpact(),
			TimeEstimate:   primary.TimeEstimate,
			Confidence:     primary.Confidence(),
			Urgency:        primary.Factors.Urgency,
			Importance:     primary.Factors.Impact,
		},
		Alternatives:     alts,
		ContextSummary:   n.summary,
		JourneyAlignment: n.alignment,
		MomentumInsight:  MomentumInsight(snap.Momentum),
		EnergyMatch:      EnergyMatch(primary, snap.Time.Energy),
		DebugInfo: model.DebugInfo{
			TotalActionsConsidered: r.Considered,
			ContextLayers:          snap.Layers,
			AIReasoningUsed:        reason == "",
			FallbackReason:         reason,
			Scores:                 scores,
		},
	}
}

func (e *Engine) stage(scope, s string) {
	if e.onStage != nil {
		e.onStage(scope, s)
	}
	e.log.Debug(context.Background(), "stage", logger.String("scope", scope), logger.String("stage", s))
}

func or(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
