package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/pulse/internal/adapters/reasoner"
	"github.com/okian/pulse/internal/domain/engine"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/scoring"
	"github.com/okian/pulse/pkg/protect"
	. "github.com/smartystreets/goconvey/convey"
)

var now0 = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

type staticBuilder struct {
	snap model.ContextSnapshot
	err  error
}

func (b staticBuilder) Build(context.Context, string) (model.ContextSnapshot, error) {
	return b.snap, b.err
}

type memRecorder struct {
	mu   sync.Mutex
	recs []model.Recommendation
	err  error
}

func (r *memRecorder) SaveRecommendation(_ context.Context, rec model.Recommendation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.recs = append(r.recs, rec)
	return nil
}

type reasonerFunc func(ctx context.Context, req reasoner.Request) (reasoner.Reasoning, error)

func (f reasonerFunc) Reason(ctx context.Context, req reasoner.Request) (reasoner.Reasoning, error) {
	return f(ctx, req)
}

func snapshot() model.ContextSnapshot {
	return model.ContextSnapshot{
		Scope:        "core",
		BuiltAt:      now0,
		Journey:      model.Journey{ID: "j1", Scope: "core", DesiredState: model.JourneyState{Goal: "Ship v2", Milestones: []string{"beta"}}},
		BlockedItems: []model.BlockedItem{{RefID: "ENG-1", Title: "auth", Priority: model.PriorityHigh}},
		Momentum:     model.Momentum{Level: model.LevelHigh, Trend: model.TrendIncreasing, Ratio: 2},
		Time:         model.TimeContext{Energy: model.LevelMedium},
		Layers:       []string{"journey", "metrics"},
	}
}

func newEngine(rec *memRecorder, opts ...engine.Option) *engine.Engine {
	s, _ := scoring.New()
	opts = append([]engine.Option{engine.WithClock(func() time.Time { return now0 })}, opts...)
	return engine.New(staticBuilder{snap: snapshot()}, s, rec, opts...)
}

func TestGenerateFallback(t *testing.T) {
	Convey("Given an engine without reasoning", t, func() {
		rec := &memRecorder{}
		var stages []string
		e := newEngine(rec, engine.WithStageHook(func(_, s string) { stages = append(stages, s) }))
		ctx := context.Background()

		first, err := e.Generate(ctx, "core")
		So(err, ShouldBeNil)

		Convey("Phase A is emitted with the disabled flag", func() {
			r := first.Response
			So(r.DebugInfo.AIReasoningUsed, ShouldBeFalse)
			So(r.DebugInfo.FallbackReason, ShouldEqual, engine.FallbackDisabled)
			So(r.PrimaryAction.Action, ShouldEqual, "Unblock: auth")
			So(r.PrimaryAction.Urgency, ShouldEqual, 0.9)
			So(r.Alternatives[0].Action, ShouldEqual, "Advance journey goal: beta")
			So(r.DebugInfo.TotalActionsConsidered, ShouldEqual, 2)
			So(r.DebugInfo.ContextLayers, ShouldResemble, []string{"journey", "metrics"})
			So(r.JourneyAlignment, ShouldEqual, "This unblock supports your journey toward Ship v2.")
			So(r.MomentumInsight, ShouldStartWith, "Momentum is strong")
			So(r.EnergyMatch, ShouldEqual, "Perfect match for medium energy level")
		})

		Convey("Every stage is visited in order", func() {
			So(stages, ShouldResemble, []string{
				engine.StageBuildingContext, engine.StageScoring, engine.StageReasoning, engine.StageEmitted,
			})
		})

		Convey("The recommendation is persisted with its snapshot", func() {
			So(len(rec.recs), ShouldEqual, 1)
			So(rec.recs[0].ID, ShouldEqual, first.ID)
			So(rec.recs[0].JourneyID, ShouldEqual, "j1")
			So(rec.recs[0].WeightsKey, ShouldEqual, scoring.DefaultWeights().Key())
			So(first.Response.RecommendationID, ShouldEqual, first.ID)
		})

		Convey("A second run ranks identically under a new id", func() {
			second, err := e.Generate(ctx, "core")
			So(err, ShouldBeNil)
			So(second.ID, ShouldNotEqual, first.ID)
			So(second.Response.PrimaryAction, ShouldResemble, first.Response.PrimaryAction)
			So(second.Response.Alternatives, ShouldResemble, first.Response.Alternatives)
			So(second.Response.ContextID, ShouldEqual, first.Response.ContextID)
			So(len(first.Response.ContextID), ShouldEqual, 32)
		})
	})
}

func TestGenerateReasoningFailures(t *testing.T) {
	Convey("Given reasoning that fails in different ways", t, func() {
		s, _ := scoring.New()
		top := s.Rank(snapshot()).Primary.Action
		ctx := context.Background()

		cases := []struct {
			name   string
			client reasonerFunc
			reason string
		}{
			{"a malformed reply", func(context.Context, reasoner.Request) (reasoner.Reasoning, error) {
				return reasoner.Reasoning{}, fmt.Errorf("parse: %w", reasoner.ErrMalformed)
			}, engine.FallbackMalformed},
			{"an open circuit", func(context.Context, reasoner.Request) (reasoner.Reasoning, error) {
				return reasoner.Reasoning{}, &protect.CircuitOpenError{Name: reasoner.CircuitName}
			}, engine.FallbackCircuitOpen},
			{"a client that honours the deadline", func(ctx context.Context, _ reasoner.Request) (reasoner.Reasoning, error) {
				<-ctx.Done()
				return reasoner.Reasoning{}, ctx.Err()
			}, engine.FallbackTimeout},
			{"an unexpected error", func(context.Context, reasoner.Request) (reasoner.Reasoning, error) {
				return reasoner.Reasoning{}, errors.New("boom")
			}, engine.FallbackError},
		}
		for _, tc := range cases {
			Convey("With "+tc.name+" Phase A is emitted verbatim", func() {
				e := newEngine(&memRecorder{}, engine.WithReasoner(tc.client, 20*time.Millisecond))
				r, err := e.Generate(ctx, "core")
				So(err, ShouldBeNil)
				So(r.Response.DebugInfo.AIReasoningUsed, ShouldBeFalse)
				So(r.Response.DebugInfo.FallbackReason, ShouldEqual, tc.reason)
				So(r.Response.PrimaryAction.Action, ShouldEqual, top)
				So(r.Response.PrimaryAction.Why, ShouldEndWith, "Score: 0.80")
			})
		}

		Convey("A client that ignores cancellation does not hold the request", func() {
			release := make(chan struct{})
			defer close(release)
			slow := reasonerFunc(func(context.Context, reasoner.Request) (reasoner.Reasoning, error) {
				<-release
				return reasoner.Reasoning{PrimaryReasoning: "late"}, nil
			})
			e := newEngine(&memRecorder{}, engine.WithReasoner(slow, 20*time.Millisecond))
			start := time.Now()
			r, err := e.Generate(ctx, "core")
			So(err, ShouldBeNil)
			So(time.Since(start), ShouldBeLessThan, time.Second)
			So(r.Response.DebugInfo.FallbackReason, ShouldEqual, engine.FallbackTimeout)
			So(r.Response.PrimaryAction.Action, ShouldEqual, top)
		})
	})
}

func TestGenerateReasoningSuccess(t *testing.T) {
	Convey("Given reasoning that proposes the reverse order", t, func() {
		var got reasoner.Request
		client := reasonerFunc(func(_ context.Context, req reasoner.Request) (reasoner.Reasoning, error) {
			got = req
			return reasoner.Reasoning{SituationAnalysis: "a", PrimaryReasoning: "b", Ranking: []int{1, 0}}, nil
		})
		ctx := context.Background()
		baseline, err := newEngine(&memRecorder{}).Generate(ctx, "core")
		So(err, ShouldBeNil)

		Convey("Without re-ranking only the narrative changes", func() {
			r, err := newEngine(&memRecorder{}, engine.WithReasoner(client, time.Second)).Generate(ctx, "core")
			So(err, ShouldBeNil)
			So(got.AllowRerank, ShouldBeFalse)
			So(len(got.Candidates), ShouldEqual, 2)
			So(r.Response.DebugInfo.AIReasoningUsed, ShouldBeTrue)
			So(r.Response.DebugInfo.FallbackReason, ShouldEqual, "")
			So(r.Response.ContextSummary, ShouldEqual, "a")
			So(r.Response.PrimaryAction.Why, ShouldEqual, "b")
			So(r.Response.JourneyAlignment, ShouldEqual, "Supports overall objectives")
			So(r.Response.PrimaryAction.Action, ShouldEqual, baseline.Response.PrimaryAction.Action)
		})

		Convey("With re-ranking the selected set is reordered and scores are untouched", func() {
			r, err := newEngine(&memRecorder{}, engine.WithReasoner(client, time.Second), engine.WithRerank(true)).Generate(ctx, "core")
			So(err, ShouldBeNil)
			So(got.AllowRerank, ShouldBeTrue)
			So(r.Response.PrimaryAction.Action, ShouldEqual, baseline.Response.Alternatives[0].Action)
			So(r.Response.Alternatives[0].Action, ShouldEqual, baseline.Response.PrimaryAction.Action)
			So(len(r.Response.Alternatives), ShouldEqual, len(baseline.Response.Alternatives))
			So(r.Response.DebugInfo.Scores, ShouldResemble, baseline.Response.DebugInfo.Scores)
		})
	})
}

func TestGenerateTerminalFailures(t *testing.T) {
	Convey("Given failing collaborators", t, func() {
		s, _ := scoring.New()
		ctx := context.Background()

		Convey("A build failure emits nothing", func() {
			rec := &memRecorder{}
			var stages []string
			cause := errors.New("no journey")
			e := engine.New(staticBuilder{err: cause}, s, rec, engine.WithStageHook(func(_, st string) { stages = append(stages, st) }))
			_, err := e.Generate(ctx, "core")
			So(errors.Is(err, engine.ErrBuildContext), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(rec.recs, ShouldBeEmpty)
			So(stages, ShouldResemble, []string{engine.StageBuildingContext})
		})

		Convey("A store failure is surfaced", func() {
			e := newEngine(&memRecorder{err: errors.New("disk full")})
			_, err := e.Generate(ctx, "core")
			So(errors.Is(err, engine.ErrPersist), ShouldBeTrue)
		})

		Convey("A canceled request is not emitted", func() {
			rec := &memRecorder{}
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := newEngine(rec).Generate(cctx, "core")
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(rec.recs, ShouldBeEmpty)
		})
	})
}

func TestNarrative(t *testing.T) {
	Convey("Momentum insight follows the trend", t, func() {
		So(engine.MomentumInsight(model.Momentum{Trend: model.TrendDecreasing, Ratio: 0.5}), ShouldEqual,
			"Activity has slowed (↓0.5x). Consider quick wins to rebuild momentum.")
		So(engine.MomentumInsight(model.Momentum{}), ShouldStartWith, "Activity is steady")
	})

	Convey("Energy match bands", t, func() {
		s := scoring.Scored{Factors: scoring.Factors{Energy: 0.6}}
		So(engine.EnergyMatch(s, "low"), ShouldEqual, "Good fit for current low energy")
		s.Factors.Energy = 0.3
		So(engine.EnergyMatch(s, "high"), ShouldEqual, "May be challenging given high energy level")
	})
}
