package feedback_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/pulse/internal/adapters/repository"
	"github.com/okian/pulse/internal/domain/feedback"
	"github.com/okian/pulse/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }

func setup(t *testing.T) (*repository.Store, *feedback.Loop) {
	t.Helper()
	ctx := context.Background()
	s, err := repository.OpenMemory(ctx, repository.WithClock(func() time.Time { return t0 }))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	for i, id := range []string{"r1", "r2", "r3"} {
		key := "w1"
		if id == "r3" {
			key = "w2"
		}
		rec := model.Recommendation{
			ID: id, Scope: "core", JourneyID: "j1", WeightsKey: key,
			CreatedAt: t0.Add(-time.Duration(i+1) * time.Hour),
		}
		if err := s.SaveRecommendation(ctx, rec); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	return s, feedback.New(s, feedback.WithClock(func() time.Time { return t0 }))
}

func TestRecord(t *testing.T) {
	Convey("Given stored recommendations", t, func() {
		s, loop := setup(t)
		ctx := context.Background()

		Convey("Scores -1, 0 and 1 are stored verbatim", func() {
			for id, score := range map[string]int{"r1": -1, "r2": 0, "r3": 1} {
				So(loop.Record(ctx, id, model.Feedback{FeedbackScore: intp(score)}), ShouldBeNil)
				r, err := s.Recommendation(ctx, id)
				So(err, ShouldBeNil)
				So(*r.FeedbackScore, ShouldEqual, score)
			}
		})

		Convey("A score of 2 is rejected before the store is touched", func() {
			err := loop.Record(ctx, "r1", model.Feedback{FeedbackScore: intp(2)})
			So(errors.Is(err, feedback.ErrInvalidScore), ShouldBeTrue)
			r, _ := s.Recommendation(ctx, "r1")
			So(r.FeedbackScore, ShouldBeNil)
		})

		Convey("Unknown outcomes and negative durations are rejected", func() {
			err := loop.Record(ctx, "r1", model.Feedback{Outcome: strp("abandoned")})
			So(errors.Is(err, feedback.ErrInvalidOutcome), ShouldBeTrue)
			err = loop.Record(ctx, "r1", model.Feedback{TimeToComplete: intp(-5)})
			So(errors.Is(err, feedback.ErrInvalidDuration), ShouldBeTrue)
		})

		Convey("Unknown recommendations are reported", func() {
			err := loop.Record(ctx, "nope", model.Feedback{FeedbackScore: intp(1)})
			So(errors.Is(err, feedback.ErrRecommendationNotFound), ShouldBeTrue)
			err = loop.Record(ctx, "", model.Feedback{})
			So(errors.Is(err, feedback.ErrRecommendationNotFound), ShouldBeTrue)
		})

		Convey("A second submission overwrites the first", func() {
			So(loop.Record(ctx, "r1", model.Feedback{
				ActionTaken: strp("unblocked"), Outcome: strp(model.OutcomeCompleted), FeedbackScore: intp(1), TimeToComplete: intp(40),
			}), ShouldBeNil)
			So(loop.Record(ctx, "r1", model.Feedback{Outcome: strp(model.OutcomeDeferred)}), ShouldBeNil)
			r, err := s.Recommendation(ctx, "r1")
			So(err, ShouldBeNil)
			So(*r.Outcome, ShouldEqual, model.OutcomeDeferred)
			So(r.FeedbackScore, ShouldBeNil)
			So(r.ActionTaken, ShouldBeNil)
			So(r.TimeToComplete, ShouldBeNil)
			So(*r.CompletedAt, ShouldEqual, t0)
		})
	})
}

func TestStats(t *testing.T) {
	Convey("Given rated recommendations", t, func() {
		_, loop := setup(t)
		ctx := context.Background()
		So(loop.Record(ctx, "r1", model.Feedback{FeedbackScore: intp(1), Outcome: strp(model.OutcomeCompleted), TimeToComplete: intp(20)}), ShouldBeNil)
		So(loop.Record(ctx, "r2", model.Feedback{FeedbackScore: intp(0), Outcome: strp(model.OutcomeCompleted), TimeToComplete: intp(40)}), ShouldBeNil)

		Convey("Aggregates are grouped by weight configuration", func() {
			stats, err := loop.Stats(ctx, 0)
			So(err, ShouldBeNil)
			So(len(stats), ShouldEqual, 2)
			So(stats[0].WeightsKey, ShouldEqual, "w1")
			So(stats[0].Rated, ShouldEqual, 2)
			So(stats[0].MeanScore, ShouldEqual, 0.5)
			So(stats[0].MeanMinutesToComplete, ShouldEqual, 30.0)
			So(stats[0].Outcomes[model.OutcomeCompleted], ShouldEqual, 2)
			So(stats[1].WeightsKey, ShouldEqual, "w2")
			So(stats[1].Rated, ShouldEqual, 0)
		})

		Convey("The window excludes older recommendations", func() {
			stats, err := loop.Stats(ctx, 90*time.Minute)
			So(err, ShouldBeNil)
			So(len(stats), ShouldEqual, 1)
			So(stats[0].Recommendations, ShouldEqual, 1)
		})

		Convey("An empty window yields an empty list", func() {
			stats, err := loop.Stats(ctx, time.Minute)
			So(err, ShouldBeNil)
			So(stats, ShouldNotBeNil)
			So(stats, ShouldBeEmpty)
		})

		Convey("Negative windows are rejected", func() {
			_, err := loop.Stats(ctx, -time.Hour)
			So(errors.Is(err, feedback.ErrInvalidWindow), ShouldBeTrue)
		})
	})
}
