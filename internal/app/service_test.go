package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	service "github.com/okian/pulse/internal/app"
	"github.com/okian/pulse/internal/config"
	"github.com/okian/pulse/internal/domain/engine"
	"github.com/okian/pulse/internal/domain/feedback"
	"github.com/okian/pulse/internal/domain/ingest"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

var now0 = time.Date(2026, 4, 10, 14, 0, 0, 0, time.UTC)

// trackerSource yields a created and then blocked ticket relative to now.
type trackerSource struct {
	now      time.Time
	priority int
}

func (trackerSource) Source() model.Source { return model.SourceTracker }

func (trackerSource) Targets(scope config.Scope) []ingest.Target {
	return []ingest.Target{{Key: "tracker:" + scope.Name, Name: scope.Name}}
}

func (src trackerSource) Fetch(_ context.Context, _ ingest.FetchRequest, yield func(ingest.Page) error) error {
	created := src.now.Add(-30 * time.Hour)
	blocked := src.now.Add(-20 * time.Hour)
	ticket := func(typ string, ts time.Time, isBlocked bool) model.Event {
		meta, _ := json.Marshal(model.TrackerMeta{
			Identifier: "ENG-7",
			Priority:   src.priority,
			Blocked:    isBlocked,
			State:      model.TicketState{Name: "In Progress", Type: "started"},
			CreatedAt:  created,
			UpdatedAt:  ts,
			Raw:        json.RawMessage(`{}`),
		})
		return model.NewEvent(model.Event{
			Source: model.SourceTracker,
			Type:   typ,
			RefID:  "ENG-7",
			Title:  "auth token refresh",
			TS:     ts,
			Meta:   meta,
		})
	}
	events := []model.Event{
		ticket(model.TypeTicketCreated, created, false),
		ticket(model.TypeTicketBlocked, blocked, true),
	}
	return yield(ingest.Page{Events: events, Cursor: ingest.FormatTimeCursor(blocked)})
}

// vcsSource yields one opened PR, one merged PR and a push relative to now.
type vcsSource struct {
	now time.Time
}

func (vcsSource) Source() model.Source { return model.SourceVCS }

func (vcsSource) Targets(scope config.Scope) []ingest.Target {
	return []ingest.Target{{Key: "vcs:" + scope.Name, Name: scope.Name}}
}

func (src vcsSource) Fetch(_ context.Context, _ ingest.FetchRequest, yield func(ingest.Page) error) error {
	event := func(typ, ref string, ts time.Time, merged bool) model.Event {
		opened := ts
		meta, _ := json.Marshal(model.VCSMeta{Repo: "acme/api", Merged: merged, PRCreatedAt: &opened, Raw: json.RawMessage(`{}`)})
		return model.NewEvent(model.Event{Source: model.SourceVCS, Type: typ, RefID: ref, Title: ref, TS: ts, Meta: meta})
	}
	events := []model.Event{
		event(model.TypePROpened, "acme/api#12", src.now.Add(-2*time.Hour), false),
		event(model.TypePRMerged, "acme/api#11", src.now.Add(-5*time.Hour), true),
		event(model.TypePush, "acme/api@main", src.now.Add(-3*time.Hour), false),
	}
	return yield(ingest.Page{Events: events, Cursor: ingest.FormatTimeCursor(src.now.Add(-2 * time.Hour))})
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return seededConfig(t, "journeys:\n  - scope: core\n    desired_state:\n      goal: Ship v2 billing\n")
}

func seededConfig(t *testing.T, doc string) *config.Config {
	t.Helper()
	seed := filepath.Join(t.TempDir(), "journeys.yaml")
	if err := os.WriteFile(seed, []byte(doc), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	cfg := config.New()
	cfg.DatabasePath = ":memory:"
	cfg.JourneysFile = seed
	cfg.Scopes = []config.Scope{{Name: "core"}}
	cfg.Ingest.Interval = 0
	cfg.Ingest.WorkerCount = 1
	return cfg
}

func TestServiceLifecycle(t *testing.T) {
	Convey("Given a service that is not started", t, func() {
		svc := service.New(testConfig(t), service.WithLogger(logger.Nop()))
		ctx := context.Background()

		_, err := svc.Generate(ctx, "core")
		So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		So(errors.Is(svc.Submit(ctx, "core"), service.ErrNotStarted), ShouldBeTrue)
		So(svc.Circuits(), ShouldBeNil)
		So(svc.Stop(ctx), ShouldBeNil)
	})

	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc := service.New(testConfig(t),
			service.WithLogger(logger.Nop()),
			service.WithClock(func() time.Time { return now0 }),
			service.WithNormalizers(vcsSource{now: now0}, trackerSource{now: now0, priority: model.PriorityHigh}),
		)
		So(svc.Start(ctx), ShouldBeNil)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()
		So(svc.Ping(ctx), ShouldBeNil)

		Convey("The seeded journey is readable", func() {
			j, err := svc.Journey(ctx, "core")
			So(err, ShouldBeNil)
			So(j.DesiredState.Goal, ShouldEqual, "Ship v2 billing")
			So(j.IsActive, ShouldBeTrue)

			_, err = svc.Journey(ctx, "web")
			So(err, ShouldNotBeNil)
		})

		Convey("A blocked high-priority ticket becomes the primary action", func() {
			report, err := svc.RunIngest(ctx, ingest.Request{Scope: "core"})
			So(err, ShouldBeNil)
			So(report.Failed(), ShouldBeFalse)
			So(len(report.Results), ShouldEqual, 2)
			So(report.Results[0].EventsIngested+report.Results[1].EventsIngested, ShouldEqual, 5)

			rec, err := svc.Generate(ctx, "core")
			So(err, ShouldBeNil)
			So(rec.ID, ShouldNotBeEmpty)
			So(rec.Snapshot.Metrics.PRsMerged, ShouldEqual, 1)
			So(rec.Snapshot.Metrics.Pushes, ShouldEqual, 1)
			So(rec.Snapshot.Metrics.TicketsBlockedNow, ShouldEqual, 1)
			So(strings.HasPrefix(rec.Response.PrimaryAction.Action, "Unblock: "), ShouldBeTrue)
			So(rec.Response.DebugInfo.AIReasoningUsed, ShouldBeFalse)
			So(rec.Response.DebugInfo.FallbackReason, ShouldEqual, engine.FallbackDisabled)

			Convey("And feedback on it shows up in the stats", func() {
				score := 1
				outcome := model.OutcomeCompleted
				So(svc.RecordFeedback(ctx, rec.ID, model.Feedback{FeedbackScore: &score, Outcome: &outcome}), ShouldBeNil)

				stats, err := svc.FeedbackStats(ctx, 0)
				So(err, ShouldBeNil)
				So(len(stats), ShouldEqual, 1)
				So(stats[0].Rated, ShouldEqual, 1)
				So(stats[0].MeanScore, ShouldAlmostEqual, 1.0)
			})

			Convey("And feedback for an unknown id is rejected", func() {
				score := 0
				err := svc.RecordFeedback(ctx, "missing", model.Feedback{FeedbackScore: &score})
				So(errors.Is(err, feedback.ErrRecommendationNotFound), ShouldBeTrue)
			})
		})

		Convey("A scope without a journey cannot be scored", func() {
			_, err := svc.Generate(ctx, "web")
			So(err, ShouldNotBeNil)
		})

		Convey("Background submissions validate the scope and run", func() {
			So(errors.Is(svc.Submit(ctx, "web"), ingest.ErrUnknownScope), ShouldBeTrue)
			So(svc.Submit(ctx, "core"), ShouldBeNil)

			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				if stats := svc.Stats(ctx); stats["pending_scopes"] == int64(0) && stats["events"] == 5 {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}
			stats := svc.Stats(ctx)
			So(stats["pending_scopes"], ShouldEqual, int64(0))
			So(stats["events"], ShouldEqual, 5)
		})

		Convey("No breaker exists before an upstream call", func() {
			So(svc.Circuits(), ShouldBeEmpty)
		})

		Convey("Stop makes every call fail fast", func() {
			So(svc.Stop(ctx), ShouldBeNil)
			_, err := svc.RunIngest(ctx, ingest.Request{Scope: "core"})
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		})
	})
}

func TestBlockedTicketScenario(t *testing.T) {
	const seed = `journeys:
  - scope: core
    desired_state:
      goal: Ship v2 billing
      milestones: [beta, launch]
    current_state:
      momentum: %s
`
	bands := []struct {
		energy string
		hour   int
	}{
		{model.LevelHigh, 10},
		{model.LevelMedium, 14},
		{model.LevelLow, 20},
	}
	momentum := []string{model.LevelHigh, model.LevelMedium, model.LevelLow}
	priorities := []int{model.PriorityNone, model.PriorityNormal, model.PriorityHigh}

	for _, band := range bands {
		for _, m := range momentum {
			for _, p := range priorities {
				name := fmt.Sprintf("Given %s energy, %s momentum and a blocked %s ticket",
					band.energy, m, model.PriorityLabel(p))
				Convey(name, t, func() {
					ctx := context.Background()
					now := time.Date(2026, 4, 10, band.hour, 0, 0, 0, time.UTC)
					svc := service.New(seededConfig(t, fmt.Sprintf(seed, m)),
						service.WithLogger(logger.Nop()),
						service.WithClock(func() time.Time { return now }),
						service.WithNormalizers(vcsSource{now: now}, trackerSource{now: now, priority: p}),
					)
					So(svc.Start(ctx), ShouldBeNil)
					defer func() { _ = svc.Stop(ctx) }()

					_, err := svc.RunIngest(ctx, ingest.Request{Scope: "core"})
					So(err, ShouldBeNil)
					rec, err := svc.Generate(ctx, "core")
					So(err, ShouldBeNil)

					Convey("The blocked ticket is the primary action", func() {
						So(rec.Snapshot.Time.Energy, ShouldEqual, band.energy)
						So(rec.Snapshot.Momentum.Level, ShouldEqual, m)
						So(rec.Snapshot.Metrics.TicketsBlockedNow, ShouldEqual, 1)
						So(rec.Snapshot.Metrics.PRsMerged, ShouldEqual, 1)
						So(rec.Response.PrimaryAction.Action, ShouldEqual, "Unblock: auth token refresh")
					})
				})
			}
		}
	}
}
