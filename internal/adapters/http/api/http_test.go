package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/pulse/internal/adapters/http/api"
	"github.com/okian/pulse/internal/adapters/mq/queue"
	"github.com/okian/pulse/internal/domain/ctxbuild"
	"github.com/okian/pulse/internal/domain/dedupe"
	"github.com/okian/pulse/internal/domain/feedback"
	"github.com/okian/pulse/internal/domain/ingest"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/pkg/protect"
	. "github.com/smartystreets/goconvey/convey"
)

// mockDependencies records calls and returns preset errors.
type mockDependencies struct {
	ingestReq   ingest.Request
	ingestErr   error
	submitted   []string
	submitErr   error
	generateErr error
	feedbackID  string
	feedback    model.Feedback
	feedbackErr error
	window      time.Duration
	journeyErr  error
	circuits    []protect.Snapshot
	pingErr     error
}

func (m *mockDependencies) RunIngest(_ context.Context, req ingest.Request) (ingest.Report, error) {
	m.ingestReq = req
	if m.ingestErr != nil {
		return ingest.Report{}, m.ingestErr
	}
	return ingest.Report{
		Scope:  req.Scope,
		DryRun: req.DryRun,
		Results: []ingest.Result{
			{Source: model.SourceVCS, Target: "acme/api", EventsGenerated: 3, EventsIngested: 2, Skipped: 1, CursorAdvancedTo: "2026-04-10T12:00:00Z"},
			{Source: model.SourceTracker, Target: "ENG", Error: "linear: 503"},
		},
	}, nil
}

func (m *mockDependencies) Submit(_ context.Context, scope string) error {
	if m.submitErr != nil {
		return m.submitErr
	}
	m.submitted = append(m.submitted, scope)
	return nil
}

func (m *mockDependencies) Generate(_ context.Context, scope string) (model.Recommendation, error) {
	if m.generateErr != nil {
		return model.Recommendation{}, m.generateErr
	}
	return model.Recommendation{
		ID:    "rec-1",
		Scope: scope,
		Response: model.Response{
			RecommendationID: "rec-1",
			PrimaryAction:    model.PrimaryAction{Action: "Unblock: auth", Confidence: 0.9},
			Alternatives:     []model.Alternative{{Action: "Review PR: login"}},
		},
	}, nil
}

func (m *mockDependencies) RecordFeedback(_ context.Context, id string, fb model.Feedback) error {
	m.feedbackID = id
	m.feedback = fb
	return m.feedbackErr
}

func (m *mockDependencies) FeedbackStats(_ context.Context, window time.Duration) ([]model.WeightStats, error) {
	m.window = window
	return []model.WeightStats{{WeightsKey: "u0.25-i0.25-m0.25-e0.25", Recommendations: 2, Rated: 1, MeanScore: 4}}, nil
}

func (m *mockDependencies) Journey(_ context.Context, scope string) (model.Journey, error) {
	if m.journeyErr != nil {
		return model.Journey{}, m.journeyErr
	}
	return model.Journey{ID: "j1", Scope: scope, IsActive: true, DesiredState: model.JourneyState{Goal: "Ship v2"}}, nil
}

func (m *mockDependencies) Circuits() []protect.Snapshot { return m.circuits }

func (m *mockDependencies) Ping(context.Context) error { return m.pingErr }

type mockStatsProvider struct{}

func (mockStatsProvider) Stats(context.Context) map[string]any {
	return map[string]any{"started": true, "queue_length": 0}
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return out
}

func TestIngestRoutes(t *testing.T) {
	Convey("Given the API router", t, func() {
		deps := &mockDependencies{}
		h := api.NewServer(deps, mockStatsProvider{}).Routes()

		Convey("A synchronous run returns the per-source report", func() {
			w := do(h, http.MethodPost, "/ingest/run", `{"scope":"core","since":"2026-04-01T00:00:00Z","dry_run":true}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.ingestReq.Scope, ShouldEqual, "core")
			So(deps.ingestReq.DryRun, ShouldBeTrue)
			So(deps.ingestReq.Since.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)), ShouldBeTrue)

			body := decodeBody(w)
			results := body["results"].([]any)
			So(len(results), ShouldEqual, 2)
			first := results[0].(map[string]any)
			So(first["events_ingested"], ShouldEqual, float64(2))
			So(first["cursor_advanced_to"], ShouldEqual, "2026-04-10T12:00:00Z")
			So(results[1].(map[string]any)["error"], ShouldEqual, "linear: 503")
		})

		Convey("Malformed requests are rejected", func() {
			So(do(h, http.MethodPost, "/ingest/run", `{}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/ingest/run", `{"scope":"core","bogus":1}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/ingest/run", `not json`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/ingest/run", `{"scope":"core","async":true,"dry_run":true}`).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Runner errors map to statuses", func() {
			deps.ingestErr = fmt.Errorf("%w: %q", ingest.ErrUnknownScope, "web")
			So(do(h, http.MethodPost, "/ingest/run", `{"scope":"web"}`).Code, ShouldEqual, http.StatusNotFound)

			deps.ingestErr = ingest.ErrInvalidRange
			So(do(h, http.MethodPost, "/ingest/run", `{"scope":"core"}`).Code, ShouldEqual, http.StatusBadRequest)

			deps.ingestErr = errors.New("disk full")
			w := do(h, http.MethodPost, "/ingest/run", `{"scope":"core"}`)
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(decodeBody(w)["code"], ShouldEqual, "internal_error")
		})

		Convey("Async runs are queued", func() {
			w := do(h, http.MethodPost, "/ingest/run", `{"scope":"core","async":true}`)
			So(w.Code, ShouldEqual, http.StatusAccepted)
			So(deps.submitted, ShouldResemble, []string{"core"})
			So(decodeBody(w)["status"], ShouldEqual, "queued")

			Convey("And report conflicts and backpressure", func() {
				deps.submitErr = fmt.Errorf("core: %w", dedupe.ErrPending)
				So(do(h, http.MethodPost, "/ingest/run", `{"scope":"core","async":true}`).Code, ShouldEqual, http.StatusConflict)

				deps.submitErr = fmt.Errorf("core: %w", queue.ErrFull)
				So(do(h, http.MethodPost, "/ingest/run", `{"scope":"core","async":true}`).Code, ShouldEqual, http.StatusTooManyRequests)
			})
		})
	})
}

func TestPriorityRoutes(t *testing.T) {
	Convey("Given the API router", t, func() {
		deps := &mockDependencies{}
		h := api.NewServer(deps, mockStatsProvider{}).Routes()

		Convey("Generate returns the response document", func() {
			w := do(h, http.MethodPost, "/priority/generate", `{"scope":"core"}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			body := decodeBody(w)
			So(body["recommendation_id"], ShouldEqual, "rec-1")
			So(body["primary_action"].(map[string]any)["action"], ShouldEqual, "Unblock: auth")
		})

		Convey("Generate without a scope or journey fails", func() {
			So(do(h, http.MethodPost, "/priority/generate", `{"scope":" "}`).Code, ShouldEqual, http.StatusBadRequest)

			deps.generateErr = fmt.Errorf("build: %w", ctxbuild.ErrNoActiveJourney)
			So(do(h, http.MethodPost, "/priority/generate", `{"scope":"core"}`).Code, ShouldEqual, http.StatusNotFound)

			deps.generateErr = context.DeadlineExceeded
			So(do(h, http.MethodPost, "/priority/generate", `{"scope":"core"}`).Code, ShouldEqual, http.StatusGatewayTimeout)
		})

		Convey("Feedback is forwarded field by field", func() {
			w := do(h, http.MethodPost, "/priority/feedback",
				`{"recommendation_id":"rec-1","action_taken":"unblocked","outcome":"completed","feedback_score":1,"time_to_complete_minutes":30}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.feedbackID, ShouldEqual, "rec-1")
			So(*deps.feedback.Outcome, ShouldEqual, "completed")
			So(*deps.feedback.FeedbackScore, ShouldEqual, 1)
			So(*deps.feedback.TimeToComplete, ShouldEqual, 30)
			So(deps.feedback.ActionTaken, ShouldNotBeNil)
		})

		Convey("Feedback errors map to statuses", func() {
			So(do(h, http.MethodPost, "/priority/feedback", `{"feedback_score":1}`).Code, ShouldEqual, http.StatusBadRequest)

			deps.feedbackErr = feedback.ErrInvalidScore
			So(do(h, http.MethodPost, "/priority/feedback", `{"recommendation_id":"rec-1","feedback_score":9}`).Code, ShouldEqual, http.StatusBadRequest)

			deps.feedbackErr = fmt.Errorf("%q: %w", "nope", feedback.ErrRecommendationNotFound)
			So(do(h, http.MethodPost, "/priority/feedback", `{"recommendation_id":"nope"}`).Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Stats parse the window", func() {
			w := do(h, http.MethodGet, "/priority/feedback/stats?window=24h", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.window, ShouldEqual, 24*time.Hour)
			body := decodeBody(w)
			So(body["window"], ShouldEqual, "24h0m0s")
			So(len(body["stats"].([]any)), ShouldEqual, 1)

			So(do(h, http.MethodGet, "/priority/feedback/stats", "").Code, ShouldEqual, http.StatusOK)
			So(deps.window, ShouldEqual, 168*time.Hour)

			So(do(h, http.MethodGet, "/priority/feedback/stats?window=soon", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodGet, "/priority/feedback/stats?window=-1h", "").Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestReadRoutes(t *testing.T) {
	Convey("Given the API router", t, func() {
		deps := &mockDependencies{}
		h := api.NewServer(deps, mockStatsProvider{}).Routes()

		Convey("The active journey is served by scope", func() {
			w := do(h, http.MethodGet, "/journey/state?scope=core", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decodeBody(w)["desired_state"].(map[string]any)["goal"], ShouldEqual, "Ship v2")

			So(do(h, http.MethodGet, "/journey/state", "").Code, ShouldEqual, http.StatusBadRequest)

			deps.journeyErr = ctxbuild.ErrNoActiveJourney
			So(do(h, http.MethodGet, "/journey/state?scope=web", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Circuits are listed, empty as an array", func() {
			w := do(h, http.MethodGet, "/circuits", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(strings.TrimSpace(w.Body.String()), ShouldEqual, `{"circuits":[]}`)

			deps.circuits = []protect.Snapshot{{Name: "github", State: "open", Failures: 5}}
			w = do(h, http.MethodGet, "/circuits", "")
			list := decodeBody(w)["circuits"].([]any)
			So(list[0].(map[string]any)["state"], ShouldEqual, "open")
		})

		Convey("Health endpoints report metrics and readiness", func() {
			So(do(h, http.MethodGet, "/healthz", "").Code, ShouldEqual, http.StatusOK)
			So(do(h, http.MethodGet, "/metrics", "").Code, ShouldEqual, http.StatusOK)
			So(do(h, http.MethodGet, "/readyz", "").Code, ShouldEqual, http.StatusOK)

			deps.pingErr = errors.New("database is closed")
			So(do(h, http.MethodGet, "/readyz", "").Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("Stats are served as JSON", func() {
			w := do(h, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decodeBody(w)["started"], ShouldEqual, true)
		})

		Convey("The API document is served", func() {
			w := do(h, http.MethodGet, "/openapi.yaml", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "/priority/generate")
		})

		Convey("Unknown routes and methods are rejected", func() {
			So(do(h, http.MethodGet, "/leaderboard", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(h, http.MethodGet, "/ingest/run", "").Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestKindError(t *testing.T) {
	Convey("KindError matches both its kind and its cause", t, func() {
		cause := errors.New("boom")
		err := api.WrapKind("api.op", api.ErrBadRequest, cause)
		So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
		So(errors.Is(err, cause), ShouldBeTrue)
		So(err.Error(), ShouldEqual, "api.op: boom")
		So(api.NewKind("api.op", api.ErrNotFound).Error(), ShouldEqual, "api.op: not found")
	})
}
