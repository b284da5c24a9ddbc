package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/pulse/internal/adapters/repository"
	"github.com/okian/pulse/internal/config"
	"github.com/okian/pulse/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var now = time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)

// fakeSource yields preset pages and an optional error after them.
type fakeSource struct {
	src   model.Source
	pages []Page
	err   error

	mu   sync.Mutex
	reqs []FetchRequest
}

func (f *fakeSource) Source() model.Source { return f.src }

func (f *fakeSource) Targets(scope config.Scope) []Target {
	return []Target{{Key: string(f.src) + ":" + scope.Name, Name: scope.Name}}
}

func (f *fakeSource) Fetch(_ context.Context, req FetchRequest, yield func(Page) error) error {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	for _, p := range f.pages {
		events := append([]model.Event(nil), p.Events...)
		if err := yield(Page{Events: events, Cursor: p.Cursor}); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeSource) lastRequest() FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func vcs(typ, ref string, ts time.Time) model.Event {
	return model.NewEvent(model.Event{Source: model.SourceVCS, Type: typ, RefID: ref, TS: ts})
}

func ticket(typ, ref string, ts time.Time) model.Event {
	return model.NewEvent(model.Event{Source: model.SourceTracker, Type: typ, RefID: ref, TS: ts})
}

func newStore(t *testing.T) *repository.Store {
	t.Helper()
	s, err := repository.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunner(t *testing.T) {
	Convey("Given a runner with a vcs and tracker source", t, func() {
		ctx := context.Background()
		store := newStore(t)
		gh := &fakeSource{src: model.SourceVCS, pages: []Page{{
			Events: []model.Event{
				vcs(model.TypePROpened, "acme/api#1", now.Add(-3*time.Hour)),
				vcs(model.TypePRMerged, "acme/api#1", now.Add(-2*time.Hour)),
				vcs(model.TypePush, "abc123", now.Add(-time.Hour)),
			},
			Cursor: FormatTimeCursor(now.Add(-time.Hour)),
		}}}
		lin := &fakeSource{src: model.SourceTracker, pages: []Page{{
			Events: []model.Event{
				ticket(model.TypeTicketCreated, "ENG-1", now.Add(-4*time.Hour)),
				ticket(model.TypeTicketBlocked, "ENG-1", now.Add(-30*time.Minute)),
			},
			Cursor: FormatTimeCursor(now.Add(-30 * time.Minute)),
		}}}
		r := NewRunner(store, []config.Scope{{Name: "core"}}, []Normalizer{gh, lin}, WithClock(func() time.Time { return now }))

		Convey("A first run stores everything and advances both cursors", func() {
			rep, err := r.Run(ctx, Request{Scope: "core"})
			So(err, ShouldBeNil)
			So(rep.Failed(), ShouldBeFalse)
			So(len(rep.Results), ShouldEqual, 2)
			So(rep.Results[0].EventsIngested, ShouldEqual, 3)
			So(rep.Results[1].EventsIngested, ShouldEqual, 2)
			So(rep.Results[0].CursorAdvancedTo, ShouldEqual, FormatTimeCursor(now.Add(-time.Hour)))

			Convey("The lookback applies when no cursor exists", func() {
				So(gh.lastRequest().Since.Equal(now.Add(-72*time.Hour)), ShouldBeTrue)
			})

			Convey("Events carry the scope", func() {
				got, _ := store.Query(ctx, repository.EventQuery{Scope: "core"})
				So(len(got), ShouldEqual, 5)
			})

			Convey("A repeat run inserts nothing and resumes from the cursor", func() {
				rep, err := r.Run(ctx, Request{Scope: "core"})
				So(err, ShouldBeNil)
				So(rep.Results[0].EventsIngested, ShouldEqual, 0)
				So(rep.Results[0].Skipped, ShouldEqual, 3)
				So(rep.Results[1].EventsIngested, ShouldEqual, 0)
				So(rep.Results[0].CursorAdvancedTo, ShouldBeEmpty)
				req := gh.lastRequest()
				So(req.Since.IsZero(), ShouldBeTrue)
				So(req.Cursor, ShouldEqual, FormatTimeCursor(now.Add(-time.Hour)))
			})

			Convey("Daily metrics are recomputed for the touched day", func() {
				d, err := store.DailyMetrics(ctx, "2026-04-02", "core")
				So(err, ShouldBeNil)
				So(d.Metrics.PRsOpened, ShouldEqual, 1)
				So(d.Metrics.PRsMerged, ShouldEqual, 1)
				So(d.Metrics.TicketsBlockedNow, ShouldEqual, 1)
			})
		})

		Convey("A dry run normalizes without storing", func() {
			rep, err := r.Run(ctx, Request{Scope: "core", DryRun: true})
			So(err, ShouldBeNil)
			So(rep.DryRun, ShouldBeTrue)
			So(rep.Results[0].EventsGenerated, ShouldEqual, 3)
			So(rep.Results[0].EventsIngested, ShouldEqual, 0)
			So(len(rep.Sample), ShouldEqual, 3)
			n, _ := store.CountEvents(ctx, "")
			So(n, ShouldEqual, 0)
			_, ok, _ := store.Cursor(ctx, "vcs:core")
			So(ok, ShouldBeFalse)
		})

		Convey("Explicit ranges are passed through", func() {
			since := now.Add(-10 * time.Hour)
			_, err := r.Run(ctx, Request{Scope: "core", Since: since, Until: now})
			So(err, ShouldBeNil)
			So(gh.lastRequest().Since.Equal(since), ShouldBeTrue)
			So(gh.lastRequest().Until.Equal(now), ShouldBeTrue)
		})

		Convey("Inverted ranges are rejected", func() {
			_, err := r.Run(ctx, Request{Scope: "core", Since: now, Until: now.Add(-time.Hour)})
			So(errors.Is(err, ErrInvalidRange), ShouldBeTrue)
		})

		Convey("Unknown scopes are rejected", func() {
			_, err := r.Run(ctx, Request{Scope: "nope"})
			So(errors.Is(err, ErrUnknownScope), ShouldBeTrue)
		})
	})
}

func TestRunnerPartialFailure(t *testing.T) {
	Convey("Given a source failing after its first page", t, func() {
		ctx := context.Background()
		store := newStore(t)
		first := FormatTimeCursor(now.Add(-2 * time.Hour))
		broken := &fakeSource{
			src: model.SourceTracker,
			pages: []Page{{
				Events: []model.Event{ticket(model.TypeTicketCreated, "ENG-7", now.Add(-2*time.Hour))},
				Cursor: first,
			}},
			err: errors.New("page 2: upstream status 502"),
		}
		healthy := &fakeSource{src: model.SourceVCS, pages: []Page{{
			Events: []model.Event{vcs(model.TypePush, "sha", now.Add(-time.Hour))},
			Cursor: FormatTimeCursor(now.Add(-time.Hour)),
		}}}
		r := NewRunner(store, []config.Scope{{Name: "core"}}, []Normalizer{broken, healthy}, WithClock(func() time.Time { return now }))

		rep, err := r.Run(ctx, Request{Scope: "core"})
		So(err, ShouldBeNil)
		So(rep.Failed(), ShouldBeTrue)

		Convey("The committed prefix stays and the cursor covers only it", func() {
			So(rep.Results[0].EventsIngested, ShouldEqual, 1)
			So(rep.Results[0].Error, ShouldContainSubstring, "502")
			c, ok, _ := store.Cursor(ctx, "tracker:core")
			So(ok, ShouldBeTrue)
			So(c.Value, ShouldEqual, first)
		})

		Convey("The other source is unaffected", func() {
			So(rep.Results[1].Error, ShouldBeEmpty)
			So(rep.Results[1].EventsIngested, ShouldEqual, 1)
		})
	})
}

func TestScopeLocks(t *testing.T) {
	Convey("Given the per-scope lock", t, func() {
		l := newScopeLocks()
		release, err := l.acquire(context.Background(), "core")
		So(err, ShouldBeNil)

		Convey("Another scope is not blocked", func() {
			other, err := l.acquire(context.Background(), "web")
			So(err, ShouldBeNil)
			other()
		})

		Convey("The same scope waits until released or ctx ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err := l.acquire(ctx, "core")
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)

			release()
			again, err := l.acquire(context.Background(), "core")
			So(err, ShouldBeNil)
			again()
		})
	})
}

func TestConcurrentRunsSameScope(t *testing.T) {
	Convey("Concurrent runs of one scope never overlap", t, func() {
		store := newStore(t)
		var (
			mu      sync.Mutex
			active  int
			maxSeen int
		)
		src := &blockingSource{enter: func() {
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}}
		r := NewRunner(store, []config.Scope{{Name: "core"}}, []Normalizer{src})
		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = r.Run(context.Background(), Request{Scope: "core"})
			}()
		}
		wg.Wait()
		So(maxSeen, ShouldEqual, 1)
	})
}

type blockingSource struct {
	enter func()
	n     int
	mu    sync.Mutex
}

func (b *blockingSource) Source() model.Source { return model.SourceVCS }

func (b *blockingSource) Targets(config.Scope) []Target {
	return []Target{{Key: "vcs:x", Name: "x"}}
}

func (b *blockingSource) Fetch(_ context.Context, _ FetchRequest, yield func(Page) error) error {
	b.enter()
	b.mu.Lock()
	b.n++
	n := b.n
	b.mu.Unlock()
	return yield(Page{Events: []model.Event{vcs(model.TypePush, fmt.Sprintf("sha%d", n), now)}})
}

func TestTimeCursor(t *testing.T) {
	Convey("Time cursors never move backwards", t, func() {
		stored := FormatTimeCursor(now)
		So(MaxTimeCursor(stored, now.Add(-time.Hour)), ShouldEqual, stored)
		So(MaxTimeCursor(stored, now.Add(time.Hour)), ShouldEqual, FormatTimeCursor(now.Add(time.Hour)))
		So(MaxTimeCursor("", time.Time{}), ShouldEqual, "")
		So(MaxTimeCursor("", now), ShouldEqual, stored)

		Convey("Explicit since wins over the cursor", func() {
			since := now.Add(-5 * time.Hour)
			So(LowerBound(FetchRequest{Cursor: stored, Since: since}).Equal(since), ShouldBeTrue)
			So(LowerBound(FetchRequest{Cursor: stored}).Equal(now), ShouldBeTrue)
			So(LowerBound(FetchRequest{Cursor: "garbage"}).IsZero(), ShouldBeTrue)
		})
	})
}
