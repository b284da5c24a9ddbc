package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/okian/pulse/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestEventID(t *testing.T) {
	convey.Convey("Given the uniqueness tuple of an event", t, func() {
		ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		convey.Convey("The id is deterministic and timezone independent", func() {
			a := model.EventID(model.SourceVCS, "acme/api#12", model.TypePROpened, ts)
			b := model.EventID(model.SourceVCS, "acme/api#12", model.TypePROpened, ts.In(time.FixedZone("x", 3600)))
			convey.So(a, convey.ShouldEqual, b)
			convey.So(len(a), convey.ShouldEqual, 64)
		})

		convey.Convey("Every tuple member participates in the id", func() {
			base := model.EventID(model.SourceVCS, "ref", "t", ts)
			convey.So(model.EventID(model.SourceTracker, "ref", "t", ts), convey.ShouldNotEqual, base)
			convey.So(model.EventID(model.SourceVCS, "ref2", "t", ts), convey.ShouldNotEqual, base)
			convey.So(model.EventID(model.SourceVCS, "ref", "t2", ts), convey.ShouldNotEqual, base)
			convey.So(model.EventID(model.SourceVCS, "ref", "t", ts.Add(time.Nanosecond)), convey.ShouldNotEqual, base)
		})

		convey.Convey("Field boundaries cannot be shifted", func() {
			convey.So(model.EventID(model.SourceVCS, "ab", "c", ts), convey.ShouldNotEqual, model.EventID(model.SourceVCS, "a", "bc", ts))
		})

		convey.Convey("NewEvent fills the id and converts to UTC", func() {
			e := model.NewEvent(model.Event{
				TS: ts.In(time.FixedZone("x", 7200)), Source: model.SourceTracker, Type: model.TypeTicketBlocked, RefID: "ENG-1",
			})
			convey.So(e.TS.Location(), convey.ShouldEqual, time.UTC)
			convey.So(e.ID, convey.ShouldEqual, model.EventID(model.SourceTracker, "ENG-1", model.TypeTicketBlocked, ts))
		})
	})
}

func TestMetaEnvelopes(t *testing.T) {
	convey.Convey("Given events carrying documented envelopes", t, func() {
		raw := json.RawMessage(`{"id":"1"}`)
		vcs, _ := json.Marshal(model.VCSMeta{Repo: "acme/api", Merged: true, Raw: raw})
		trk, _ := json.Marshal(model.TrackerMeta{Identifier: "ENG-1", Blocked: true, Priority: 2, Raw: raw})

		convey.Convey("Each decoder reads only its own source", func() {
			m, ok := model.DecodeVCSMeta(model.Event{Source: model.SourceVCS, Meta: vcs})
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(m.Merged, convey.ShouldBeTrue)
			convey.So(string(m.Raw), convey.ShouldEqual, `{"id":"1"}`)

			_, ok = model.DecodeVCSMeta(model.Event{Source: model.SourceTracker, Meta: vcs})
			convey.So(ok, convey.ShouldBeFalse)

			tm, ok := model.DecodeTrackerMeta(model.Event{Source: model.SourceTracker, Meta: trk})
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(tm.Blocked, convey.ShouldBeTrue)
		})

		convey.Convey("Garbage metadata is reported, not panicked on", func() {
			_, ok := model.DecodeTrackerMeta(model.Event{Source: model.SourceTracker, Meta: json.RawMessage(`[1,2`)})
			convey.So(ok, convey.ShouldBeFalse)
		})
	})
}

func TestPriority(t *testing.T) {
	convey.Convey("Tracker priorities map to impact weights", t, func() {
		convey.So(model.PriorityWeight(model.PriorityUrgent), convey.ShouldEqual, 1.0)
		convey.So(model.PriorityWeight(model.PriorityHigh), convey.ShouldEqual, 0.8)
		convey.So(model.PriorityWeight(model.PriorityNormal), convey.ShouldEqual, 0.6)
		convey.So(model.PriorityWeight(model.PriorityLow), convey.ShouldEqual, 0.4)
		convey.So(model.PriorityWeight(model.PriorityNone), convey.ShouldEqual, 0.3)
		convey.So(model.PriorityLabel(model.PriorityHigh), convey.ShouldEqual, "high")
		convey.So(model.PriorityLabel(42), convey.ShouldEqual, "none")
	})
}

func TestTypeFamilies(t *testing.T) {
	convey.Convey("Event types group into lifecycles", t, func() {
		convey.So(model.IsPullRequest(model.TypePRMerged), convey.ShouldBeTrue)
		convey.So(model.IsPullRequest(model.TypePush), convey.ShouldBeFalse)
		convey.So(model.IsTicket(model.TypeTicketMoved), convey.ShouldBeTrue)
		convey.So(model.SourceVCS.Valid(), convey.ShouldBeTrue)
		convey.So(model.Source("email").Valid(), convey.ShouldBeFalse)
	})
}
