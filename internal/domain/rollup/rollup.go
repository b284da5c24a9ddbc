// Package rollup computes execution metrics from event sets.
//
// Every function here is pure: the result depends on the set of events and
// the window bounds only, never on input order or on prior output.
package rollup

import (
	"time"

	"github.com/okian/pulse/internal/domain/model"
)

// Computer is satisfied by Aggregator; consumers accept it so tests can count calls.
type Computer interface {
	Compute(events []model.Event, window time.Duration, now time.Time) model.MetricsSnapshot
}

// Aggregator is the production Computer.
type Aggregator struct{}

// Compute implements Computer.
func (Aggregator) Compute(events []model.Event, window time.Duration, now time.Time) model.MetricsSnapshot {
	return Compute(events, window, now)
}

// Compute aggregates events with now-window <= ts <= now. The lower bound is
// inclusive. TicketsBlockedNow reflects the latest state of every ticket seen
// up to now, including tickets whose last event predates the window.
func Compute(events []model.Event, window time.Duration, now time.Time) model.MetricsSnapshot {
	from := now.Add(-window)
	snap := aggregate(events, func(ts time.Time) bool {
		return !ts.Before(from) && !ts.After(now)
	})
	snap.AsOf = now.UTC()
	snap.WindowHours = window.Hours()
	snap.TicketsBlockedNow = blockedAt(events, func(ts time.Time) bool { return !ts.After(now) })
	return snap
}

// ComputeDay aggregates the UTC day containing day over [00:00, 24:00).
func ComputeDay(events []model.Event, day time.Time) model.MetricsSnapshot {
	start := DayStart(day)
	end := start.Add(24 * time.Hour)
	snap := aggregate(events, func(ts time.Time) bool {
		return !ts.Before(start) && ts.Before(end)
	})
	snap.AsOf = end
	snap.WindowHours = 24
	snap.TicketsBlockedNow = blockedAt(events, func(ts time.Time) bool { return ts.Before(end) })
	return snap
}

// DayStart truncates t to midnight UTC.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayKey formats the daily metrics key of t.
func DayKey(t time.Time) string {
	return DayStart(t).Format(time.DateOnly)
}

func aggregate(events []model.Event, in func(time.Time) bool) model.MetricsSnapshot {
	var snap model.MetricsSnapshot
	firstReview := make(map[string]float64)

	for i := range events {
		e := &events[i]
		if !in(e.TS) {
			continue
		}
		snap.TotalEvents++
		switch e.Type {
		case model.TypePROpened, model.TypePRReopened:
			snap.PRsOpened++
		case model.TypePRMerged:
			snap.PRsMerged++
		case model.TypePRClosed:
			snap.PRsClosed++
		case model.TypePush:
			snap.Pushes++
		case model.TypeReviewSubmitted:
			snap.Reviews++
			if h, ok := reviewLatency(*e); ok {
				if prev, seen := firstReview[e.RefID]; !seen || h < prev {
					firstReview[e.RefID] = h
				}
			}
		case model.TypeTicketCreated:
			snap.TicketsCreated++
		case model.TypeTicketMoved:
			snap.TicketsMoved++
		}
	}

	if n := len(firstReview); n > 0 {
		var sum float64
		for _, h := range firstReview {
			sum += h
		}
		snap.AvgReviewHours = sum / float64(n)
		snap.ReviewSamples = n
	}
	return snap
}

// reviewLatency is the time from PR creation to this review, in hours.
func reviewLatency(e model.Event) (float64, bool) {
	m, ok := model.DecodeVCSMeta(e)
	if !ok || m.PRCreatedAt == nil {
		return 0, false
	}
	submitted := e.TS
	if m.ReviewSubmittedAt != nil {
		submitted = *m.ReviewSubmittedAt
	}
	d := submitted.Sub(*m.PRCreatedAt)
	if d < 0 {
		return 0, false
	}
	return d.Hours(), true
}

type ticketState struct {
	ts      time.Time
	blocked bool
}

// blockedAt counts tickets whose most recent event passing in is blocked.
// Events sharing the latest timestamp are OR-ed so the result is order independent.
func blockedAt(events []model.Event, in func(time.Time) bool) int {
	latest := make(map[string]ticketState)
	for i := range events {
		e := &events[i]
		if e.Source != model.SourceTracker || !in(e.TS) {
			continue
		}
		blocked := IsBlocked(*e)
		cur, seen := latest[e.RefID]
		switch {
		case !seen || e.TS.After(cur.ts):
			latest[e.RefID] = ticketState{ts: e.TS, blocked: blocked}
		case e.TS.Equal(cur.ts):
			cur.blocked = cur.blocked || blocked
			latest[e.RefID] = cur
		}
	}
	n := 0
	for _, st := range latest {
		if st.blocked {
			n++
		}
	}
	return n
}

// IsBlocked reports whether a tracker event describes a blocked ticket.
func IsBlocked(e model.Event) bool {
	if e.Type == model.TypeTicketBlocked {
		return true
	}
	m, ok := model.DecodeTrackerMeta(e)
	return ok && m.Blocked
}
