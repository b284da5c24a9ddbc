package ctxbuild

import (
	"sort"
	"strings"
	"time"

	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/rollup"
)

const (
	momentumSpan    = 3 * 24 * time.Hour
	increasingRatio = 1.2
	decreasingRatio = 0.8
	reviewAfter     = 24 * time.Hour
	maxLayerItems   = 10
)

// enrichment holds the cached layers. Ages are derived at read time.
type enrichment struct {
	BlockedItems []model.BlockedItem `json:"blocked_items"`
	OpenPRs      []model.OpenPR      `json:"open_prs"`
	ActiveIssues []model.ActiveIssue `json:"active_issues"`
	Momentum     model.Momentum      `json:"momentum"`
}

type ticket struct {
	ref       string
	title     string
	url       string
	priority  int
	state     string
	stateType string
	latest    time.Time
	blocked   bool
	since     time.Time

	// group state of the previous distinct timestamp
	prevBlocked bool
	prevSince   time.Time
}

type pullRequest struct {
	ref      string
	title    string
	url      string
	repo     string
	openedAt time.Time
	open     bool
	reviewed bool
}

// enrich derives the layers from events with ts <= now. Events of equal
// timestamp are grouped, so the result does not depend on input order.
func enrich(events []model.Event, now time.Time) enrichment {
	sorted := make([]model.Event, 0, len(events))
	for _, e := range events {
		if !e.TS.After(now) {
			sorted = append(sorted, e)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].TS.Equal(sorted[j].TS) {
			return sorted[i].TS.Before(sorted[j].TS)
		}
		return sorted[i].ID < sorted[j].ID
	})

	tickets := map[string]*ticket{}
	prs := map[string]*pullRequest{}
	var out enrichment

	for _, e := range sorted {
		if e.TS.After(now.Add(-momentumSpan)) {
			out.Momentum.Recent++
		} else if e.TS.After(now.Add(-2 * momentumSpan)) {
			out.Momentum.Previous++
		}
		switch {
		case e.Source == model.SourceTracker:
			trackTicket(tickets, e)
		case model.IsPullRequest(e.Type):
			trackPR(prs, e)
		}
	}

	for _, t := range tickets {
		switch {
		case t.blocked:
			out.BlockedItems = append(out.BlockedItems, model.BlockedItem{
				RefID: t.ref, Title: t.title, URL: t.url, Priority: t.priority, BlockedSince: t.since,
			})
		case t.stateType != "completed" && t.stateType != "canceled":
			out.ActiveIssues = append(out.ActiveIssues, model.ActiveIssue{
				RefID: t.ref, Title: t.title, URL: t.url, Priority: t.priority, State: t.state, UpdatedAt: t.latest,
			})
		}
	}
	for _, p := range prs {
		if p.open {
			out.OpenPRs = append(out.OpenPRs, model.OpenPR{
				RefID: p.ref, Title: p.title, URL: p.url, Repo: p.repo, OpenedAt: p.openedAt, Reviewed: p.reviewed,
			})
		}
	}

	sort.Slice(out.BlockedItems, func(i, j int) bool {
		a, b := out.BlockedItems[i], out.BlockedItems[j]
		if wa, wb := model.PriorityWeight(a.Priority), model.PriorityWeight(b.Priority); wa != wb {
			return wa > wb
		}
		if !a.BlockedSince.Equal(b.BlockedSince) {
			return a.BlockedSince.Before(b.BlockedSince)
		}
		return a.RefID < b.RefID
	})
	sort.Slice(out.ActiveIssues, func(i, j int) bool {
		a, b := out.ActiveIssues[i], out.ActiveIssues[j]
		if wa, wb := model.PriorityWeight(a.Priority), model.PriorityWeight(b.Priority); wa != wb {
			return wa > wb
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.RefID < b.RefID
	})
	sort.Slice(out.OpenPRs, func(i, j int) bool {
		a, b := out.OpenPRs[i], out.OpenPRs[j]
		if !a.OpenedAt.Equal(b.OpenedAt) {
			return a.OpenedAt.Before(b.OpenedAt)
		}
		return a.RefID < b.RefID
	})
	out.BlockedItems = truncate(out.BlockedItems)
	out.ActiveIssues = truncate(out.ActiveIssues)
	out.OpenPRs = truncate(out.OpenPRs)

	out.Momentum.Ratio, out.Momentum.Trend = trend(out.Momentum.Recent, out.Momentum.Previous)
	return out
}

func truncate[T any](items []T) []T {
	if len(items) > maxLayerItems {
		return items[:maxLayerItems]
	}
	return items
}

func trackTicket(tickets map[string]*ticket, e model.Event) {
	t, ok := tickets[e.RefID]
	if !ok {
		t = &ticket{ref: e.RefID}
		tickets[e.RefID] = t
	}
	if !ok || e.TS.After(t.latest) {
		t.prevBlocked, t.prevSince = t.blocked, t.since
		t.latest = e.TS
		t.blocked = false
	}
	t.blocked = t.blocked || rollup.IsBlocked(e)
	switch {
	case !t.blocked:
		t.since = time.Time{}
	case t.prevBlocked:
		t.since = t.prevSince
	default:
		t.since = t.latest
	}

	if e.Title != "" {
		t.title = e.Title
	}
	if e.URL != "" {
		t.url = e.URL
	}
	if m, ok := model.DecodeTrackerMeta(e); ok {
		t.priority = m.Priority
		if m.State.Name != "" {
			t.state = m.State.Name
			t.stateType = m.State.Type
		}
	}
}

func trackPR(prs map[string]*pullRequest, e model.Event) {
	p, ok := prs[e.RefID]
	if !ok {
		p = &pullRequest{ref: e.RefID}
		prs[e.RefID] = p
	}
	if e.Title != "" {
		p.title = e.Title
	}
	if e.URL != "" && e.Type != model.TypeReviewSubmitted {
		p.url = e.URL
	}
	m, _ := model.DecodeVCSMeta(e)
	if m.Repo != "" {
		p.repo = m.Repo
	}

	switch e.Type {
	case model.TypePROpened, model.TypePRReopened:
		p.open = true
		p.reviewed = false
		p.openedAt = e.TS
		if m.PRCreatedAt != nil && e.Type == model.TypePROpened {
			p.openedAt = m.PRCreatedAt.UTC()
		}
	case model.TypePRMerged, model.TypePRClosed:
		p.open = false
	case model.TypeReviewSubmitted:
		p.reviewed = true
	}
}

// trend compares recent activity with the previous span. With no previous
// activity the ratio is 1 when anything happened recently and 0 otherwise.
func trend(recent, previous int) (float64, string) {
	var ratio float64
	switch {
	case previous > 0:
		ratio = float64(recent) / float64(previous)
	case recent > 0:
		ratio = 1
	}
	switch {
	case ratio > increasingRatio:
		return ratio, model.TrendIncreasing
	case ratio < decreasingRatio:
		return ratio, model.TrendDecreasing
	default:
		return ratio, model.TrendStable
	}
}

// level is the effective momentum level: the journey's declared level when
// valid, otherwise derived from the trend.
func level(j model.Journey, trendName string) string {
	switch strings.ToLower(j.CurrentState.Momentum) {
	case model.LevelHigh:
		return model.LevelHigh
	case model.LevelMedium:
		return model.LevelMedium
	case model.LevelLow:
		return model.LevelLow
	}
	switch trendName {
	case model.TrendIncreasing:
		return model.LevelHigh
	case model.TrendDecreasing:
		return model.LevelLow
	default:
		return model.LevelMedium
	}
}

// age fills the time-dependent fields for now.
func (e *enrichment) age(now time.Time) {
	for i := range e.BlockedItems {
		e.BlockedItems[i].DaysBlocked = now.Sub(e.BlockedItems[i].BlockedSince).Hours() / 24
	}
	for i := range e.OpenPRs {
		p := &e.OpenPRs[i]
		p.AgeHours = now.Sub(p.OpenedAt).Hours()
		p.NeedsReview = !p.Reviewed && now.Sub(p.OpenedAt) > reviewAfter
	}
	for i := range e.ActiveIssues {
		e.ActiveIssues[i].AgeDays = now.Sub(e.ActiveIssues[i].UpdatedAt).Hours() / 24
	}
}
