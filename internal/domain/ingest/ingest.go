// Package ingest runs cursor-driven ingestion from the configured sources
// into the event store.
package ingest

import (
	"context"
	"time"

	"github.com/okian/pulse/internal/adapters/repository"
	"github.com/okian/pulse/internal/config"
	"github.com/okian/pulse/internal/domain/model"
)

// Target is a cursor-owning sub-scope of a source, e.g. one repository or
// one tracker team.
type Target struct {
	// Key is the ingestion cursor key, unique across sources.
	Key string
	// Name is the upstream identifier ("owner/repo", team key).
	Name string
}

// FetchRequest bounds one fetch of a target.
type FetchRequest struct {
	Scope  string
	Target Target
	// Cursor is the stored cursor value, empty when none was written.
	Cursor string
	// Since is the lower bound. It is set when the caller passed an explicit
	// range or when no cursor exists; otherwise the normalizer resumes from Cursor.
	Since time.Time
	// Until optionally bounds the upper end.
	Until time.Time
}

// Page is a batch of normalized events and the cursor that becomes valid
// once every event of the page is stored.
type Page struct {
	Events []model.Event
	Cursor string
}

// Normalizer fetches and maps the items of one source.
type Normalizer interface {
	Source() model.Source
	Targets(scope config.Scope) []Target
	// Fetch calls yield for each page. A page is yielded only when every
	// event before it has been yielded as well, so committing pages in order
	// never leaves a gap behind the cursor.
	Fetch(ctx context.Context, req FetchRequest, yield func(Page) error) error
}

// Store is the persistence the runner needs.
type Store interface {
	InsertBatch(ctx context.Context, events []model.Event) (int, error)
	Query(ctx context.Context, q repository.EventQuery) ([]model.Event, error)
	Cursor(ctx context.Context, key string) (model.Cursor, bool, error)
	SetCursor(ctx context.Context, key, value string) error
	UpsertDailyMetrics(ctx context.Context, d model.DailyMetrics) error
}

// Request triggers a run for one scope.
type Request struct {
	Scope  string    `json:"scope"`
	Since  time.Time `json:"since,omitzero"`
	Until  time.Time `json:"until,omitzero"`
	DryRun bool      `json:"dry_run,omitempty"`
}

// Result reports one source target.
type Result struct {
	Source           model.Source `json:"source"`
	Target           string       `json:"target"`
	EventsGenerated  int          `json:"events_generated"`
	EventsIngested   int          `json:"events_ingested"`
	Skipped          int          `json:"skipped"`
	CursorAdvancedTo string       `json:"cursor_advanced_to,omitempty"`
	Error            string       `json:"error,omitempty"`
}

// Report is the outcome of a run. Sources fail independently.
type Report struct {
	Scope   string        `json:"scope"`
	DryRun  bool          `json:"dry_run"`
	Results []Result      `json:"results"`
	Sample  []model.Event `json:"sample,omitempty"`
}

// Failed reports whether any target failed.
func (r Report) Failed() bool {
	for _, res := range r.Results {
		if res.Error != "" {
			return true
		}
	}
	return false
}
