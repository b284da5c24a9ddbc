package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/okian/pulse/internal/domain/ingest"
)

// IngestDependencies runs or queues ingestion.
type IngestDependencies interface {
	RunIngest(ctx context.Context, req ingest.Request) (ingest.Report, error)
	Submit(ctx context.Context, scope string) error
}

// IngestHandler handles ingestion triggers.
type IngestHandler struct {
	deps IngestDependencies
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(deps IngestDependencies) *IngestHandler {
	return &IngestHandler{deps: deps}
}

type ingestRequest struct {
	Scope  string    `json:"scope"`
	Since  time.Time `json:"since"`
	Until  time.Time `json:"until"`
	DryRun bool      `json:"dry_run"`
	// Async queues a cursor-driven run and returns immediately.
	Async bool `json:"async"`
}

func (req ingestRequest) validate() error {
	switch {
	case strings.TrimSpace(req.Scope) == "":
		return errors.New("missing scope")
	case req.Async && (req.DryRun || !req.Since.IsZero() || !req.Until.IsZero()):
		return errors.New("async runs resume from the stored cursor; since, until and dry_run are not allowed")
	}
	return nil
}

type queuedResponse struct {
	Status string `json:"status"`
	Scope  string `json:"scope"`
}

// HandleRun handles POST /ingest/run.
func (h *IngestHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	const op = "api.ingest_run"
	var req ingestRequest
	if err := decode(w, r, op, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}

	if req.Async {
		if err := h.deps.Submit(r.Context(), req.Scope); err != nil {
			writeError(w, classify(op, err))
			return
		}
		writeJSON(w, http.StatusAccepted, queuedResponse{Status: "queued", Scope: req.Scope})
		return
	}

	report, err := h.deps.RunIngest(r.Context(), ingest.Request{
		Scope:  req.Scope,
		Since:  req.Since,
		Until:  req.Until,
		DryRun: req.DryRun,
	})
	if err != nil {
		writeError(w, classify(op, err))
		return
	}
	writeJSON(w, http.StatusOK, report)
}
