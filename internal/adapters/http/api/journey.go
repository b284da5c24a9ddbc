package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/okian/pulse/internal/domain/model"
)

// JourneyDependencies reads journeys.
type JourneyDependencies interface {
	Journey(ctx context.Context, scope string) (model.Journey, error)
}

// JourneyHandler serves the active journey of a scope.
type JourneyHandler struct {
	deps JourneyDependencies
}

// NewJourneyHandler creates a new journey handler.
func NewJourneyHandler(deps JourneyDependencies) *JourneyHandler {
	return &JourneyHandler{deps: deps}
}

// HandleState handles GET /journey/state?scope=.
func (h *JourneyHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	const op = "api.journey_state"
	scope := strings.TrimSpace(r.URL.Query().Get("scope"))
	if scope == "" {
		writeError(w, NewKind(op, ErrBadRequest))
		return
	}
	j, err := h.deps.Journey(r.Context(), scope)
	if err != nil {
		writeError(w, classify(op, err))
		return
	}
	writeJSON(w, http.StatusOK, j)
}
