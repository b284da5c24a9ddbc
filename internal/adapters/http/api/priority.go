package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/okian/pulse/internal/domain/model"
)

// PriorityDependencies generates recommendations and records feedback.
type PriorityDependencies interface {
	Generate(ctx context.Context, scope string) (model.Recommendation, error)
	RecordFeedback(ctx context.Context, id string, fb model.Feedback) error
	FeedbackStats(ctx context.Context, window time.Duration) ([]model.WeightStats, error)
}

// PriorityHandler handles the recommendation endpoints.
type PriorityHandler struct {
	deps PriorityDependencies
}

// NewPriorityHandler creates a new priority handler.
func NewPriorityHandler(deps PriorityDependencies) *PriorityHandler {
	return &PriorityHandler{deps: deps}
}

type generateRequest struct {
	Scope string `json:"scope"`
}

// HandleGenerate handles POST /priority/generate.
func (h *PriorityHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	const op = "api.priority_generate"
	var req generateRequest
	if err := decode(w, r, op, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Scope) == "" {
		writeError(w, WrapKind(op, ErrBadRequest, errors.New("missing scope")))
		return
	}
	rec, err := h.deps.Generate(r.Context(), req.Scope)
	if err != nil {
		writeError(w, classify(op, err))
		return
	}
	writeJSON(w, http.StatusOK, rec.Response)
}

type feedbackRequest struct {
	RecommendationID string `json:"recommendation_id"`
	model.Feedback
}

type feedbackResponse struct {
	Status           string `json:"status"`
	RecommendationID string `json:"recommendation_id"`
}

// HandleFeedback handles POST /priority/feedback.
func (h *PriorityHandler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	const op = "api.priority_feedback"
	var req feedbackRequest
	if err := decode(w, r, op, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.RecommendationID) == "" {
		writeError(w, WrapKind(op, ErrBadRequest, errors.New("missing recommendation_id")))
		return
	}
	if err := h.deps.RecordFeedback(r.Context(), req.RecommendationID, req.Feedback); err != nil {
		writeError(w, classify(op, err))
		return
	}
	writeJSON(w, http.StatusOK, feedbackResponse{Status: "recorded", RecommendationID: req.RecommendationID})
}

type statsResponse struct {
	Window string              `json:"window"`
	Stats  []model.WeightStats `json:"stats"`
}

// defaultStatsWindow applies when ?window is absent.
const defaultStatsWindow = 7 * 24 * time.Hour

// HandleStats handles GET /priority/feedback/stats?window=168h.
func (h *PriorityHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	const op = "api.priority_feedback_stats"
	window := defaultStatsWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, WrapKind(op, ErrBadRequest, errors.New("window must be a positive duration, e.g. 168h")))
			return
		}
		window = d
	}
	stats, err := h.deps.FeedbackStats(r.Context(), window)
	if err != nil {
		writeError(w, classify(op, err))
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Window: window.String(), Stats: stats})
}
