// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/okian/pulse/internal/adapters/http/swagger"
	"github.com/okian/pulse/internal/domain/ingest"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/protect"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// RunIngest runs ingestion synchronously; Submit queues it.
	RunIngest(ctx context.Context, req ingest.Request) (ingest.Report, error)
	Submit(ctx context.Context, scope string) error

	Generate(ctx context.Context, scope string) (model.Recommendation, error)
	RecordFeedback(ctx context.Context, id string, fb model.Feedback) error
	FeedbackStats(ctx context.Context, window time.Duration) ([]model.WeightStats, error)

	Journey(ctx context.Context, scope string) (model.Journey, error)
	Circuits() []protect.Snapshot
	Ping(ctx context.Context) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	ingestHandler   *IngestHandler
	priorityHandler *PriorityHandler
	journeyHandler  *JourneyHandler
	log             logger.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...ServerOption) *Server {
	s := &Server{
		healthHandler:   NewHealthHandler(deps),
		statsHandler:    NewStatsHandler(statsProvider),
		ingestHandler:   NewIngestHandler(deps),
		priorityHandler: NewPriorityHandler(deps),
		journeyHandler:  NewJourneyHandler(deps),
		log:             logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the router serving every endpoint.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(LoggingMiddleware(s.log))

	r.Get("/healthz", s.healthHandler.HandleMetrics)
	r.Get("/metrics", s.healthHandler.HandleMetrics)
	r.Get("/readyz", s.healthHandler.HandleReady)
	r.Get("/stats", s.statsHandler.HandleStats)
	r.Get("/circuits", s.healthHandler.HandleCircuits)

	r.Post("/ingest/run", s.ingestHandler.HandleRun)

	r.Route("/priority", func(r chi.Router) {
		r.Post("/generate", s.priorityHandler.HandleGenerate)
		r.Post("/feedback", s.priorityHandler.HandleFeedback)
		r.Get("/feedback/stats", s.priorityHandler.HandleStats)
	})

	r.Get("/journey/state", s.journeyHandler.HandleState)

	swagger.Register(r)
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status via its kind.
func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, op string, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return WrapKind(op, ErrBadRequest, err)
	}
	return nil
}
