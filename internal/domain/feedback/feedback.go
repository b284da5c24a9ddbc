// Package feedback records outcomes against emitted recommendations and
// exposes the read-only aggregates a weight tuner would consume.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/pulse/internal/adapters/repository"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// DefaultWindow is used by Stats when no window is given.
const DefaultWindow = 7 * 24 * time.Hour

var outcomes = map[string]struct{}{
	model.OutcomeCompleted: {},
	model.OutcomeProgress:  {},
	model.OutcomeBlocked:   {},
	model.OutcomeDeferred:  {},
	model.OutcomeSkipped:   {},
}

// Store is the persistence the loop needs.
type Store interface {
	RecordFeedback(ctx context.Context, id string, fb model.Feedback, at time.Time) error
	FeedbackStats(ctx context.Context, since time.Time) ([]model.WeightStats, error)
}

// Loop validates and records feedback.
type Loop struct {
	store Store
	now   func() time.Time
	log   logger.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(lg logger.Logger) Option {
	return func(l *Loop) {
		if lg != nil {
			l.log = lg
		}
	}
}

// New creates a Loop.
func New(store Store, opts ...Option) *Loop {
	l := &Loop{store: store, now: time.Now, log: logger.Nop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Validate checks fb without touching the store.
func Validate(fb model.Feedback) error {
	if fb.FeedbackScore != nil {
		switch *fb.FeedbackScore {
		case -1, 0, 1:
		default:
			return fmt.Errorf("%w: got %d", ErrInvalidScore, *fb.FeedbackScore)
		}
	}
	if fb.Outcome != nil {
		if _, ok := outcomes[*fb.Outcome]; !ok {
			return fmt.Errorf("%w: %q", ErrInvalidOutcome, *fb.Outcome)
		}
	}
	if fb.TimeToComplete != nil && *fb.TimeToComplete < 0 {
		return ErrInvalidDuration
	}
	return nil
}

// Record stores fb against recommendation id, replacing any earlier
// submission as a whole.
func (l *Loop) Record(ctx context.Context, id string, fb model.Feedback) error {
	if err := Validate(fb); err != nil {
		return err
	}
	if id == "" {
		return ErrRecommendationNotFound
	}
	err := l.store.RecordFeedback(ctx, id, fb, l.now().UTC())
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%q: %w", id, ErrRecommendationNotFound)
	}
	if err != nil {
		return fmt.Errorf("feedback: %w", err)
	}

	outcome := "none"
	if fb.Outcome != nil {
		outcome = *fb.Outcome
	}
	metrics.RecordFeedback(outcome)
	l.log.Info(ctx, "feedback recorded", logger.String("recommendation", id), logger.String("outcome", outcome))
	return nil
}

// Stats aggregates feedback of recommendations created within window.
func (l *Loop) Stats(ctx context.Context, window time.Duration) ([]model.WeightStats, error) {
	if window == 0 {
		window = DefaultWindow
	}
	if window < 0 {
		return nil, ErrInvalidWindow
	}
	stats, err := l.store.FeedbackStats(ctx, l.now().UTC().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("feedback: stats: %w", err)
	}
	if stats == nil {
		stats = []model.WeightStats{}
	}
	return stats, nil
}
