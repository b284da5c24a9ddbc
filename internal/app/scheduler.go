package service

import (
	"context"
	"errors"
	"time"

	"github.com/okian/pulse/internal/domain/dedupe"
	"github.com/okian/pulse/pkg/logger"
)

// Submitter queues an ingestion run for a scope.
type Submitter interface {
	Submit(ctx context.Context, scope string) error
}

// Scheduler submits one run per scope on every tick. Scopes that still
// have a pending run are skipped.
type Scheduler struct {
	interval time.Duration
	scopes   []string
	submit   Submitter
	after    func(ctx context.Context)
	log      logger.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithHousekeeping runs fn after every tick.
func WithHousekeeping(fn func(ctx context.Context)) SchedulerOption {
	return func(s *Scheduler) {
		if fn != nil {
			s.after = fn
		}
	}
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l logger.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// NewScheduler creates a scheduler for scopes.
func NewScheduler(interval time.Duration, scopes []string, submit Submitter, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		interval: interval,
		scopes:   scopes,
		submit:   submit,
		after:    func(context.Context) {},
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks immediately and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick submits every scope once and returns how many were queued.
func (s *Scheduler) Tick(ctx context.Context) int {
	queued := 0
	for _, scope := range s.scopes {
		err := s.submit.Submit(ctx, scope)
		switch {
		case err == nil:
			queued++
		case errors.Is(err, dedupe.ErrPending):
			s.log.Debug(ctx, "scope still pending", logger.String("scope", scope))
		default:
			s.log.Warn(ctx, "schedule ingestion failed", logger.String("scope", scope), logger.Error(err))
		}
	}
	s.after(ctx)
	return queued
}
