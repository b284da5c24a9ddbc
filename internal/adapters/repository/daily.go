package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/okian/pulse/internal/domain/model"
)

// UpsertDailyMetrics replaces the row for (date, scope) wholesale.
func (s *Store) UpsertDailyMetrics(ctx context.Context, d model.DailyMetrics) error {
	blob, err := json.Marshal(d.Metrics)
	if err != nil {
		return fmt.Errorf("repository: encode daily metrics: %w", err)
	}
	computed := d.ComputedAt
	if computed.IsZero() {
		computed = s.now()
	}
	m := d.Metrics
	return s.runTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO daily_metrics
(as_of_date, scope, prs_opened, prs_merged, avg_review_hours, review_samples, tickets_moved, tickets_blocked, metrics, computed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (as_of_date, scope) DO UPDATE SET
	prs_opened = excluded.prs_opened,
	prs_merged = excluded.prs_merged,
	avg_review_hours = excluded.avg_review_hours,
	review_samples = excluded.review_samples,
	tickets_moved = excluded.tickets_moved,
	tickets_blocked = excluded.tickets_blocked,
	metrics = excluded.metrics,
	computed_at = excluded.computed_at`,
			d.Date, d.Scope, m.PRsOpened, m.PRsMerged, m.AvgReviewHours, m.ReviewSamples,
			m.TicketsMoved, m.TicketsBlockedNow, string(blob), nanos(computed))
		if err != nil {
			return fmt.Errorf("repository: upsert daily metrics: %w", err)
		}
		return nil
	})
}

// DailyMetrics returns the stored aggregate for (date, scope).
func (s *Store) DailyMetrics(ctx context.Context, date, scope string) (model.DailyMetrics, error) {
	if s.closed.Load() {
		return model.DailyMetrics{}, ErrClosed
	}
	var (
		blob string
		at   int64
	)
	err := s.db.QueryRowContext(ctx, "SELECT metrics, computed_at FROM daily_metrics WHERE as_of_date = ? AND scope = ?",
		date, scope).Scan(&blob, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DailyMetrics{}, fmt.Errorf("daily metrics %s/%s: %w", scope, date, ErrNotFound)
	}
	if err != nil {
		return model.DailyMetrics{}, fmt.Errorf("repository: read daily metrics: %w", err)
	}
	d := model.DailyMetrics{Date: date, Scope: scope, ComputedAt: fromNanos(at)}
	if err := json.Unmarshal([]byte(blob), &d.Metrics); err != nil {
		return model.DailyMetrics{}, fmt.Errorf("repository: decode daily metrics: %w", err)
	}
	return d, nil
}
