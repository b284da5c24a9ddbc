package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/okian/pulse/internal/domain/model"
)

// SaveRecommendation persists a freshly generated recommendation.
func (s *Store) SaveRecommendation(ctx context.Context, r model.Recommendation) error {
	snap, err := json.Marshal(r.Snapshot)
	if err != nil {
		return fmt.Errorf("repository: encode snapshot: %w", err)
	}
	resp, err := json.Marshal(r.Response)
	if err != nil {
		return fmt.Errorf("repository: encode response: %w", err)
	}
	return s.runTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO recommendations
(id, created_at, scope, journey_id, weights_key, context_snapshot, response) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, nanos(r.CreatedAt), r.Scope, r.JourneyID, r.WeightsKey, string(snap), string(resp))
		if err != nil {
			return fmt.Errorf("repository: save recommendation: %w", err)
		}
		return nil
	})
}

const recommendationColumns = `id, created_at, scope, journey_id, weights_key, context_snapshot, response,
action_taken, outcome, feedback_score, time_to_complete, completed_at`

// Recommendation loads one recommendation by id.
func (s *Store) Recommendation(ctx context.Context, id string) (model.Recommendation, error) {
	if s.closed.Load() {
		return model.Recommendation{}, ErrClosed
	}
	row := s.db.QueryRowContext(ctx, "SELECT "+recommendationColumns+" FROM recommendations WHERE id = ?", id)
	r, err := scanRecommendation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Recommendation{}, fmt.Errorf("recommendation %q: %w", id, ErrNotFound)
	}
	return r, err
}

// RecentRecommendations returns up to n digests for scope, newest first.
func (s *Store) RecentRecommendations(ctx context.Context, scope string, n int) ([]model.RecommendationDigest, error) {
	if n <= 0 {
		return nil, nil
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at, json_extract(response, '$.primary_action.action'), outcome, feedback_score
FROM recommendations WHERE scope = ? ORDER BY created_at DESC, id DESC LIMIT ?`, scope, n)
	if err != nil {
		return nil, fmt.Errorf("repository: recent recommendations: %w", err)
	}
	defer rows.Close()

	var out []model.RecommendationDigest
	for rows.Next() {
		var (
			d       model.RecommendationDigest
			created int64
			action  sql.NullString
			outcome sql.NullString
			score   sql.NullInt64
		)
		if err := rows.Scan(&d.ID, &created, &action, &outcome, &score); err != nil {
			return nil, fmt.Errorf("repository: scan recommendation digest: %w", err)
		}
		d.CreatedAt = fromNanos(created)
		d.Action = action.String
		d.Outcome = outcome.String
		if score.Valid {
			v := int(score.Int64)
			d.FeedbackScore = &v
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordFeedback overwrites every feedback column of recommendation id.
// Nil fields are stored as NULL, so a later submission fully replaces an
// earlier one.
func (s *Store) RecordFeedback(ctx context.Context, id string, fb model.Feedback, at time.Time) error {
	return s.runTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE recommendations SET
	action_taken = ?, outcome = ?, feedback_score = ?, time_to_complete = ?, completed_at = ?
WHERE id = ?`,
			nullString(fb.ActionTaken), nullString(fb.Outcome), nullInt(fb.FeedbackScore), nullInt(fb.TimeToComplete),
			nanos(at), id)
		if err != nil {
			return fmt.Errorf("repository: record feedback: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("repository: rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("recommendation %q: %w", id, ErrNotFound)
		}
		return nil
	})
}

// FeedbackStats aggregates recommendations created at or after since,
// grouped by weight configuration.
func (s *Store) FeedbackStats(ctx context.Context, since time.Time) ([]model.WeightStats, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT weights_key, COUNT(*), COUNT(feedback_score), AVG(feedback_score), AVG(time_to_complete)
FROM recommendations WHERE created_at >= ? GROUP BY weights_key ORDER BY weights_key`, nanos(since))
	if err != nil {
		return nil, fmt.Errorf("repository: feedback stats: %w", err)
	}
	var (
		out   []model.WeightStats
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			ws        model.WeightStats
			mean, ttc sql.NullFloat64
		)
		if err := rows.Scan(&ws.WeightsKey, &ws.Recommendations, &ws.Rated, &mean, &ttc); err != nil {
			rows.Close()
			return nil, fmt.Errorf("repository: scan feedback stats: %w", err)
		}
		ws.MeanScore = mean.Float64
		ws.MeanMinutesToComplete = ttc.Float64
		ws.Outcomes = map[string]int{}
		index[ws.WeightsKey] = len(out)
		out = append(out, ws)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate feedback stats: %w", err)
	}

	orows, err := s.db.QueryContext(ctx, `SELECT weights_key, outcome, COUNT(*) FROM recommendations
WHERE created_at >= ? AND outcome IS NOT NULL GROUP BY weights_key, outcome`, nanos(since))
	if err != nil {
		return nil, fmt.Errorf("repository: outcome stats: %w", err)
	}
	defer orows.Close()
	for orows.Next() {
		var (
			key, outcome string
			n            int
		)
		if err := orows.Scan(&key, &outcome, &n); err != nil {
			return nil, fmt.Errorf("repository: scan outcome stats: %w", err)
		}
		if i, ok := index[key]; ok {
			out[i].Outcomes[outcome] = n
		}
	}
	return out, orows.Err()
}

func scanRecommendation(row rowScanner) (model.Recommendation, error) {
	var (
		r                  model.Recommendation
		created            int64
		snap, resp         string
		action, outcome    sql.NullString
		score, ttc, doneAt sql.NullInt64
	)
	if err := row.Scan(&r.ID, &created, &r.Scope, &r.JourneyID, &r.WeightsKey, &snap, &resp,
		&action, &outcome, &score, &ttc, &doneAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Recommendation{}, err
		}
		return model.Recommendation{}, fmt.Errorf("repository: scan recommendation: %w", err)
	}
	if err := json.Unmarshal([]byte(snap), &r.Snapshot); err != nil {
		return model.Recommendation{}, fmt.Errorf("repository: decode snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(resp), &r.Response); err != nil {
		return model.Recommendation{}, fmt.Errorf("repository: decode response: %w", err)
	}
	r.CreatedAt = fromNanos(created)
	r.ActionTaken = stringPtr(action)
	r.Outcome = stringPtr(outcome)
	r.FeedbackScore = intPtr(score)
	r.TimeToComplete = intPtr(ttc)
	r.CompletedAt = nullNanos(doneAt)
	return r, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
