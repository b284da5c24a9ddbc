package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/okian/pulse/internal/domain/model"
)

// EventQuery selects events. Zero From/To leave that side unbounded; both
// bounds are inclusive. Results are ordered by timestamp, ascending unless
// Newest is set.
type EventQuery struct {
	Scope  string
	From   time.Time
	To     time.Time
	Source model.Source
	Type   string
	Limit  int
	Newest bool
}

const insertEventSQL = `INSERT INTO events (id, ts, scope, source, actor, type, ref_id, title, url, meta, ingested_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (source, ref_id, type, ts) DO NOTHING`

// InsertBatch stores events with set semantics on (source, ref_id, type, ts)
// and returns how many rows were new. Duplicates are skipped, not errors.
// The batch is atomic.
func (s *Store) InsertBatch(ctx context.Context, events []model.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	inserted := 0
	err := s.runTx(ctx, func(tx *sql.Tx) error {
		inserted = 0
		stmt, err := tx.PrepareContext(ctx, insertEventSQL)
		if err != nil {
			return fmt.Errorf("repository: prepare insert: %w", err)
		}
		defer stmt.Close()

		at := nanos(s.now())
		for i := range events {
			e := &events[i]
			if !e.Source.Valid() || e.Type == "" || e.RefID == "" || e.TS.IsZero() {
				return fmt.Errorf("%w: event %d lacks source, type, ref_id or ts", ErrInvalidQuery, i)
			}
			id := e.ID
			if id == "" {
				id = model.EventID(e.Source, e.RefID, e.Type, e.TS)
			}
			meta := string(e.Meta)
			if meta == "" {
				meta = "{}"
			}
			res, err := stmt.ExecContext(ctx, id, nanos(e.TS), e.Scope, string(e.Source), e.Actor,
				e.Type, e.RefID, e.Title, e.URL, meta, at)
			if err != nil {
				return fmt.Errorf("repository: insert event: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("repository: rows affected: %w", err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// Query returns the events matching q.
func (s *Store) Query(ctx context.Context, q EventQuery) ([]model.Event, error) {
	if q.Limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return nil, fmt.Errorf("%w: to before from", ErrInvalidQuery)
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var (
		where []string
		args  []any
	)
	if q.Scope != "" {
		where = append(where, "scope = ?")
		args = append(args, q.Scope)
	}
	if !q.From.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, nanos(q.From))
	}
	if !q.To.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, nanos(q.To))
	}
	if q.Source != "" {
		where = append(where, "source = ?")
		args = append(args, string(q.Source))
	}
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, q.Type)
	}

	var b strings.Builder
	b.WriteString("SELECT id, ts, scope, source, actor, type, ref_id, title, url, meta FROM events")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if q.Newest {
		b.WriteString(" ORDER BY ts DESC, id DESC")
	} else {
		b.WriteString(" ORDER BY ts ASC, id ASC")
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("repository: query events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var (
			e      model.Event
			ts     int64
			source string
			meta   string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Scope, &source, &e.Actor, &e.Type, &e.RefID, &e.Title, &e.URL, &meta); err != nil {
			return nil, fmt.Errorf("repository: scan event: %w", err)
		}
		e.TS = fromNanos(ts)
		e.Source = model.Source(source)
		e.Meta = json.RawMessage(meta)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: iterate events: %w", err)
	}
	return out, nil
}

// CountEvents returns the number of stored events for scope ("" for all).
func (s *Store) CountEvents(ctx context.Context, scope string) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	var n int
	var err error
	if scope == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE scope = ?", scope).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("repository: count events: %w", err)
	}
	return n, nil
}
