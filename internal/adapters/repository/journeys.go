package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/okian/pulse/internal/domain/model"
)

const journeyColumns = "id, scope, desired_state, current_state, preferences, is_active, created_at, updated_at"

// ActiveJourney returns the active journey of scope or ErrNotFound.
func (s *Store) ActiveJourney(ctx context.Context, scope string) (model.Journey, error) {
	if s.closed.Load() {
		return model.Journey{}, ErrClosed
	}
	row := s.db.QueryRowContext(ctx, "SELECT "+journeyColumns+" FROM journeys WHERE scope = ? AND is_active = 1", scope)
	j, err := scanJourney(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Journey{}, fmt.Errorf("active journey for %q: %w", scope, ErrNotFound)
	}
	return j, err
}

// SaveJourney inserts or updates j. Activating a journey deactivates the
// previous active journey of the same scope in the same transaction.
func (s *Store) SaveJourney(ctx context.Context, j model.Journey) (model.Journey, error) {
	if j.Scope == "" {
		return model.Journey{}, fmt.Errorf("%w: journey scope is empty", ErrInvalidQuery)
	}
	if j.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return model.Journey{}, fmt.Errorf("repository: journey id: %w", err)
		}
		j.ID = id.String()
	}
	now := s.now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	desired, err := json.Marshal(j.DesiredState)
	if err != nil {
		return model.Journey{}, fmt.Errorf("repository: encode desired state: %w", err)
	}
	current, err := json.Marshal(j.CurrentState)
	if err != nil {
		return model.Journey{}, fmt.Errorf("repository: encode current state: %w", err)
	}
	prefs, err := json.Marshal(j.Preferences)
	if err != nil {
		return model.Journey{}, fmt.Errorf("repository: encode preferences: %w", err)
	}

	err = s.runTx(ctx, func(tx *sql.Tx) error {
		if j.IsActive {
			if _, err := tx.ExecContext(ctx,
				"UPDATE journeys SET is_active = 0, updated_at = ? WHERE scope = ? AND is_active = 1 AND id <> ?",
				nanos(now), j.Scope, j.ID); err != nil {
				return fmt.Errorf("repository: deactivate journeys: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO journeys (`+journeyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	scope = excluded.scope,
	desired_state = excluded.desired_state,
	current_state = excluded.current_state,
	preferences = excluded.preferences,
	is_active = excluded.is_active,
	updated_at = excluded.updated_at`,
			j.ID, j.Scope, string(desired), string(current), string(prefs), boolInt(j.IsActive),
			nanos(j.CreatedAt), nanos(j.UpdatedAt))
		if err != nil {
			return fmt.Errorf("repository: save journey: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Journey{}, err
	}
	return j, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJourney(row rowScanner) (model.Journey, error) {
	var (
		j                       model.Journey
		desired, current, prefs string
		active                  int
		created, updated        int64
	)
	if err := row.Scan(&j.ID, &j.Scope, &desired, &current, &prefs, &active, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Journey{}, err
		}
		return model.Journey{}, fmt.Errorf("repository: scan journey: %w", err)
	}
	if err := json.Unmarshal([]byte(desired), &j.DesiredState); err != nil {
		return model.Journey{}, fmt.Errorf("repository: decode desired state: %w", err)
	}
	if err := json.Unmarshal([]byte(current), &j.CurrentState); err != nil {
		return model.Journey{}, fmt.Errorf("repository: decode current state: %w", err)
	}
	if err := json.Unmarshal([]byte(prefs), &j.Preferences); err != nil {
		return model.Journey{}, fmt.Errorf("repository: decode preferences: %w", err)
	}
	j.IsActive = active == 1
	j.CreatedAt = fromNanos(created)
	j.UpdatedAt = fromNanos(updated)
	return j, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
