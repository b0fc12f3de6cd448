package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mealplan/internal/database"
)

// Repository provides access to session persistence operations.
type Repository struct {
	q database.Querier
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{q: db}
}

// WithTx returns a new Repository that uses the provided transaction.
func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{q: tx}
}

// Create inserts a new session.
func (r *Repository) Create(ctx context.Context, s *Session) error {
	turns, err := json.Marshal(s.Turns)
	if err != nil {
		return fmt.Errorf("failed to marshal session turns: %w", err)
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, state, plan_id, turns, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, string(s.State), s.PlanID, string(turns),
		database.ToUnix(s.CreatedAt), database.ToUnix(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Get retrieves a session by id. It returns nil, nil when none exists.
func (r *Repository) Get(ctx context.Context, id string) (*Session, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, state, plan_id, turns, created_at, updated_at
		FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// GetActive retrieves the most recently updated open session for a user
// that is newer than since. It returns nil, nil when there is none.
func (r *Repository) GetActive(ctx context.Context, userID string, since time.Time) (*Session, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, state, plan_id, turns, created_at, updated_at
		FROM sessions
		WHERE user_id = ? AND state != ? AND updated_at >= ?
		ORDER BY updated_at DESC LIMIT 1`,
		userID, string(StateFinalized), database.ToUnix(since))
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// Update writes the state, plan id and turns of s.
func (r *Repository) Update(ctx context.Context, s *Session) error {
	turns, err := json.Marshal(s.Turns)
	if err != nil {
		return fmt.Errorf("failed to marshal session turns: %w", err)
	}
	s.UpdatedAt = time.Now().UTC()

	res, err := r.q.ExecContext(ctx, `
		UPDATE sessions SET state = ?, plan_id = ?, turns = ?, updated_at = ? WHERE id = ?`,
		string(s.State), s.PlanID, string(turns), database.ToUnix(s.UpdatedAt), s.ID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, s.ID)
	}
	return nil
}

// Delete removes a session.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// CleanupExpired removes open sessions not touched since cutoff. Finalized
// sessions are kept as the archive of how a plan came about.
func (r *Repository) CleanupExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM sessions WHERE state != ? AND updated_at < ?`,
		string(StateFinalized), database.ToUnix(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up sessions: %w", err)
	}
	return res.RowsAffected()
}

func scanSession(row *sql.Row) (*Session, error) {
	var (
		s                    Session
		state, turns         string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&s.ID, &s.UserID, &state, &s.PlanID, &turns, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	s.State = State(state)
	s.CreatedAt = database.FromUnix(createdAt)
	s.UpdatedAt = database.FromUnix(updatedAt)
	if err := json.Unmarshal([]byte(turns), &s.Turns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session turns: %w", err)
	}
	return &s, nil
}
