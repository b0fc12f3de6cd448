package preferences

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"mealplan/internal/database"

	"github.com/go-playground/validator/v10"
)

// Preferences are a user's standing dietary constraints and tastes.
type Preferences struct {
	DietaryRestrictions []string `json:"dietary_restrictions,omitempty" validate:"max=20,dive,min=1,max=64"`
	Allergies           []string `json:"allergies,omitempty" validate:"max=20,dive,min=1,max=64"`
	CuisinePreferences  []string `json:"cuisine_preferences,omitempty" validate:"max=20,dive,min=1,max=64"`
	DislikedIngredients []string `json:"disliked_ingredients,omitempty" validate:"max=50,dive,min=1,max=64"`
}

// IsEmpty reports whether no preference is set.
func (p Preferences) IsEmpty() bool {
	return len(p.DietaryRestrictions) == 0 && len(p.Allergies) == 0 &&
		len(p.CuisinePreferences) == 0 && len(p.DislikedIngredients) == 0
}

// Normalized returns a copy with every entry lower-cased, trimmed and
// de-duplicated, keeping first-seen order.
func (p Preferences) Normalized() Preferences {
	return Preferences{
		DietaryRestrictions: normalizeList(p.DietaryRestrictions),
		Allergies:           normalizeList(p.Allergies),
		CuisinePreferences:  normalizeList(p.CuisinePreferences),
		DislikedIngredients: normalizeList(p.DislikedIngredients),
	}
}

func normalizeList(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		s = strings.ReplaceAll(s, "_", "-")
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Store fetches a user's preferences. Unknown users yield empty preferences.
type Store interface {
	Get(ctx context.Context, userID string) (Preferences, error)
}

// Repository keeps preferences in the user_preferences table.
type Repository struct {
	db       *sql.DB
	validate *validator.Validate
}

// NewRepository creates a new Repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, validate: validator.New()}
}

// Get returns the stored preferences, or empty preferences when none exist.
func (r *Repository) Get(ctx context.Context, userID string) (Preferences, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM user_preferences WHERE user_id = ?`, userID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Preferences{}, nil
		}
		return Preferences{}, fmt.Errorf("failed to get preferences: %w", err)
	}

	var p Preferences
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Preferences{}, fmt.Errorf("failed to unmarshal preferences: %w", err)
	}
	return p, nil
}

// Save validates and upserts a user's preferences.
func (r *Repository) Save(ctx context.Context, userID string, p Preferences) error {
	p = p.Normalized()
	if err := r.validate.Struct(p); err != nil {
		return fmt.Errorf("invalid preferences: %w", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		userID, string(data), database.ToUnix(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}
