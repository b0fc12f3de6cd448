package planner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mealplan/internal/database"
)

// PlanRepository is a database-backed repository for meal plans.
type PlanRepository struct {
	q database.Querier
}

// NewPlanRepository creates a new PlanRepository.
func NewPlanRepository(d *sql.DB) *PlanRepository {
	return &PlanRepository{q: d}
}

// WithTx returns a new PlanRepository that uses the provided transaction.
func (r *PlanRepository) WithTx(tx *sql.Tx) *PlanRepository {
	return &PlanRepository{q: tx}
}

const planColumns = `id, user_id, status, days, meals_per_day, slots, explanation, degraded, grocery_list, version, created_at, updated_at`

// Create inserts a new plan with version 1.
func (r *PlanRepository) Create(ctx context.Context, p *MealPlan) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.Version = 1
	if p.Status == "" {
		p.Status = StatusDraft
	}

	slots, err := marshalSlots(p.Slots)
	if err != nil {
		return err
	}
	grocery, err := marshalGrocery(p.GroceryList)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO meal_plans (`+planColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, string(p.Status), p.Days, p.MealsPerDay, slots, p.Explanation, p.Degraded,
		grocery, p.Version, database.ToUnix(p.CreatedAt), database.ToUnix(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert meal plan: %w", err)
	}
	return nil
}

// Get loads a plan by id.
func (r *PlanRepository) Get(ctx context.Context, id string) (*MealPlan, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+planColumns+` FROM meal_plans WHERE id = ?`, id)
	p, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
		}
		return nil, err
	}
	return p, nil
}

// UpdateContent writes slots, explanation and the degraded flag of p if the
// stored version still equals p.Version. The grocery cache is cleared in
// the same statement. On success p carries the new version.
func (r *PlanRepository) UpdateContent(ctx context.Context, p *MealPlan) error {
	slots, err := marshalSlots(p.Slots)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	res, err := r.q.ExecContext(ctx, `
		UPDATE meal_plans
		SET slots = ?, explanation = ?, degraded = ?, grocery_list = NULL,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		slots, p.Explanation, p.Degraded, database.ToUnix(now), p.ID, p.Version)
	if err != nil {
		return fmt.Errorf("failed to update meal plan: %w", err)
	}
	if err := r.checkWritten(ctx, res, p.ID); err != nil {
		return err
	}

	p.Version++
	p.UpdatedAt = now
	p.GroceryList = nil
	return nil
}

// UpdateExplanation rewrites the explanation and degraded flag of p without
// touching its slots, so the grocery cache stays valid.
func (r *PlanRepository) UpdateExplanation(ctx context.Context, p *MealPlan) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE meal_plans SET explanation = ?, degraded = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		p.Explanation, p.Degraded, p.ID, p.Version)
	if err != nil {
		return fmt.Errorf("failed to update meal plan: %w", err)
	}
	if err := r.checkWritten(ctx, res, p.ID); err != nil {
		return err
	}
	p.Version++
	return nil
}

// SaveGroceryList stores list as the plan's grocery cache if the plan is
// still at expectedVersion. It reports whether the list was stored. The
// plan version is not bumped.
func (r *PlanRepository) SaveGroceryList(ctx context.Context, planID string, expectedVersion int, list *GroceryList) (bool, error) {
	data, err := marshalGrocery(list)
	if err != nil {
		return false, err
	}
	res, err := r.q.ExecContext(ctx,
		`UPDATE meal_plans SET grocery_list = ? WHERE id = ? AND version = ?`,
		data, planID, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("failed to save grocery list: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// Finalize marks the plan FINAL and records it as the user's active plan.
// Run it on a repository bound to a transaction to make both writes atomic.
func (r *PlanRepository) Finalize(ctx context.Context, planID string) (*MealPlan, error) {
	p, err := r.Get(ctx, planID)
	if err != nil {
		return nil, err
	}

	if _, err := r.q.ExecContext(ctx,
		`UPDATE meal_plans SET status = ?, version = version + 1 WHERE id = ?`,
		string(StatusFinal), planID); err != nil {
		return nil, fmt.Errorf("failed to finalize meal plan: %w", err)
	}
	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO active_plans (user_id, plan_id, activated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET plan_id = excluded.plan_id, activated_at = excluded.activated_at`,
		p.UserID, planID, database.ToUnix(time.Now().UTC())); err != nil {
		return nil, fmt.Errorf("failed to record active plan: %w", err)
	}

	p.Status = StatusFinal
	p.Version++
	return p, nil
}

// GetActive returns the user's most recently finalized plan.
func (r *PlanRepository) GetActive(ctx context.Context, userID string) (*MealPlan, error) {
	var planID string
	err := r.q.QueryRowContext(ctx, `SELECT plan_id FROM active_plans WHERE user_id = ?`, userID).Scan(&planID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no active plan for user %s", ErrPlanNotFound, userID)
		}
		return nil, fmt.Errorf("failed to get active plan: %w", err)
	}
	return r.Get(ctx, planID)
}

// ListRecentByUserID retrieves the N most recent meal plans for a given user.
func (r *PlanRepository) ListRecentByUserID(ctx context.Context, userID string, limit int) ([]MealPlan, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+planColumns+` FROM meal_plans WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent meal plans for user %s: %w", userID, err)
	}
	defer rows.Close()

	var plans []MealPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

func (r *PlanRepository) checkWritten(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	var exists int
	err = r.q.QueryRowContext(ctx, `SELECT 1 FROM meal_plans WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to check meal plan: %w", err)
	}
	return fmt.Errorf("%w: %s", ErrConcurrentUpdate, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*MealPlan, error) {
	var (
		p                    MealPlan
		status, slots        string
		grocery              sql.NullString
		createdAt, updatedAt int64
	)
	err := row.Scan(&p.ID, &p.UserID, &status, &p.Days, &p.MealsPerDay, &slots, &p.Explanation,
		&p.Degraded, &grocery, &p.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = PlanStatus(status)
	p.CreatedAt = database.FromUnix(createdAt)
	p.UpdatedAt = database.FromUnix(updatedAt)

	if err := json.Unmarshal([]byte(slots), &p.Slots); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan slots: %w", err)
	}
	if grocery.Valid && grocery.String != "" {
		var gl GroceryList
		if err := json.Unmarshal([]byte(grocery.String), &gl); err != nil {
			return nil, fmt.Errorf("failed to unmarshal grocery list: %w", err)
		}
		p.GroceryList = &gl
	}
	return &p, nil
}

func marshalSlots(slots []Slot) (string, error) {
	if slots == nil {
		slots = []Slot{}
	}
	data, err := json.Marshal(slots)
	if err != nil {
		return "", fmt.Errorf("failed to marshal plan slots: %w", err)
	}
	return string(data), nil
}

func marshalGrocery(gl *GroceryList) (sql.NullString, error) {
	if gl == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(gl)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal grocery list: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
