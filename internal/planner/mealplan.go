package planner

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"

	"mealplan/internal/recipe"
)

// PlanStatus represents the lifecycle state of a meal plan.
type PlanStatus string

const (
	StatusDraft PlanStatus = "DRAFT"
	StatusFinal PlanStatus = "FINAL"
)

// MealType is a slot within a day.
type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
	MealSnack     MealType = "snack"
)

var mealOrder = []MealType{MealBreakfast, MealLunch, MealDinner, MealSnack}

// ParseMealType normalizes s into a MealType.
func ParseMealType(s string) (MealType, bool) {
	mt := MealType(strings.ToLower(strings.TrimSpace(s)))
	return mt, slices.Contains(mealOrder, mt)
}

func (m MealType) rank() int {
	return slices.Index(mealOrder, m)
}

// RequiredMealTypes returns the meal types every day must contain.
// Five and six meals per day collapse onto the four distinct meal types.
func RequiredMealTypes(mealsPerDay int) []MealType {
	switch {
	case mealsPerDay <= 1:
		return []MealType{MealDinner}
	case mealsPerDay == 2:
		return []MealType{MealLunch, MealDinner}
	case mealsPerDay == 3:
		return []MealType{MealBreakfast, MealLunch, MealDinner}
	default:
		return slices.Clone(mealOrder)
	}
}

// Slot is one (day, meal type) assignment.
type Slot struct {
	Day         int             `json:"day"`
	MealType    MealType        `json:"meal_type"`
	RecipeID    string          `json:"recipe_id"`
	RecipeTitle string          `json:"recipe_title"`
	Category    recipe.Category `json:"category"`
	Score       float64         `json:"score"`
}

// GroceryItem is one consolidated shopping line.
type GroceryItem struct {
	Name     string `json:"name" validate:"required,max=120"`
	Quantity string `json:"quantity" validate:"max=32"`
	Unit     string `json:"unit" validate:"max=32"`
	Category string `json:"category" validate:"required,max=40"`
}

// Grocery list sources.
const (
	GrocerySourceLLM     = "llm"
	GrocerySourceKeyword = "keyword"
	GrocerySourceRecipes = "recipes"
	GrocerySourceEmpty   = "empty"
)

// GroceryList is the cached shopping list derived from a plan.
type GroceryList struct {
	Items       []GroceryItem `json:"items"`
	GeneratedAt time.Time     `json:"generated_at"`
	PlanHash    string        `json:"plan_hash"`
	Source      string        `json:"source"`
}

// MealPlan is the plan aggregate. Every slot mutation clears GroceryList.
type MealPlan struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	Days        int          `json:"days"`
	MealsPerDay int          `json:"meals_per_day"`
	Slots       []Slot       `json:"slots"`
	Explanation string       `json:"explanation"`
	Degraded    bool         `json:"degraded"`
	Status      PlanStatus   `json:"status"`
	GroceryList *GroceryList `json:"grocery_list,omitempty"`
	Version     int          `json:"version"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// SlotIndex returns the index of the (day, meal type) slot.
func (p *MealPlan) SlotIndex(day int, mt MealType) (int, bool) {
	for i, s := range p.Slots {
		if s.Day == day && s.MealType == mt {
			return i, true
		}
	}
	return -1, false
}

// RecipeIDs returns the distinct recipe ids in slot order.
func (p *MealPlan) RecipeIDs() []string {
	var ids []string
	for _, s := range p.Slots {
		if !slices.Contains(ids, s.RecipeID) {
			ids = append(ids, s.RecipeID)
		}
	}
	return ids
}

// SortSlots orders slots by day, then meal type.
func (p *MealPlan) SortSlots() {
	sortSlots(p.Slots)
}

func sortSlots(slots []Slot) {
	slices.SortFunc(slots, func(a, b Slot) int {
		if c := cmp.Compare(a.Day, b.Day); c != 0 {
			return c
		}
		return cmp.Compare(a.MealType.rank(), b.MealType.rank())
	})
}

// ContentHash identifies the slot assignment a grocery list was derived from.
func (p *MealPlan) ContentHash() string {
	lines := make([]string, 0, len(p.Slots))
	for _, s := range p.Slots {
		lines = append(lines, fmt.Sprintf("%d|%s|%s", s.Day, s.MealType, s.RecipeID))
	}
	slices.Sort(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// Clone returns a deep copy of the plan.
func (p *MealPlan) Clone() *MealPlan {
	c := *p
	c.Slots = slices.Clone(p.Slots)
	if p.GroceryList != nil {
		gl := *p.GroceryList
		gl.Items = slices.Clone(p.GroceryList.Items)
		c.GroceryList = &gl
	}
	return &c
}
