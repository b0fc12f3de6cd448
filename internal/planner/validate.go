package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"mealplan/internal/llm"
	"mealplan/internal/recipe"

	"github.com/go-playground/validator/v10"
)

type rawMeal struct {
	MealType   string `json:"meal_type" validate:"required"`
	RecipeID   string `json:"recipe_id" validate:"required"`
	RecipeName string `json:"recipe_name"`
}

type rawDay struct {
	Day   int       `json:"day" validate:"required"`
	Meals []rawMeal `json:"meals" validate:"required,min=1,dive"`
}

type rawPlan struct {
	MealPlan    []rawDay `json:"meal_plan" validate:"required,min=1,dive"`
	Explanation string   `json:"explanation"`
}

// contract is what a model answer must satisfy.
type contract struct {
	days      int
	mealTypes []MealType
	allowed   map[string]recipe.Candidate
}

// parsePlan decodes a model answer and checks it against c. The returned
// violations are suitable for a corrective prompt.
func parsePlan(validate *validator.Validate, content string, c contract) ([]Slot, string, []string, error) {
	body := llm.ExtractJSON(content)
	if body == "" {
		return nil, "", []string{"the answer did not contain a JSON object"}, fmt.Errorf("%w: no JSON object in response", ErrValidationFailed)
	}

	var raw rawPlan
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, "", []string{"the JSON did not match the required shape: " + err.Error()},
			fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	if err := validate.Struct(raw); err != nil {
		violations := schemaViolations(err)
		return nil, "", violations, fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(violations, "; "))
	}

	slots, violations := checkContract(raw, c)
	if len(violations) > 0 {
		return nil, "", violations, fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(violations, "; "))
	}
	return slots, strings.TrimSpace(raw.Explanation), nil, nil
}

func schemaViolations(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Sprintf("field %s failed %q", fe.Namespace(), fe.Tag()))
	}
	return out
}

func checkContract(raw rawPlan, c contract) ([]Slot, []string) {
	var violations []string
	var slots []Slot
	seenDays := make(map[int]bool)

	for _, d := range raw.MealPlan {
		if d.Day < 1 || d.Day > c.days {
			violations = append(violations, fmt.Sprintf("day %d is outside 1..%d", d.Day, c.days))
			continue
		}
		if seenDays[d.Day] {
			violations = append(violations, fmt.Sprintf("day %d appears more than once", d.Day))
			continue
		}
		seenDays[d.Day] = true

		seenMeals := make(map[MealType]bool)
		for _, m := range d.Meals {
			mt, ok := ParseMealType(m.MealType)
			if !ok || !slices.Contains(c.mealTypes, mt) {
				violations = append(violations, fmt.Sprintf("day %d has unexpected meal type %q", d.Day, m.MealType))
				continue
			}
			if seenMeals[mt] {
				violations = append(violations, fmt.Sprintf("day %d has %s more than once", d.Day, mt))
				continue
			}
			seenMeals[mt] = true

			id := strings.TrimSpace(m.RecipeID)
			cand, ok := c.allowed[id]
			if !ok {
				violations = append(violations, fmt.Sprintf("day %d %s uses recipe id %q which is not in the candidate list", d.Day, mt, m.RecipeID))
				continue
			}
			slots = append(slots, Slot{
				Day:         d.Day,
				MealType:    mt,
				RecipeID:    cand.ID,
				RecipeTitle: cand.Title,
				Category:    cand.Category,
				Score:       cand.Score,
			})
		}
		for _, mt := range c.mealTypes {
			if !seenMeals[mt] {
				violations = append(violations, fmt.Sprintf("day %d is missing %s", d.Day, mt))
			}
		}
	}

	for day := 1; day <= c.days; day++ {
		if !seenDays[day] {
			violations = append(violations, fmt.Sprintf("day %d is missing", day))
		}
	}

	sortSlots(slots)
	return slots, violations
}
