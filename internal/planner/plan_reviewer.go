package planner

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"text/template"

	"mealplan/internal/preferences"
	"mealplan/internal/recipe"

	"go.uber.org/zap"
)

//go:embed plan_reviewer_prompt.md
var planReviewerPrompt string

const reviewerAgent = "PlanReviewer"

var reviewerTemplate = template.Must(template.New("planreviewer").Funcs(promptFuncs).Parse(planReviewerPrompt))

// ReviseRequest asks for an existing plan to be changed according to feedback.
type ReviseRequest struct {
	Current    *MealPlan
	Feedback   string
	Prefs      preferences.Preferences
	Candidates []recipe.Candidate
}

type currentSlotView struct {
	Day        int    `json:"day"`
	MealType   string `json:"meal_type"`
	RecipeID   string `json:"recipe_id"`
	RecipeName string `json:"recipe_name"`
}

// Revise applies feedback to req.Current. The model may keep any id
// already in the plan or use a new candidate. When no valid revision is
// produced the current slots are kept and any gaps are filled greedily from
// the new candidates.
func (p *Planner) Revise(ctx context.Context, req ReviseRequest) (*Synthesis, error) {
	if req.Current == nil {
		return nil, fmt.Errorf("%w: no current plan", ErrInvalidRequest)
	}
	current := req.Current
	mealTypes := RequiredMealTypes(current.MealsPerDay)

	allowed := indexCandidates(req.Candidates)
	for _, s := range current.Slots {
		if _, ok := allowed[s.RecipeID]; !ok {
			allowed[s.RecipeID] = recipe.Candidate{ID: s.RecipeID, Title: s.RecipeTitle, Category: s.Category, Score: s.Score}
		}
	}

	revised := current.Clone()
	if len(allowed) == 0 {
		revised.Slots = []Slot{}
		revised.Explanation = noRecipesMessage
		return &Synthesis{Plan: revised, NoRecipes: true}, nil
	}

	view := make([]currentSlotView, 0, len(current.Slots))
	for _, s := range current.Slots {
		view = append(view, currentSlotView{Day: s.Day, MealType: string(s.MealType), RecipeID: s.RecipeID, RecipeName: s.RecipeTitle})
	}
	currentJSON, err := json.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal current plan: %w", err)
	}

	data := promptData{
		Days:        current.Days,
		MealTypes:   mealTypes,
		Feedback:    req.Feedback,
		CurrentPlan: string(currentJSON),
		Prefs:       req.Prefs,
		Groups:      groupCandidates(req.Candidates),
	}
	c := contract{days: current.Days, mealTypes: mealTypes, allowed: allowed}

	slots, explanation, metas, attempts, err := p.attempt(ctx, reviewerAgent, reviewerTemplate, data, c)
	syn := &Synthesis{Plan: revised, Meta: metas}
	if err != nil {
		p.logger.Warn("plan revision failed, keeping current plan",
			zap.String("stage", "reviewer"), zap.Int("attempts", attempts), zap.Error(err))
		p.metrics.Fallback("reviewer")
		revised.Slots = fillMissing(current.Slots, current.Days, mealTypes, req.Candidates)
		revised.Explanation = degradedPrefix + "feedback could not be applied automatically"
		revised.Degraded = true
		syn.Quality = quality(revised.Slots, attempts, true)
		return syn, nil
	}

	revised.Slots = slots
	revised.Explanation = explanation
	revised.Degraded = false
	syn.Quality = quality(slots, attempts, false)
	return syn, nil
}
