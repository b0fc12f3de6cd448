package replacement

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"mealplan/internal/metrics"
	"mealplan/internal/planner"
	"mealplan/internal/preferences"
	"mealplan/internal/recipe"
	"mealplan/internal/retrieval"
	"mealplan/internal/shared"

	"go.uber.org/zap"
)

var (
	// ErrSlotNotFound is returned when the plan, the slot, or the recipe
	// expected in the slot does not exist.
	ErrSlotNotFound = errors.New("plan slot not found")
	// ErrRecipeNotFound is returned when a chosen recipe was not proposed.
	ErrRecipeNotFound = errors.New("recipe not among replacement candidates")
)

const proposalTTL = time.Hour

// Request identifies the slot whose recipe should be swapped.
type Request struct {
	PlanID      string
	Day         int
	MealType    planner.MealType
	OldRecipeID string
}

// Suggestion is a ranked list of replacements for one slot.
type Suggestion struct {
	Category   recipe.Category
	Query      string
	Candidates []recipe.Candidate
}

// Config tunes the engine.
type Config struct {
	TopK               int
	Neighbors          bool
	PreferencesTimeout time.Duration
}

type proposalKey struct {
	planID string
	day    int
	meal   planner.MealType
}

type proposal struct {
	oldRecipeID string
	candidates  []recipe.Candidate
	createdAt   time.Time
}

// Engine proposes and commits single-slot recipe swaps.
type Engine struct {
	plans     *planner.PlanRepository
	lookup    recipe.Lookup
	retriever *retrieval.Retriever
	prefs     preferences.Store
	planLocks *shared.KeyedLock
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics.Collectors

	mu        sync.Mutex
	proposals map[proposalKey]proposal
}

// NewEngine creates an Engine. planLocks must be the lock set shared by
// every component that writes plans.
func NewEngine(plans *planner.PlanRepository, lookup recipe.Lookup, retriever *retrieval.Retriever, prefs preferences.Store,
	planLocks *shared.KeyedLock, cfg Config, logger *zap.Logger, m *metrics.Collectors) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if planLocks == nil {
		planLocks = shared.NewKeyedLock()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Engine{
		plans:     plans,
		lookup:    lookup,
		retriever: retriever,
		prefs:     prefs,
		planLocks: planLocks,
		cfg:       cfg,
		logger:    logger.Named("replacement"),
		metrics:   m,
		proposals: make(map[proposalKey]proposal),
	}
}

// Suggest returns up to k replacements for the slot in req. k <= 0 uses the
// configured default. The plan is not modified.
func (e *Engine) Suggest(ctx context.Context, req Request, k int) (*Suggestion, error) {
	if k <= 0 {
		k = e.cfg.TopK
	}
	plan, slot, err := e.loadSlot(ctx, req)
	if err != nil {
		return nil, err
	}

	title, ingredients := slot.RecipeTitle, []string(nil)
	if e.lookup != nil {
		rec, err := e.lookup.Get(ctx, slot.RecipeID)
		if err != nil {
			e.logger.Warn("recipe lookup failed, inferring category from title",
				zap.String("recipe_id", slot.RecipeID), zap.Error(err))
		} else if rec != nil {
			ingredients = rec.Ingredients
			if title == "" {
				title = rec.Title
			}
		}
	}

	category := InferCategory(slot.MealType, title, ingredients)
	q := fmt.Sprintf("similar to %s, for %s", title, slot.MealType)
	categories := searchCategories(category, e.cfg.Neighbors)
	queries := make(map[recipe.Category][]string, len(categories))
	for _, c := range categories {
		queries[c] = []string{q}
	}

	exclude := plan.RecipeIDs()
	if !slices.Contains(exclude, req.OldRecipeID) {
		exclude = append(exclude, req.OldRecipeID)
	}

	found := e.retriever.Retrieve(ctx, queries, e.loadPreferences(ctx, plan.UserID), retrieval.Options{
		MaxPerCategory: k,
		MaxTotal:       k,
		Categories:     categories,
		Exclude:        exclude,
	})

	e.remember(req, proposal{oldRecipeID: req.OldRecipeID, candidates: found.Candidates, createdAt: time.Now()})
	e.logger.Info("replacement suggested",
		zap.String("plan_id", req.PlanID),
		zap.Int("day", req.Day),
		zap.String("meal_type", string(req.MealType)),
		zap.String("category", string(category)),
		zap.Int("candidates", len(found.Candidates)))

	return &Suggestion{Category: category, Query: q, Candidates: found.Candidates}, nil
}

// Commit swaps the slot's recipe for newRecipeID, which must be one of the
// proposed candidates. The grocery cache is cleared in the same write.
func (e *Engine) Commit(ctx context.Context, req Request, newRecipeID string) (*planner.MealPlan, error) {
	unlock, err := e.planLocks.Lock(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	prop, ok := e.recall(req)
	if !ok {
		if _, err := e.Suggest(ctx, req, 0); err != nil {
			return nil, err
		}
		prop, _ = e.recall(req)
	}

	i := slices.IndexFunc(prop.candidates, func(c recipe.Candidate) bool { return c.ID == newRecipeID })
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrRecipeNotFound, newRecipeID)
	}
	chosen := prop.candidates[i]

	plan, slot, err := e.loadSlot(ctx, req)
	if err != nil {
		return nil, err
	}
	idx, _ := plan.SlotIndex(slot.Day, slot.MealType)
	plan.Slots[idx] = planner.Slot{
		Day:         slot.Day,
		MealType:    slot.MealType,
		RecipeID:    chosen.ID,
		RecipeTitle: chosen.Title,
		Category:    chosen.Category,
		Score:       chosen.Score,
	}

	if err := e.plans.UpdateContent(ctx, plan); err != nil {
		return nil, err
	}
	e.forget(req)

	e.logger.Info("replacement committed",
		zap.String("plan_id", plan.ID),
		zap.Int("day", slot.Day),
		zap.String("meal_type", string(slot.MealType)),
		zap.String("old_recipe_id", req.OldRecipeID),
		zap.String("new_recipe_id", chosen.ID),
		zap.Int("version", plan.Version))
	return plan, nil
}

func (e *Engine) loadSlot(ctx context.Context, req Request) (*planner.MealPlan, planner.Slot, error) {
	mt, ok := planner.ParseMealType(string(req.MealType))
	if !ok {
		return nil, planner.Slot{}, fmt.Errorf("%w: unknown meal type %q", ErrSlotNotFound, req.MealType)
	}
	plan, err := e.plans.Get(ctx, req.PlanID)
	if err != nil {
		if errors.Is(err, planner.ErrPlanNotFound) {
			return nil, planner.Slot{}, fmt.Errorf("%w: %v", ErrSlotNotFound, err)
		}
		return nil, planner.Slot{}, err
	}
	i, ok := plan.SlotIndex(req.Day, mt)
	if !ok {
		return nil, planner.Slot{}, fmt.Errorf("%w: day %d %s", ErrSlotNotFound, req.Day, mt)
	}
	slot := plan.Slots[i]
	if slot.RecipeID != req.OldRecipeID {
		return nil, planner.Slot{}, fmt.Errorf("%w: day %d %s holds %s, not %s", ErrSlotNotFound, req.Day, mt, slot.RecipeID, req.OldRecipeID)
	}
	return plan, slot, nil
}

func (e *Engine) loadPreferences(ctx context.Context, userID string) preferences.Preferences {
	if e.prefs == nil {
		return preferences.Preferences{}
	}
	if e.cfg.PreferencesTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.PreferencesTimeout)
		defer cancel()
	}
	prefs, err := e.prefs.Get(ctx, userID)
	if err != nil {
		e.logger.Warn("preferences unavailable, suggesting without them",
			zap.String("stage", "preferences"), zap.String("user_id", userID), zap.Error(err))
		e.metrics.Fallback("preferences")
		return preferences.Preferences{}
	}
	return prefs.Normalized()
}

func keyOf(req Request) proposalKey {
	mt, _ := planner.ParseMealType(string(req.MealType))
	return proposalKey{planID: req.PlanID, day: req.Day, meal: mt}
}

func (e *Engine) remember(req Request, p proposal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, old := range e.proposals {
		if time.Since(old.createdAt) > proposalTTL {
			delete(e.proposals, k)
		}
	}
	e.proposals[keyOf(req)] = p
}

// recall returns the proposal for req's slot if it was made for the same
// old recipe.
func (e *Engine) recall(req Request) (proposal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.proposals[keyOf(req)]
	if !ok || p.oldRecipeID != req.OldRecipeID || time.Since(p.createdAt) > proposalTTL {
		return proposal{}, false
	}
	return p, true
}

func (e *Engine) forget(req Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.proposals, keyOf(req))
}
