package replacement

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mealplan/internal/database"
	"mealplan/internal/planner"
	"mealplan/internal/preferences"
	"mealplan/internal/recipe"
	"mealplan/internal/retrieval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type catalogIndex struct {
	recipes []recipe.Recipe
	queries []string
}

func (c *catalogIndex) Search(ctx context.Context, category recipe.Category, q string, limit int) ([]recipe.Hit, error) {
	return c.SearchMany(ctx, []recipe.Category{category}, q, limit)
}

func (c *catalogIndex) SearchMany(_ context.Context, categories []recipe.Category, q string, limit int) ([]recipe.Hit, error) {
	c.queries = append(c.queries, q)
	var hits []recipe.Hit
	for i, r := range c.recipes {
		for _, cat := range categories {
			if r.Category == cat && len(hits) < limit {
				hits = append(hits, recipe.Hit{ID: r.ID, Score: 0.9 - float64(i)/100, Recipe: r})
			}
		}
	}
	return hits, nil
}

type mapLookup map[string]recipe.Recipe

func (m mapLookup) Get(_ context.Context, id string) (*recipe.Recipe, error) {
	if r, ok := m[id]; ok {
		return &r, nil
	}
	return nil, nil
}

type fixedPrefs preferences.Preferences

func (f fixedPrefs) Get(context.Context, string) (preferences.Preferences, error) {
	return preferences.Preferences(f), nil
}

var catalog = []recipe.Recipe{
	{ID: "b1", Title: "Overnight Oats", Category: recipe.CategoryBreakfastMorning, Ingredients: []string{"oats", "milk"}},
	{ID: "b2", Title: "Veggie Omelette", Category: recipe.CategoryBreakfastMorning, Ingredients: []string{"eggs", "spinach"}},
	{ID: "b3", Title: "Banana Pancakes", Category: recipe.CategoryBreakfastMorning, Ingredients: []string{"banana", "flour", "eggs"}},
	{ID: "b4", Title: "Peanut Toast", Category: recipe.CategoryBreakfastMorning, Ingredients: []string{"bread", "peanut butter"}},
	{ID: "q1", Title: "Hummus Wrap", Category: recipe.CategoryQuickLight, Ingredients: []string{"tortilla", "hummus"}},
	{ID: "m1", Title: "Roast Chicken", Category: recipe.CategoryProteinMains, Ingredients: []string{"chicken"}},
	{ID: "m2", Title: "Salmon Fillet", Category: recipe.CategoryProteinMains, Ingredients: []string{"salmon"}},
}

type fixture struct {
	engine *Engine
	plans  *planner.PlanRepository
	index  *catalogIndex
	plan   *planner.MealPlan
}

func newFixture(t *testing.T, cfg Config, prefs preferences.Preferences) *fixture {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	lookup := mapLookup{}
	for _, r := range catalog {
		lookup[r.ID] = r
	}
	f := &fixture{plans: planner.NewPlanRepository(db.SQL), index: &catalogIndex{recipes: catalog}}
	f.engine = NewEngine(f.plans, lookup, retrieval.New(f.index, retrieval.Config{Timeout: time.Second}, nil, nil),
		fixedPrefs(prefs), nil, cfg, nil, nil)

	f.plan = &planner.MealPlan{
		ID: "plan-1", UserID: "u1", Days: 2, MealsPerDay: 2,
		Slots: []planner.Slot{
			{Day: 1, MealType: planner.MealBreakfast, RecipeID: "b1", RecipeTitle: "Overnight Oats", Category: recipe.CategoryBreakfastMorning},
			{Day: 1, MealType: planner.MealDinner, RecipeID: "m1", RecipeTitle: "Roast Chicken", Category: recipe.CategoryProteinMains},
			{Day: 2, MealType: planner.MealBreakfast, RecipeID: "b2", RecipeTitle: "Veggie Omelette", Category: recipe.CategoryBreakfastMorning},
			{Day: 2, MealType: planner.MealDinner, RecipeID: "m1", RecipeTitle: "Roast Chicken", Category: recipe.CategoryProteinMains},
		},
	}
	require.NoError(t, f.plans.Create(context.Background(), f.plan))
	return f
}

func TestInferCategory(t *testing.T) {
	tests := []struct {
		name        string
		meal        planner.MealType
		title       string
		ingredients []string
		want        recipe.Category
	}{
		{"breakfast always", planner.MealBreakfast, "Tomato Soup", nil, recipe.CategoryBreakfastMorning},
		{"soup title", planner.MealDinner, "Chicken Tortilla Soup", nil, recipe.CategorySoupsStews},
		{"plural chili", planner.MealLunch, "Three Bean Chilies", nil, recipe.CategorySoupsStews},
		{"bowl", planner.MealLunch, "Poke Bowl", nil, recipe.CategorySaladsBowls},
		{"plant ingredient", planner.MealDinner, "Stir Fry", []string{"firm tofu", "broccoli"}, recipe.CategoryPlantBased},
		{"title beats ingredients", planner.MealDinner, "Lentil Salad", []string{"lentils"}, recipe.CategorySaladsBowls},
		{"dessert", planner.MealSnack, "Double Chocolate Brownies", nil, recipe.CategoryBakedDesserts},
		{"sandwich", planner.MealDinner, "Club Sandwich", nil, recipe.CategoryQuickLight},
		{"lunch default", planner.MealLunch, "Pad Thai", nil, recipe.CategoryQuickLight},
		{"dinner default", planner.MealDinner, "Roast Chicken", []string{"chicken"}, recipe.CategoryProteinMains},
		{"snack default", planner.MealSnack, "Trail Mix", nil, recipe.CategorySnacksSides},
		{"substring is not a word", planner.MealDinner, "Soupe-free Bowling Night", nil, recipe.CategoryProteinMains},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferCategory(tt.meal, tt.title, tt.ingredients))
		})
	}
}

func TestSuggest_BreakfastStaysBreakfast(t *testing.T) {
	f := newFixture(t, Config{TopK: 5}, preferences.Preferences{})
	req := Request{PlanID: "plan-1", Day: 1, MealType: planner.MealBreakfast, OldRecipeID: "b1"}

	sug, err := f.engine.Suggest(context.Background(), req, 0)
	require.NoError(t, err)

	assert.Equal(t, recipe.CategoryBreakfastMorning, sug.Category)
	assert.Equal(t, "similar to Overnight Oats, for breakfast", sug.Query)
	require.NotEmpty(t, sug.Candidates)
	for _, c := range sug.Candidates {
		assert.Equal(t, recipe.CategoryBreakfastMorning, c.Category)
		assert.NotContains(t, []string{"b1", "b2"}, c.ID, "old and in-plan recipes are excluded")
	}
	assert.Equal(t, []string{"b3", "b4"}, []string{sug.Candidates[0].ID, sug.Candidates[1].ID})
	assert.Equal(t, []string{sug.Query}, f.index.queries)
}

func TestSuggest_AppliesPreferencesAndTopK(t *testing.T) {
	f := newFixture(t, Config{TopK: 5}, preferences.Preferences{Allergies: []string{"peanuts"}})
	req := Request{PlanID: "plan-1", Day: 1, MealType: planner.MealBreakfast, OldRecipeID: "b1"}

	sug, err := f.engine.Suggest(context.Background(), req, 1)
	require.NoError(t, err)
	require.Len(t, sug.Candidates, 1)
	assert.Equal(t, "b3", sug.Candidates[0].ID)

	sug, err = f.engine.Suggest(context.Background(), req, 5)
	require.NoError(t, err)
	for _, c := range sug.Candidates {
		assert.NotEqual(t, "b4", c.ID, "peanut recipe filtered")
	}
}

func TestSuggest_Neighbors(t *testing.T) {
	f := newFixture(t, Config{TopK: 5, Neighbors: true}, preferences.Preferences{})
	req := Request{PlanID: "plan-1", Day: 1, MealType: planner.MealBreakfast, OldRecipeID: "b1"}

	sug, err := f.engine.Suggest(context.Background(), req, 0)
	require.NoError(t, err)
	var ids []string
	for _, c := range sug.Candidates {
		ids = append(ids, c.ID)
	}
	assert.Contains(t, ids, "q1")
}

func TestSuggest_SlotNotFound(t *testing.T) {
	f := newFixture(t, Config{}, preferences.Preferences{})
	ctx := context.Background()

	for name, req := range map[string]Request{
		"unknown plan":   {PlanID: "nope", Day: 1, MealType: planner.MealBreakfast, OldRecipeID: "b1"},
		"unknown day":    {PlanID: "plan-1", Day: 9, MealType: planner.MealBreakfast, OldRecipeID: "b1"},
		"absent meal":    {PlanID: "plan-1", Day: 1, MealType: planner.MealLunch, OldRecipeID: "b1"},
		"bad meal type":  {PlanID: "plan-1", Day: 1, MealType: "brunch", OldRecipeID: "b1"},
		"wrong old item": {PlanID: "plan-1", Day: 1, MealType: planner.MealBreakfast, OldRecipeID: "b3"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.Suggest(ctx, req, 0)
			assert.ErrorIs(t, err, ErrSlotNotFound)
		})
	}
}

func TestCommit(t *testing.T) {
	f := newFixture(t, Config{TopK: 5}, preferences.Preferences{})
	ctx := context.Background()
	req := Request{PlanID: "plan-1", Day: 1, MealType: planner.MealBreakfast, OldRecipeID: "b1"}

	ok, err := f.plans.SaveGroceryList(ctx, "plan-1", 1, &planner.GroceryList{Source: planner.GrocerySourceRecipes})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.engine.Suggest(ctx, req, 0)
	require.NoError(t, err)

	_, err = f.engine.Commit(ctx, req, "m2")
	assert.ErrorIs(t, err, ErrRecipeNotFound)

	plan, err := f.engine.Commit(ctx, req, "b3")
	require.NoError(t, err)
	assert.Equal(t, 2, plan.Version)

	stored, err := f.plans.Get(ctx, "plan-1")
	require.NoError(t, err)
	i, _ := stored.SlotIndex(1, planner.MealBreakfast)
	assert.Equal(t, "b3", stored.Slots[i].RecipeID)
	assert.Equal(t, "Banana Pancakes", stored.Slots[i].RecipeTitle)
	assert.Nil(t, stored.GroceryList, "commit clears the grocery cache")
	assert.Equal(t, f.plan.Slots[1:], stored.Slots[1:], "other slots untouched")

	_, err = f.engine.Commit(ctx, req, "b3")
	assert.ErrorIs(t, err, ErrSlotNotFound, "slot no longer holds the old recipe")
}

func TestCommit_WithoutPriorSuggest(t *testing.T) {
	f := newFixture(t, Config{TopK: 5}, preferences.Preferences{})
	req := Request{PlanID: "plan-1", Day: 2, MealType: planner.MealDinner, OldRecipeID: "m1"}

	plan, err := f.engine.Commit(context.Background(), req, "m2")
	require.NoError(t, err)
	i, _ := plan.SlotIndex(2, planner.MealDinner)
	assert.Equal(t, "m2", plan.Slots[i].RecipeID)
	assert.Len(t, f.index.queries, 1)
}
