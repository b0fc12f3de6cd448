package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mealplan/internal/database"
	"mealplan/internal/llm"
	"mealplan/internal/planner"
	"mealplan/internal/preferences"
	"mealplan/internal/query"
	"mealplan/internal/recipe"
	"mealplan/internal/retrieval"
	"mealplan/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type catalogIndex struct {
	recipes []recipe.Recipe
	scores  map[string]float64
}

func (c *catalogIndex) Search(ctx context.Context, category recipe.Category, q string, limit int) ([]recipe.Hit, error) {
	return c.SearchMany(ctx, []recipe.Category{category}, q, limit)
}

func (c *catalogIndex) SearchMany(_ context.Context, categories []recipe.Category, _ string, limit int) ([]recipe.Hit, error) {
	var hits []recipe.Hit
	for _, r := range c.recipes {
		for _, cat := range categories {
			if r.Category == cat && len(hits) < limit {
				hits = append(hits, recipe.Hit{ID: r.ID, Score: c.scores[r.ID], Recipe: r})
			}
		}
	}
	return hits, nil
}

func testCatalog() *catalogIndex {
	return &catalogIndex{
		recipes: []recipe.Recipe{
			{ID: "b1", Title: "Overnight Oats", Category: recipe.CategoryBreakfastMorning, Ingredients: []string{"oats", "milk"}, Tags: []string{"vegetarian"}},
			{ID: "m1", Title: "Grilled Chicken", Category: recipe.CategoryProteinMains, Ingredients: []string{"chicken breast", "lemon"}},
			{ID: "p1", Title: "Chickpea Curry", Category: recipe.CategoryPlantBased, Ingredients: []string{"chickpeas", "coconut milk"}, Tags: []string{"vegan"}},
			{ID: "s1", Title: "Quinoa Bowl", Category: recipe.CategorySaladsBowls, Ingredients: []string{"quinoa", "cucumber"}, Tags: []string{"vegan"}},
			{ID: "u1", Title: "Lentil Soup", Category: recipe.CategorySoupsStews, Ingredients: []string{"lentils", "carrot"}, Tags: []string{"vegan"}},
		},
		scores: map[string]float64{"b1": 0.9, "m1": 0.95, "p1": 0.8, "s1": 0.7, "u1": 0.6},
	}
}

type fakePrefs struct {
	prefs preferences.Preferences
	err   error
	onGet func()
}

func (f *fakePrefs) Get(context.Context, string) (preferences.Preferences, error) {
	if f.onGet != nil {
		f.onGet()
	}
	return f.prefs, f.err
}

// routingGenerator answers the synthesizer and the reviewer with fixed
// plans; any other prompt gets prose so callers fall back.
type routingGenerator struct {
	synth  string
	review string
}

func (g *routingGenerator) GenerateContent(_ context.Context, prompt string) (llm.ContentResponse, error) {
	switch {
	case strings.Contains(prompt, "# Meal Plan Reviewer"):
		return llm.ContentResponse{Content: g.review}, nil
	case strings.Contains(prompt, "# Meal Plan Synthesizer"):
		return llm.ContentResponse{Content: g.synth}, nil
	}
	return llm.ContentResponse{Content: "sorry"}, nil
}

type fixture struct {
	manager  *Manager
	sessions *Repository
	plans    *planner.PlanRepository
	prefs    *fakePrefs
	index    *catalogIndex
}

func newFixture(t *testing.T, gen llm.TextGenerator) *fixture {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		sessions: NewRepository(db.SQL),
		plans:    planner.NewPlanRepository(db.SQL),
		prefs:    &fakePrefs{},
		index:    testCatalog(),
	}
	f.manager = NewManager(Deps{
		DB:          db.SQL,
		Sessions:    f.sessions,
		Plans:       f.plans,
		Preferences: f.prefs,
		Queries:     query.NewGenerator(gen, time.Second, nil, nil),
		Retriever:   retrieval.New(f.index, retrieval.Config{Timeout: time.Second}, nil, nil),
		Planner:     planner.NewPlanner(gen, time.Second, nil, nil),
	}, Options{PreferencesTimeout: time.Second, Defaults: planner.Shape{Days: 7, MealsPerDay: 3}}, nil, nil)
	return f
}

const oneDayPlan = `{"meal_plan":[{"day":1,"meals":[{"meal_type":"breakfast","recipe_id":"b1"},{"meal_type":"lunch","recipe_id":"s1"},{"meal_type":"dinner","recipe_id":"p1"}]}],"explanation":"A light vegan day."}`

func TestGenerate_VegetarianWeek(t *testing.T) {
	f := newFixture(t, nil)
	f.prefs.prefs = preferences.Preferences{DietaryRestrictions: []string{"Vegetarian"}}
	ctx := context.Background()

	out, err := f.manager.Generate(ctx, "u1", "I want a vegetarian plan for the week")
	require.NoError(t, err)
	require.NoError(t, out.Warning)

	assert.Equal(t, StateGenerated, out.Session.State)
	assert.Equal(t, out.Plan.ID, out.Session.PlanID)
	require.Len(t, out.Session.Turns, 2)
	assert.Equal(t, shared.RoleAssistant, out.Session.Turns[1].Role)
	assert.Equal(t, query.SourceFallback, out.QuerySource)

	plan, err := f.plans.Get(ctx, out.Plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, plan.Days)
	assert.Len(t, plan.Slots, 21)
	assert.True(t, plan.Degraded)
	for _, s := range plan.Slots {
		assert.NotEqual(t, "m1", s.RecipeID, "meat recipe on a vegetarian plan")
	}

	stored, err := f.sessions.Get(ctx, out.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, StateGenerated, stored.State)
	assert.Len(t, stored.Turns, 2)
}

func TestGenerate_NoRecipes(t *testing.T) {
	f := newFixture(t, nil)
	f.index.recipes = nil

	out, err := f.manager.Generate(context.Background(), "u1", "3 days of anything")
	require.NoError(t, err)
	assert.ErrorIs(t, out.Warning, ErrNoRecipesFound)
	assert.Empty(t, out.Plan.Slots)
	assert.Equal(t, StateGenerated, out.Session.State)

	plan, err := f.plans.Get(context.Background(), out.Plan.ID)
	require.NoError(t, err)
	assert.Empty(t, plan.Slots)
}

func TestGenerate_PreferencesUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.prefs.err = errors.New("store down")

	out, err := f.manager.Generate(context.Background(), "u1", "2 days")
	require.NoError(t, err)
	assert.Len(t, out.Plan.Slots, 6)
}

func TestGenerate_RequiresUser(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.manager.Generate(context.Background(), " ", "2 days")
	assert.ErrorIs(t, err, planner.ErrInvalidRequest)
}

func TestModify_UnknownSession(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.manager.Modify(context.Background(), "does-not-exist", "less spicy")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestModify_AppliesFeedback(t *testing.T) {
	gen := &routingGenerator{
		synth:  oneDayPlan,
		review: strings.Replace(oneDayPlan, `"recipe_id":"p1"`, `"recipe_id":"u1"`, 1),
	}
	f := newFixture(t, gen)
	ctx := context.Background()

	out, err := f.manager.Generate(ctx, "u1", "a 1-day plan")
	require.NoError(t, err)
	require.False(t, out.Plan.Degraded)

	ok, err := f.plans.SaveGroceryList(ctx, out.Plan.ID, out.Plan.Version, &planner.GroceryList{Source: planner.GrocerySourceRecipes})
	require.NoError(t, err)
	require.True(t, ok)

	mod, err := f.manager.Modify(ctx, out.Session.ID, "soup for dinner please")
	require.NoError(t, err)
	assert.Equal(t, StateGenerated, mod.Session.State)
	assert.Len(t, mod.Session.Turns, 4)

	plan, err := f.plans.Get(ctx, out.Plan.ID)
	require.NoError(t, err)
	i, ok := plan.SlotIndex(1, planner.MealDinner)
	require.True(t, ok)
	assert.Equal(t, "u1", plan.Slots[i].RecipeID)
	assert.Equal(t, 2, plan.Version)
	assert.Nil(t, plan.GroceryList, "slot change clears the grocery cache")
}

func TestModify_UnchangedSlotsKeepGroceryCache(t *testing.T) {
	f := newFixture(t, &routingGenerator{synth: oneDayPlan, review: oneDayPlan})
	ctx := context.Background()

	out, err := f.manager.Generate(ctx, "u1", "a 1-day plan")
	require.NoError(t, err)
	ok, err := f.plans.SaveGroceryList(ctx, out.Plan.ID, out.Plan.Version, &planner.GroceryList{Source: planner.GrocerySourceRecipes})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.manager.Modify(ctx, out.Session.ID, "looks good, maybe reword it")
	require.NoError(t, err)

	plan, err := f.plans.Get(ctx, out.Plan.ID)
	require.NoError(t, err)
	assert.NotNil(t, plan.GroceryList)
	assert.Equal(t, 2, plan.Version)
}

func TestModify_CancelledReturnsToGenerated(t *testing.T) {
	f := newFixture(t, nil)
	out, err := f.manager.Generate(context.Background(), "u1", "2 days")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.prefs.onGet = cancel

	_, err = f.manager.Modify(ctx, out.Session.ID, "more soup")
	assert.ErrorIs(t, err, context.Canceled)

	s, err := f.sessions.Get(context.Background(), out.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, StateGenerated, s.State)

	plan, err := f.plans.Get(context.Background(), out.Plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.Version, "plan untouched")
}

func TestGenerate_CancelledLeavesNoSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.prefs.onGet = cancel

	out, err := f.manager.Generate(ctx, "u1", "2 days")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out)

	orphan, err := f.sessions.GetActive(context.Background(), "u1", time.Time{})
	require.NoError(t, err)
	assert.Nil(t, orphan)
}

func TestFinalize(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	out, err := f.manager.Generate(ctx, "u1", "2 days")
	require.NoError(t, err)

	planID, err := f.manager.Finalize(ctx, out.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Plan.ID, planID)

	active, err := f.plans.GetActive(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, planID, active.ID)
	assert.Equal(t, planner.StatusFinal, active.Status)

	s, err := f.manager.Get(ctx, out.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, s.State)

	_, err = f.manager.Finalize(ctx, out.Session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.manager.Modify(ctx, out.Session.ID, "change it")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	none, err := f.manager.Active(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestFinalize_WithoutPlan(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s := &Session{ID: "s-empty", UserID: "u1", State: StateInitial}
	require.NoError(t, f.sessions.Create(ctx, s))

	_, err := f.manager.Finalize(ctx, "s-empty")
	assert.ErrorIs(t, err, ErrNothingToFinalize)

	_, err = f.manager.Modify(ctx, "s-empty", "anything")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAbandon(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	out, err := f.manager.Generate(ctx, "u1", "2 days")
	require.NoError(t, err)

	active, err := f.manager.Active(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, out.Session.ID, active.ID)

	require.NoError(t, f.manager.Abandon(ctx, out.Session.ID))
	_, err = f.manager.Get(ctx, out.Session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, f.manager.Abandon(ctx, out.Session.ID), ErrSessionNotFound)
}

func TestRepository_CleanupExpired(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.sessions.Create(ctx, &Session{ID: "open", UserID: "u1", State: StateGenerated, PlanID: "p"}))
	require.NoError(t, f.sessions.Create(ctx, &Session{ID: "done", UserID: "u1", State: StateFinalized, PlanID: "p"}))

	n, err := f.sessions.CleanupExpired(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	s, err := f.sessions.Get(ctx, "done")
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestTokenIssuer(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)

	token, err := issuer.Issue("sess-1", "u1")
	require.NoError(t, err)

	sid, uid, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sid)
	assert.Equal(t, "u1", uid)

	t.Run("tampered", func(t *testing.T) {
		other, err := issuer.Issue("sess-2", "u2")
		require.NoError(t, err)
		a, b := strings.Split(token, "."), strings.Split(other, ".")
		forged := strings.Join([]string{a[0], b[1], a[2]}, ".")

		_, _, err = issuer.Parse(forged)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("other secret", func(t *testing.T) {
		_, _, err := NewTokenIssuer("other", time.Hour).Parse(token)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("expired", func(t *testing.T) {
		late := NewTokenIssuer("secret", time.Hour)
		late.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, _, err := late.Parse(token)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("garbage", func(t *testing.T) {
		_, _, err := issuer.Parse("not-a-token")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}
