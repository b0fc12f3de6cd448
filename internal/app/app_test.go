package app

import (
	"context"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"mealplan/internal/config"
	"mealplan/internal/database"
	"mealplan/internal/llm"
	"mealplan/internal/planner"
	"mealplan/internal/recipe"
	"mealplan/internal/session"
	"mealplan/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// downGenerator simulates an unreachable LLM so every stage falls back.
type downGenerator struct{}

func (downGenerator) GenerateContent(context.Context, string) (llm.ContentResponse, error) {
	return llm.ContentResponse{}, shared.ErrUpstreamUnavailable
}

// wordEmbedder hashes words into a small bag-of-words vector.
type wordEmbedder struct{}

func (wordEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 33)
	v[32] = 1
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ",.:")))
		v[h.Sum32()%32]++
	}
	return v, nil
}

func testRecipes() []recipe.Recipe {
	mk := func(id, title string, c recipe.Category, ingredients ...string) recipe.Recipe {
		return recipe.Recipe{ID: id, Title: title, Category: c, Ingredients: ingredients, UpdatedAt: time.Now().UTC()}
	}
	return []recipe.Recipe{
		mk("b1", "Berry Porridge", recipe.CategoryBreakfastMorning, "1 cup oats", "100g berries"),
		mk("m1", "Roast Chicken", recipe.CategoryProteinMains, "1 whole chicken", "2 lemons"),
		mk("m2", "Beef Ragu", recipe.CategoryProteinMains, "500g beef mince", "1 onion"),
		mk("m3", "Pork Chops", recipe.CategoryProteinMains, "4 pork chops", "2 apples"),
		mk("m4", "Lamb Kofta", recipe.CategoryProteinMains, "500g lamb mince", "1 tsp cumin"),
		mk("m5", "Turkey Meatballs", recipe.CategoryProteinMains, "500g turkey mince", "1 egg"),
		mk("m6", "Seared Salmon", recipe.CategoryProteinMains, "2 salmon fillets", "1 lemon"),
	}
}

// serialGenerator is a slow, unavailable LLM that records how many calls
// overlap.
type serialGenerator struct {
	mu       sync.Mutex
	inFlight int
	maxSeen  int
	calls    int
}

func (g *serialGenerator) GenerateContent(ctx context.Context, _ string) (llm.ContentResponse, error) {
	g.mu.Lock()
	g.inFlight++
	g.calls++
	g.maxSeen = max(g.maxSeen, g.inFlight)
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}()

	select {
	case <-time.After(5 * time.Millisecond):
	case <-ctx.Done():
		return llm.ContentResponse{}, ctx.Err()
	}
	return llm.ContentResponse{}, shared.ErrUpstreamUnavailable
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	return newTestAppWith(t, downGenerator{})
}

func newTestAppWith(t *testing.T, gen llm.TextGenerator) *App {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "app.db")
	db, err := database.NewDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := &config.Config{
		DatabasePath:            dbPath,
		LLMTimeout:              time.Second,
		IndexTimeout:            time.Second,
		PreferencesTimeout:      time.Second,
		RetrievalMaxPerCategory: 8,
		RetrievalMaxTotal:       40,
		RetrievalParallelism:    4,
		ReplacementTopK:         5,
		DefaultDays:             7,
		DefaultMealsPerDay:      3,
		SessionSecret:           "test-secret",
		SessionTTL:              time.Hour,
	}
	a := NewApp(cfg, Components{DB: db.SQL, TextGen: gen, Embedder: wordEmbedder{}})

	n, err := a.IndexRecipes(context.Background(), testRecipes())
	require.NoError(t, err)
	require.Equal(t, len(testRecipes()), n)
	return a
}

func TestApp_PlanLifecycle(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	resp, err := a.GeneratePlan(ctx, "u1", "3 days of dinners, one meal a day")
	require.NoError(t, err)
	require.NotEmpty(t, resp.SessionToken)
	assert.Equal(t, session.StateGenerated, resp.State)
	assert.Empty(t, resp.Warning)
	plan := resp.Plan
	require.Len(t, plan.Slots, 3)
	assert.True(t, plan.Degraded)
	for _, s := range plan.Slots {
		assert.Equal(t, planner.MealDinner, s.MealType)
	}

	t.Run("ModifyKeepsPlanWhenReviewerIsDown", func(t *testing.T) {
		mod, err := a.ModifyPlan(ctx, resp.SessionToken, "more fish please")
		require.NoError(t, err)
		assert.Equal(t, plan.ID, mod.Plan.ID)
		assert.Equal(t, plan.ContentHash(), mod.Plan.ContentHash())
		assert.Equal(t, session.StateGenerated, mod.State)
	})

	first, err := a.GetGroceryList(ctx, plan.ID, false)
	require.NoError(t, err)
	assert.Equal(t, planner.GrocerySourceKeyword, first.Source)
	assert.NotEmpty(t, first.Items)

	again, err := a.GetGroceryList(ctx, plan.ID, false)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	old := plan.Slots[0]
	sug, err := a.ReplaceRecipe(ctx, plan.ID, "1", "dinner", old.RecipeID, "")
	require.NoError(t, err)
	assert.Equal(t, recipe.CategoryProteinMains, sug.Category)
	require.NotEmpty(t, sug.Candidates)
	planIDs := plan.RecipeIDs()
	for _, c := range sug.Candidates {
		assert.NotContains(t, planIDs, c.ID)
		assert.Equal(t, recipe.CategoryProteinMains, c.Category)
	}

	chosen := sug.Candidates[0].ID
	committed, err := a.ReplaceRecipe(ctx, plan.ID, "day 1", "dinner", old.RecipeID, chosen)
	require.NoError(t, err)
	require.NotNil(t, committed.Plan)
	i, ok := committed.Plan.SlotIndex(1, planner.MealDinner)
	require.True(t, ok)
	assert.Equal(t, chosen, committed.Plan.Slots[i].RecipeID)

	refreshed, err := a.GetGroceryList(ctx, plan.ID, false)
	require.NoError(t, err)
	assert.NotEqual(t, first.PlanHash, refreshed.PlanHash)

	planID, err := a.FinalizePlan(ctx, resp.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, planID)

	_, err = a.ModifyPlan(ctx, resp.SessionToken, "actually, no salmon")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	current, err := a.CurrentPlan(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, plan.ID, current.ID)
	assert.Equal(t, planner.StatusFinal, current.Status)

	token, err := a.ActiveSessionToken(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, token)

	report, err := a.UsageReport(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, report, "LLM usage")
	assert.NotContains(t, report, "no executions recorded")
}

func TestApp_ConcurrentPlanWrites(t *testing.T) {
	ctx := context.Background()
	gen := &serialGenerator{}
	a := newTestAppWith(t, gen)

	resp, err := a.GeneratePlan(ctx, "u1", "3 days of dinners, one meal a day")
	require.NoError(t, err)
	plan := resp.Plan
	require.Len(t, plan.Slots, 3)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	run := func(fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}

	for i := range 3 {
		run(func() error {
			_, err := a.ModifyPlan(ctx, resp.SessionToken, fmt.Sprintf("tweak number %d", i))
			return err
		})
		run(func() error {
			_, err := a.GetGroceryList(ctx, plan.ID, true)
			return err
		})
		slot := plan.Slots[i]
		run(func() error {
			day := strconv.Itoa(slot.Day)
			sug, err := a.ReplaceRecipe(ctx, plan.ID, day, string(slot.MealType), slot.RecipeID, "")
			if err != nil {
				return err
			}
			if len(sug.Candidates) == 0 {
				return fmt.Errorf("no candidates for day %s", day)
			}
			_, err = a.ReplaceRecipe(ctx, plan.ID, day, string(slot.MealType), slot.RecipeID, sug.Candidates[0].ID)
			return err
		})
	}
	wg.Wait()

	for _, err := range errs {
		assert.NotErrorIs(t, err, planner.ErrConcurrentUpdate)
		assert.NoError(t, err)
	}

	gen.mu.Lock()
	assert.Equal(t, 1, gen.maxSeen, "LLM calls for one plan must not overlap")
	assert.Greater(t, gen.calls, 3)
	gen.mu.Unlock()

	final, err := a.Plan(ctx, plan.ID)
	require.NoError(t, err)
	for _, old := range plan.Slots {
		i, ok := final.SlotIndex(old.Day, old.MealType)
		require.True(t, ok)
		assert.NotEqual(t, old.RecipeID, final.Slots[i].RecipeID, "day %d was replaced", old.Day)
	}

	token, err := a.ActiveSessionToken(ctx, "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, token, "session is back in GENERATED")
}

func TestApp_ActiveSessionToken(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	token, err := a.ActiveSessionToken(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, token)

	resp, err := a.GeneratePlan(ctx, "u2", "two days")
	require.NoError(t, err)

	token, err = a.ActiveSessionToken(ctx, "u2")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	mod, err := a.ModifyPlan(ctx, token, "keep it simple")
	require.NoError(t, err)
	assert.Equal(t, resp.Plan.ID, mod.Plan.ID)
}

func TestApp_Errors(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	_, err := a.ModifyPlan(ctx, "not-a-token", "more soup")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	_, err = a.FinalizePlan(ctx, "not-a-token")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	_, err = a.GeneratePlan(ctx, "", "a week of dinners")
	assert.ErrorIs(t, err, planner.ErrInvalidRequest)

	_, err = a.ReplaceRecipe(ctx, "missing", "someday", "dinner", "m1", "")
	assert.ErrorIs(t, err, planner.ErrInvalidRequest)

	_, err = a.GetGroceryList(ctx, "missing", false)
	assert.ErrorIs(t, err, planner.ErrPlanNotFound)
}

func TestParseDay(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "3", want: 3},
		{in: "Day 2", want: 2},
		{in: "monday", want: 1},
		{in: "Sun", want: 7},
		{in: "0", wantErr: true},
		{in: "someday", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDay(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, planner.ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
