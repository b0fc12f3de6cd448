package query

import (
	"context"
	"strings"
	"testing"
	"time"

	"mealplan/internal/llm"
	"mealplan/internal/preferences"
	"mealplan/internal/recipe"
	"mealplan/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGenerator struct {
	content string
	err     error
	delay   time.Duration
	prompts []string
}

func (s *stubGenerator) GenerateContent(ctx context.Context, prompt string) (llm.ContentResponse, error) {
	s.prompts = append(s.prompts, prompt)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return llm.ContentResponse{}, ctx.Err()
		}
	}
	if s.err != nil {
		return llm.ContentResponse{}, s.err
	}
	return llm.ContentResponse{Content: s.content, Usage: shared.TokenUsage{PromptTokens: 10, CompletionTokens: 5}}, nil
}

func userTurns(texts ...string) []shared.Turn {
	turns := make([]shared.Turn, 0, len(texts))
	for _, t := range texts {
		turns = append(turns, shared.Turn{Role: shared.RoleUser, Text: t})
	}
	return turns
}

func assertComplete(t *testing.T, queries map[recipe.Category][]string) {
	t.Helper()
	for _, c := range recipe.AllCategories() {
		qs := queries[c]
		require.NotEmpty(t, qs, "category %s has no queries", c)
		assert.LessOrEqual(t, len(qs), 5)
		for _, q := range qs {
			n := len(strings.Fields(q))
			assert.GreaterOrEqual(t, n, 3, "query %q too short", q)
			assert.LessOrEqual(t, n, 10, "query %q too long", q)
		}
	}
}

func TestGenerator_LLMFillsMissingCategories(t *testing.T) {
	gen := &stubGenerator{content: "```json\n" + `{
		"queries": {
			"breakfast-morning": ["vegetarian protein breakfast with eggs", "vegetarian protein breakfast with eggs", "oats"],
			"plant-based": ["one two three four five six seven eight nine ten eleven twelve"]
		},
		"detected_preferences": ["Vegetarian", " high   protein "]
	}` + "\n```"}

	g := NewGenerator(gen, time.Second, nil, nil)
	res := g.Generate(context.Background(), userTurns("vegetarian meals with lots of protein"), preferences.Preferences{})

	assert.Equal(t, SourceLLM, res.Source)
	assert.False(t, res.Meta.Fallback)
	assert.Equal(t, 10, res.Meta.Usage.PromptTokens)
	assert.Equal(t, []string{"vegetarian protein breakfast with eggs"}, res.Queries[recipe.CategoryBreakfastMorning])
	assert.Equal(t, []string{"one two three four five six seven eight nine ten"}, res.Queries[recipe.CategoryPlantBased])
	assert.Equal(t, []string{"vegetarian", "high protein"}, res.Detected)
	assertComplete(t, res.Queries)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "user: vegetarian meals with lots of protein")
	assert.Contains(t, gen.prompts[0], "- soups-stews")
}

func TestGenerator_Fallbacks(t *testing.T) {
	tests := []struct {
		name string
		gen  *stubGenerator
	}{
		{name: "UpstreamError", gen: &stubGenerator{err: shared.ErrUpstreamUnavailable}},
		{name: "MalformedJSON", gen: &stubGenerator{content: `{"queries": {"breakfast-morning": [`}},
		{name: "NoQueries", gen: &stubGenerator{content: `{"queries": {}}`}},
		{name: "Timeout", gen: &stubGenerator{content: `{}`, delay: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGenerator(tt.gen, 20*time.Millisecond, nil, nil)
			res := g.Generate(context.Background(), userTurns("quick dinners"), preferences.Preferences{})
			assert.Equal(t, SourceFallback, res.Source)
			assert.True(t, res.Meta.Fallback)
			assertComplete(t, res.Queries)
		})
	}

	t.Run("NilGenerator", func(t *testing.T) {
		res := NewGenerator(nil, time.Second, nil, nil).Generate(context.Background(), nil, preferences.Preferences{})
		assert.Equal(t, SourceFallback, res.Source)
		assert.Empty(t, res.Detected)
		assertComplete(t, res.Queries)
	})

	t.Run("DetectsFromLastTurn", func(t *testing.T) {
		gen := &stubGenerator{err: shared.ErrUpstreamUnavailable}
		turns := userTurns("something french")
		turns = append(turns, shared.Turn{Role: shared.RoleUser, Text: "Vegan Thai dinners, keto if possible, vegan please"})
		res := NewGenerator(gen, time.Second, nil, nil).Generate(context.Background(), turns, preferences.Preferences{})
		assert.Equal(t, SourceFallback, res.Source)
		assert.Equal(t, []string{"vegan", "thai", "keto"}, res.Detected)
	})
}

func TestFallbackQueries(t *testing.T) {
	t.Run("EmptyConversation", func(t *testing.T) {
		assertComplete(t, FallbackQueries(nil, preferences.Preferences{}))
	})

	t.Run("PreferencesAndMealWords", func(t *testing.T) {
		prefs := preferences.Preferences{DietaryRestrictions: []string{"vegetarian"}, CuisinePreferences: []string{"Italian"}}
		qs := FallbackQueries(userTurns("I'd like hearty breakfasts and some lentil dinners"), prefs)
		assertComplete(t, qs)

		for _, c := range recipe.AllCategories() {
			assert.Contains(t, qs[c][0], "vegetarian")
			assert.Contains(t, strings.Join(qs[c], " "), "italian")
		}
		// Base, cuisine and the extra meal-word query.
		assert.Len(t, qs[recipe.CategoryBreakfastMorning], 3)
		assert.Len(t, qs[recipe.CategoryProteinMains], 3)
		assert.Len(t, qs[recipe.CategorySoupsStews], 2)
		assert.Contains(t, qs[recipe.CategoryProteinMains][2], "lentil")
	})

	t.Run("UsesLastUserTurnOnly", func(t *testing.T) {
		turns := userTurns("mexican food please")
		turns = append(turns, shared.Turn{Role: shared.RoleAssistant, Text: "Here is a plan"})
		turns = append(turns, shared.Turn{Role: shared.RoleUser, Text: "more thai flavours"})
		qs := FallbackQueries(turns, preferences.Preferences{})
		joined := strings.Join(qs[recipe.CategoryQuickLight], " ")
		assert.Contains(t, joined, "thai")
		assert.NotContains(t, joined, "mexican")
	})
}

func TestSanitize(t *testing.T) {
	in := []string{"a b", "  spicy   bean  chili ", "Spicy bean chili", "q1 x y", "q2 x y", "q3 x y", "q4 x y", "q5 x y"}
	out := sanitize(in)
	assert.Equal(t, []string{"spicy bean chili", "q1 x y", "q2 x y", "q3 x y", "q4 x y"}, out)
	assert.Nil(t, sanitize(nil))
}
