package recipe

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"mealplan/internal/database"
	"mealplan/internal/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keywordEmbedder maps text onto a tiny vector space keyed by words so
// similarity is predictable in tests.
type keywordEmbedder struct {
	fail bool
}

func (k *keywordEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if k.fail {
		return nil, errors.New("embedding down")
	}
	vec := []float32{0.01, 0.01, 0.01}
	for _, w := range []struct {
		word string
		dim  int
	}{{"oat", 0}, {"tofu", 1}, {"soup", 2}} {
		if strings.Contains(strings.ToLower(text), w.word) {
			vec[w.dim] += 1
		}
	}
	return vec, nil
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCategories(t *testing.T) {
	cats := AllCategories()
	require.Len(t, cats, 8)
	assert.Equal(t, CategoryBreakfastMorning, cats[0])
	assert.True(t, CategorySoupsStews.Valid())
	assert.False(t, Category("desserts").Valid())

	cats[0] = "mutated"
	assert.Equal(t, CategoryBreakfastMorning, AllCategories()[0])
}

func TestRecipe_ToCandidate(t *testing.T) {
	rec := Recipe{
		ID:          "r1",
		Title:       "Overnight Oats",
		Category:    CategoryBreakfastMorning,
		Ingredients: []string{"oats", "milk", "chia", "honey", "berries", "yogurt"},
		Allergens:   []string{"dairy"},
	}

	c := rec.ToCandidate(1.3)
	assert.Equal(t, 1.0, c.Score)
	assert.Len(t, c.IngredientsPreview, 5)
	assert.Equal(t, []string{"dairy"}, c.Allergens)
	assert.Equal(t, 0.0, rec.ToCandidate(-0.2).Score)
}

func TestRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db.SQL)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, Recipe{ID: "r1", Title: "Lentil Soup", Category: CategorySoupsStews}))
	require.NoError(t, repo.Save(ctx, Recipe{ID: "r2", Title: "Tofu Bowl", Category: CategorySaladsBowls}))
	require.NoError(t, repo.Save(ctx, Recipe{ID: "r1", Title: "Red Lentil Soup", Category: CategorySoupsStews}))

	got, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Red Lentil Soup", got.Title)
	assert.False(t, got.UpdatedAt.IsZero())

	missing, err := repo.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	byID, err := repo.GetByIDs(ctx, []string{"r1", "r2", "nope"})
	require.NoError(t, err)
	assert.Len(t, byID, 2)

	soups, err := repo.ListByCategory(ctx, CategorySoupsStews)
	require.NoError(t, err)
	require.Len(t, soups, 1)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestVectorIndex(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	embedder := &keywordEmbedder{}
	recipes := NewRepository(db.SQL)
	vectors := llm.NewVectorRepository(db.SQL)
	indexer := NewIndexer(embedder, vectors, recipes)

	for _, rec := range []Recipe{
		{ID: "b1", Title: "Oat Porridge", Category: CategoryBreakfastMorning, Ingredients: []string{"oat", "milk"}},
		{ID: "b2", Title: "Tofu Scramble", Category: CategoryBreakfastMorning, Ingredients: []string{"tofu"}},
		{ID: "s1", Title: "Tofu Soup", Category: CategorySoupsStews, Ingredients: []string{"tofu", "broth"}},
	} {
		require.NoError(t, indexer.Add(ctx, rec))
	}

	require.Error(t, indexer.Add(ctx, Recipe{ID: "x", Title: "x", Category: "unknown"}))

	idx := NewVectorIndex(embedder, vectors, recipes)

	t.Run("SearchScopedToCategory", func(t *testing.T) {
		hits, err := idx.Search(ctx, CategoryBreakfastMorning, "oat breakfast", 5)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "b1", hits[0].ID)
		for _, h := range hits {
			assert.Equal(t, CategoryBreakfastMorning, h.Recipe.Category)
			assert.GreaterOrEqual(t, h.Score, 0.0)
			assert.LessOrEqual(t, h.Score, 1.0)
		}
	})

	t.Run("SearchMany", func(t *testing.T) {
		hits, err := idx.SearchMany(ctx, []Category{CategoryBreakfastMorning, CategorySoupsStews}, "tofu", 2)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.ElementsMatch(t, []string{"b2", "s1"}, []string{hits[0].ID, hits[1].ID})
	})

	t.Run("EmbeddingFailure", func(t *testing.T) {
		_, err := NewVectorIndex(&keywordEmbedder{fail: true}, vectors, recipes).Search(ctx, CategorySoupsStews, "soup", 3)
		require.Error(t, err)
	})
}

type mapLookup struct {
	recipes map[string]*Recipe
	err     error
}

func (m *mapLookup) Get(ctx context.Context, id string) (*Recipe, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.recipes[id], nil
}

func TestChainLookup(t *testing.T) {
	primary := &mapLookup{recipes: map[string]*Recipe{"a": {ID: "a", Title: "Local"}}}
	secondary := &mapLookup{recipes: map[string]*Recipe{"a": {ID: "a", Title: "Remote"}, "b": {ID: "b", Title: "Remote B"}}}
	broken := &mapLookup{err: errors.New("boom")}
	ctx := context.Background()

	chain := NewChainLookup(nil, primary, broken, secondary)

	got, err := chain.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Local", got.Title)

	got, err = chain.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "Remote B", got.Title)

	_, err = chain.Get(ctx, "c")
	require.Error(t, err)

	got, err = NewChainLookup(nil, primary).Get(ctx, "c")
	require.NoError(t, err)
	assert.Nil(t, got)
}
