package recipe

import (
	"context"
	"fmt"

	"mealplan/internal/llm"
)

// Hit is one index match. Recipe carries the stored payload.
type Hit struct {
	ID     string
	Score  float64
	Recipe Recipe
}

// Index answers semantic queries over the category-partitioned recipe collections.
type Index interface {
	Search(ctx context.Context, category Category, query string, limit int) ([]Hit, error)
	SearchMany(ctx context.Context, categories []Category, query string, limit int) ([]Hit, error)
}

// VectorIndex embeds the query and ranks stored recipe embeddings by cosine similarity.
type VectorIndex struct {
	embedder llm.EmbeddingGenerator
	vectors  *llm.VectorRepository
	recipes  *Repository
}

// NewVectorIndex creates a VectorIndex.
func NewVectorIndex(embedder llm.EmbeddingGenerator, vectors *llm.VectorRepository, recipes *Repository) *VectorIndex {
	return &VectorIndex{embedder: embedder, vectors: vectors, recipes: recipes}
}

// Search returns the top limit recipes of one category for query.
func (i *VectorIndex) Search(ctx context.Context, category Category, query string, limit int) ([]Hit, error) {
	return i.SearchMany(ctx, []Category{category}, query, limit)
}

// SearchMany returns the top limit recipes across categories for query.
func (i *VectorIndex) SearchMany(ctx context.Context, categories []Category, query string, limit int) ([]Hit, error) {
	embedding, err := i.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	names := make([]string, len(categories))
	for n, c := range categories {
		names[n] = string(c)
	}
	scored, err := i.vectors.FindSimilar(ctx, embedding, names, limit, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to search embeddings: %w", err)
	}

	ids := make([]string, len(scored))
	for n, s := range scored {
		ids[n] = s.RecipeID
	}
	byID, err := i.recipes.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(scored))
	for _, s := range scored {
		rec, ok := byID[s.RecipeID]
		if !ok {
			continue
		}
		hits = append(hits, Hit{ID: s.RecipeID, Score: min(1, max(0, s.Score)), Recipe: rec})
	}
	return hits, nil
}

// Indexer stores a recipe together with its embedding.
type Indexer struct {
	embedder llm.EmbeddingGenerator
	vectors  *llm.VectorRepository
	recipes  *Repository
}

// NewIndexer creates an Indexer.
func NewIndexer(embedder llm.EmbeddingGenerator, vectors *llm.VectorRepository, recipes *Repository) *Indexer {
	return &Indexer{embedder: embedder, vectors: vectors, recipes: recipes}
}

// Add saves rec and its embedding.
func (x *Indexer) Add(ctx context.Context, rec Recipe) error {
	if !rec.Category.Valid() {
		return fmt.Errorf("recipe %s has unknown category %q", rec.ID, rec.Category)
	}
	embedding, err := x.embedder.GenerateEmbedding(ctx, rec.EmbeddingText())
	if err != nil {
		return fmt.Errorf("failed to embed recipe %s: %w", rec.ID, err)
	}
	if err := x.recipes.Save(ctx, rec); err != nil {
		return err
	}
	return x.vectors.Save(ctx, rec.ID, string(rec.Category), embedding)
}
