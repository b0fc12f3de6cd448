package llm

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"mealplan/internal/database"
)

// ScoredID is a recipe id paired with its cosine similarity to a query.
type ScoredID struct {
	RecipeID string
	Score    float64
}

// VectorRepository stores recipe embeddings in SQLite and answers
// similarity queries by brute-force cosine similarity.
type VectorRepository struct {
	q database.Querier
}

func NewVectorRepository(d *sql.DB) *VectorRepository {
	return &VectorRepository{q: d}
}

// WithTx returns a new VectorRepository that uses the provided transaction.
func (r *VectorRepository) WithTx(tx *sql.Tx) *VectorRepository {
	return &VectorRepository{q: tx}
}

// Save upserts the embedding of a recipe under its category.
func (r *VectorRepository) Save(ctx context.Context, recipeID, category string, embedding []float32) error {
	embeddingBytes, err := float32SliceToByteSlice(embedding)
	if err != nil {
		return fmt.Errorf("failed to convert float32 slice to byte slice: %w", err)
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO recipe_embeddings (recipe_id, category, embedding) VALUES (?, ?, ?)
		ON CONFLICT(recipe_id) DO UPDATE SET category = excluded.category, embedding = excluded.embedding`,
		recipeID, category, embeddingBytes)
	if err != nil {
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	return nil
}

// Get returns the stored embedding, or nil when the recipe has none.
func (r *VectorRepository) Get(ctx context.Context, recipeID string) ([]float32, error) {
	var raw []byte
	err := r.q.QueryRowContext(ctx, `SELECT embedding FROM recipe_embeddings WHERE recipe_id = ?`, recipeID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Embedding not found
		}
		return nil, fmt.Errorf("failed to get embedding by recipe ID: %w", err)
	}

	embedding, err := byteSliceToFloat32Slice(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert byte slice to float32 slice: %w", err)
	}
	return embedding, nil
}

// FindSimilar scores every embedding in the given categories (all
// categories when none are given) against the query and returns the top
// limit ids by descending similarity, ties broken by id.
func (r *VectorRepository) FindSimilar(ctx context.Context, queryEmbedding []float32, categories []string, limit int, excludeIDs []string) ([]ScoredID, error) {
	query := `SELECT recipe_id, embedding FROM recipe_embeddings`
	args := make([]any, 0, len(categories))
	if len(categories) > 0 {
		query += ` WHERE category IN (?` + strings.Repeat(",?", len(categories)-1) + `)`
		for _, c := range categories {
			args = append(args, c)
		}
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	defer rows.Close()

	excludeMap := make(map[string]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excludeMap[id] = struct{}{}
	}

	var scored []ScoredID
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		if _, excluded := excludeMap[id]; excluded {
			continue
		}
		embed, err := byteSliceToFloat32Slice(raw)
		if err != nil {
			continue
		}
		scored = append(scored, ScoredID{RecipeID: id, Score: cosineSimilarity(queryEmbedding, embed)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate embeddings: %w", err)
	}

	slices.SortFunc(scored, func(a, b ScoredID) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return strings.Compare(a.RecipeID, b.RecipeID)
		}
	})

	if limit >= 0 && limit < len(scored) {
		scored = scored[:limit]
	}
	return scored, nil
}

// float32SliceToByteSlice converts a slice of float32 to a byte slice.
func float32SliceToByteSlice(floats []float32) ([]byte, error) {
	if len(floats) == 0 {
		return nil, fmt.Errorf("empty embedding")
	}
	buf := make([]byte, 4*len(floats)) // 4 bytes per float32
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:(i+1)*4], math.Float32bits(f))
	}
	return buf, nil
}

// byteSliceToFloat32Slice converts a byte slice to a slice of float32.
func byteSliceToFloat32Slice(bytes []byte) ([]float32, error) {
	if len(bytes) == 0 {
		return nil, nil
	}
	if len(bytes)%4 != 0 {
		return nil, fmt.Errorf("byte slice length is not a multiple of 4")
	}
	floats := make([]float32, len(bytes)/4)
	for i := 0; i < len(bytes)/4; i++ {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(bytes[i*4 : (i+1)*4]))
	}
	return floats, nil
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
