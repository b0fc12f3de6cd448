package llm

import (
	"context"

	"mealplan/internal/shared"
)

// ContentResponse is one model answer and what it cost.
type ContentResponse struct {
	Content string
	Usage   shared.TokenUsage
}

// TextGenerator answers a prompt.
// Implementations ask the model for a JSON object; callers still have to
// tolerate prose, code fences and truncated output.
type TextGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (ContentResponse, error)
}

// EmbeddingGenerator maps text onto the vector space of the recipe index.
type EmbeddingGenerator interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}
