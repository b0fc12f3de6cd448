package recipe

import (
	"slices"
	"strings"
	"time"
)

// Category is one of the fixed recipe collections the index is partitioned by.
type Category string

const (
	CategoryBreakfastMorning Category = "breakfast-morning"
	CategoryProteinMains     Category = "protein-mains"
	CategoryQuickLight       Category = "quick-light"
	CategoryPlantBased       Category = "plant-based"
	CategorySoupsStews       Category = "soups-stews"
	CategorySaladsBowls      Category = "salads-bowls"
	CategorySnacksSides      Category = "snacks-sides"
	CategoryBakedDesserts    Category = "baked-desserts"
)

var allCategories = []Category{
	CategoryBreakfastMorning,
	CategoryProteinMains,
	CategoryQuickLight,
	CategoryPlantBased,
	CategorySoupsStews,
	CategorySaladsBowls,
	CategorySnacksSides,
	CategoryBakedDesserts,
}

// AllCategories returns every category in canonical order.
func AllCategories() []Category {
	return slices.Clone(allCategories)
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	return slices.Contains(allCategories, c)
}

// Recipe is the detail record kept for each indexed recipe.
type Recipe struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	Category    Category  `json:"category"`
	Ingredients []string  `json:"ingredients"`
	Tags        []string  `json:"tags,omitempty"`
	Allergens   []string  `json:"allergens,omitempty"`
	PrepTime    string    `json:"prep_time,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Candidate is a retrieval result handed to the planner.
type Candidate struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Category           Category `json:"category"`
	Summary            string   `json:"summary,omitempty"`
	Score              float64  `json:"score"`
	IngredientsPreview []string `json:"ingredients_preview,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	Allergens          []string `json:"allergens,omitempty"`
}

const previewSize = 5

// ToCandidate builds a candidate from a recipe and its similarity score.
// The score is clamped to [0, 1].
func (r Recipe) ToCandidate(score float64) Candidate {
	preview := r.Ingredients
	if len(preview) > previewSize {
		preview = preview[:previewSize]
	}
	return Candidate{
		ID:                 r.ID,
		Title:              r.Title,
		Category:           r.Category,
		Summary:            r.Summary,
		Score:              min(1, max(0, score)),
		IngredientsPreview: slices.Clone(preview),
		Tags:               slices.Clone(r.Tags),
		Allergens:          slices.Clone(r.Allergens),
	}
}

// EmbeddingText is the text embedded for a recipe at indexing time.
func (r Recipe) EmbeddingText() string {
	text := "Title: " + r.Title
	if r.Summary != "" {
		text += "\nSummary: " + r.Summary
	}
	if len(r.Tags) > 0 {
		text += "\nTags: " + strings.Join(r.Tags, ", ")
	}
	if len(r.Ingredients) > 0 {
		text += "\nIngredients: " + strings.Join(r.Ingredients, ", ")
	}
	return text
}
