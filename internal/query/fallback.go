package query

import (
	"slices"
	"strings"
	"unicode"

	"mealplan/internal/preferences"
	"mealplan/internal/recipe"
	"mealplan/internal/shared"
)

type categoryTemplate struct {
	base string
	noun string
}

var categoryTemplates = map[recipe.Category]categoryTemplate{
	recipe.CategoryBreakfastMorning: {base: "healthy breakfast morning recipes", noun: "breakfast"},
	recipe.CategoryProteinMains:     {base: "hearty main course dinner", noun: "main dishes"},
	recipe.CategoryQuickLight:       {base: "quick light lunch ideas", noun: "quick meals"},
	recipe.CategoryPlantBased:       {base: "plant based vegetable dishes", noun: "vegetable dishes"},
	recipe.CategorySoupsStews:       {base: "comforting soup stew recipes", noun: "soups and stews"},
	recipe.CategorySaladsBowls:      {base: "fresh salad grain bowls", noun: "salads and bowls"},
	recipe.CategorySnacksSides:      {base: "easy snacks side dishes", noun: "snacks"},
	recipe.CategoryBakedDesserts:    {base: "simple baked dessert treats", noun: "desserts"},
}

var mealWordCategory = map[string]recipe.Category{
	"breakfast": recipe.CategoryBreakfastMorning,
	"lunch":     recipe.CategoryQuickLight,
	"dinner":    recipe.CategoryProteinMains,
	"snack":     recipe.CategorySnacksSides,
	"dessert":   recipe.CategoryBakedDesserts,
}

// singular maps meal words and their plurals onto mealWordCategory keys.
func singular(w string) string {
	if _, ok := mealWordCategory[w]; ok {
		return w
	}
	for _, suffix := range []string{"es", "s"} {
		if s := strings.TrimSuffix(w, suffix); s != w {
			if _, ok := mealWordCategory[s]; ok {
				return s
			}
		}
	}
	return ""
}

var dietWords = []string{
	"vegetarian", "vegan", "pescatarian", "gluten-free", "dairy-free", "nut-free",
	"keto", "paleo", "low-carb", "high-protein", "halal", "kosher",
}

var cuisineWords = []string{
	"italian", "mexican", "indian", "thai", "japanese", "chinese", "korean",
	"mediterranean", "french", "greek", "spanish", "vietnamese", "american",
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "please": {}, "want": {}, "need": {},
	"plan": {}, "meal": {}, "meals": {}, "make": {}, "some": {}, "this": {}, "that": {},
	"week": {}, "days": {}, "day": {}, "can": {}, "you": {}, "give": {}, "more": {},
	"less": {}, "like": {}, "would": {}, "i'd": {}, "i'm": {}, "have": {}, "all": {},
	"are": {}, "but": {}, "not": {}, "any": {}, "our": {}, "my": {}, "me": {}, "per": {},
	"breakfast": {}, "lunch": {}, "dinner": {}, "snack": {}, "dessert": {},
	"breakfasts": {}, "lunches": {}, "dinners": {}, "snacks": {}, "desserts": {},
}

// FallbackQueries builds queries for every category from keyword heuristics
// over the last user turn and the stored preferences. Every category gets
// at least one query.
func FallbackQueries(turns []shared.Turn, prefs preferences.Preferences) map[recipe.Category][]string {
	last := strings.ToLower(shared.LastUserText(turns))
	words := tokenize(last)

	diet := detectDiet(words, prefs)
	cuisine := detectCuisine(words, prefs)
	topics := topicWords(words, diet, cuisine)

	out := make(map[recipe.Category][]string, len(categoryTemplates))
	for _, c := range recipe.AllCategories() {
		tmpl := categoryTemplates[c]
		qs := []string{joinWords(diet, tmpl.base)}
		if cuisine != "" {
			qs = append(qs, joinWords(cuisine, diet, tmpl.noun, "recipes"))
		}
		out[c] = qs
	}

	for _, w := range words {
		meal := singular(w)
		if meal == "" {
			continue
		}
		c := mealWordCategory[meal]
		extra := joinWords(diet, meal, "recipes", strings.Join(topics, " "))
		if len(strings.Fields(extra)) < minQueryWords {
			extra = joinWords("easy", extra)
		}
		out[c] = append(out[c], extra)
	}

	for c, qs := range out {
		out[c] = sanitize(qs)
	}
	return out
}

// FallbackDetected lists the diet and cuisine words the last user turn
// mentions, in the order they appear.
func FallbackDetected(turns []shared.Turn) []string {
	var out []string
	for _, w := range tokenize(strings.ToLower(shared.LastUserText(turns))) {
		if slices.Contains(dietWords, w) || slices.Contains(cuisineWords, w) {
			out = append(out, w)
		}
	}
	return sanitizeDetected(out)
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-' && r != '\''
	})
}

func detectDiet(words []string, prefs preferences.Preferences) string {
	var found []string
	add := func(d string) {
		if !slices.Contains(found, d) {
			found = append(found, d)
		}
	}
	for _, r := range prefs.DietaryRestrictions {
		add(strings.ToLower(r))
	}
	for _, w := range words {
		if slices.Contains(dietWords, w) {
			add(w)
		}
	}
	if len(found) > 2 {
		found = found[:2]
	}
	return strings.Join(found, " ")
}

func detectCuisine(words []string, prefs preferences.Preferences) string {
	for _, w := range words {
		if slices.Contains(cuisineWords, w) {
			return w
		}
	}
	if len(prefs.CuisinePreferences) > 0 {
		return strings.ToLower(prefs.CuisinePreferences[0])
	}
	return ""
}

func topicWords(words []string, diet, cuisine string) []string {
	skip := strings.Fields(diet + " " + cuisine)
	var out []string
	for _, w := range words {
		if len(w) < 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if slices.Contains(skip, w) || slices.Contains(out, w) {
			continue
		}
		out = append(out, w)
		if len(out) == 4 {
			break
		}
	}
	return out
}

func joinWords(parts ...string) string {
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}
