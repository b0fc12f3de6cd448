package replacement

import (
	"strings"
	"unicode"

	"mealplan/internal/planner"
	"mealplan/internal/recipe"
)

type keywordRule struct {
	category recipe.Category
	words    []string
}

// keywordRules are checked in order; the first rule with a matching word wins.
var keywordRules = []keywordRule{
	{recipe.CategorySoupsStews, []string{"soup", "stew", "chili", "chowder", "broth"}},
	{recipe.CategorySaladsBowls, []string{"salad", "bowl"}},
	{recipe.CategoryPlantBased, []string{"tofu", "lentil", "chickpea", "vegan", "tempeh"}},
	{recipe.CategoryBakedDesserts, []string{"cake", "cookie", "muffin", "brownie"}},
	{recipe.CategoryQuickLight, []string{"wrap", "sandwich", "toast"}},
}

var mealDefaults = map[planner.MealType]recipe.Category{
	planner.MealBreakfast: recipe.CategoryBreakfastMorning,
	planner.MealLunch:     recipe.CategoryQuickLight,
	planner.MealDinner:    recipe.CategoryProteinMains,
	planner.MealSnack:     recipe.CategorySnacksSides,
}

// neighbors lists the categories searched alongside the inferred one when
// neighbor search is enabled.
var neighbors = map[recipe.Category][]recipe.Category{
	recipe.CategoryBreakfastMorning: {recipe.CategoryQuickLight, recipe.CategoryBakedDesserts},
	recipe.CategoryProteinMains:     {recipe.CategoryPlantBased},
	recipe.CategoryQuickLight:       {recipe.CategorySaladsBowls, recipe.CategorySnacksSides},
	recipe.CategoryPlantBased:       {recipe.CategorySaladsBowls, recipe.CategorySoupsStews},
	recipe.CategorySoupsStews:       {recipe.CategoryPlantBased},
	recipe.CategorySaladsBowls:      {recipe.CategoryQuickLight, recipe.CategoryPlantBased},
	recipe.CategorySnacksSides:      {recipe.CategoryQuickLight, recipe.CategoryBakedDesserts},
	recipe.CategoryBakedDesserts:    {recipe.CategorySnacksSides},
}

// InferCategory picks the collection a replacement is searched in.
// Breakfast slots always stay in breakfast-morning. Otherwise the title is
// matched against the keyword rules, then the ingredients, and finally the
// meal type's default category is used.
func InferCategory(mt planner.MealType, title string, ingredients []string) recipe.Category {
	if mt == planner.MealBreakfast {
		return recipe.CategoryBreakfastMorning
	}
	if c, ok := matchRules(title); ok {
		return c
	}
	if c, ok := matchRules(strings.Join(ingredients, " ")); ok {
		return c
	}
	if c, ok := mealDefaults[mt]; ok {
		return c
	}
	return recipe.CategoryProteinMains
}

func matchRules(text string) (recipe.Category, bool) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, rule := range keywordRules {
		for _, w := range words {
			for _, kw := range rule.words {
				if w == kw || w == kw+"s" || w == kw+"es" {
					return rule.category, true
				}
			}
		}
	}
	return "", false
}

func searchCategories(c recipe.Category, withNeighbors bool) []recipe.Category {
	if !withNeighbors {
		return []recipe.Category{c}
	}
	return append([]recipe.Category{c}, neighbors[c]...)
}
