package shopping

import (
	"cmp"
	"slices"
	"strings"

	"mealplan/internal/planner"
)

// Aisles, in the order a list is printed.
const (
	AisleProduce   = "produce"
	AisleDairy     = "dairy"
	AisleMeat      = "meat-seafood"
	AisleBakery    = "bakery"
	AislePantry    = "pantry"
	AisleSpices    = "spices"
	AisleFrozen    = "frozen"
	AisleBeverages = "beverages"
	AisleOther     = "other"
	AisleRecipes   = "recipes"
)

var aisleOrder = []string{
	AisleProduce, AisleDairy, AisleMeat, AisleBakery, AislePantry,
	AisleSpices, AisleFrozen, AisleBeverages, AisleOther, AisleRecipes,
}

func aisleRank(a string) int {
	if i := slices.Index(aisleOrder, a); i >= 0 {
		return i
	}
	return len(aisleOrder)
}

// ValidAisle reports whether a is a known aisle.
func ValidAisle(a string) bool {
	return slices.Contains(aisleOrder, a)
}

type aisleRule struct {
	aisle string
	terms []string
}

// aisleRules are checked in order. Multi-word terms match as phrases; single
// terms match whole words of the normalized name.
var aisleRules = []aisleRule{
	{AisleFrozen, []string{"frozen", "ice cream"}},
	{AisleSpices, []string{
		"salt", "black pepper", "peppercorn", "pepper flake", "chili flake", "cumin", "paprika",
		"turmeric", "cinnamon", "oregano", "chili powder", "curry powder", "garam masala",
		"thyme", "nutmeg", "cayenne", "bay leaf", "spice", "seasoning", "vanilla",
	}},
	{AislePantry, []string{
		"coconut milk", "coconut cream", "peanut butter", "almond butter", "almond milk",
		"oat milk", "soy milk", "paste", "canned", "sauce", "stock", "broth", "dried",
		"powder", "oil", "vinegar",
	}},
	{AisleMeat, []string{
		"chicken", "beef", "pork", "lamb", "turkey", "bacon", "sausage", "ham", "mince",
		"steak", "salmon", "tuna", "cod", "fish", "shrimp", "prawn", "crab", "mussel",
	}},
	{AisleDairy, []string{
		"milk", "cheese", "butter", "yogurt", "yoghurt", "cream", "egg", "feta",
		"parmesan", "mozzarella", "ricotta",
	}},
	{AisleBakery, []string{"bread", "tortilla", "bun", "bagel", "pita", "baguette", "roll", "wrap"}},
	{AisleBeverages, []string{"coffee", "tea", "juice", "wine", "beer", "soda", "sparkling water"}},
	{AisleProduce, []string{
		"tomato", "onion", "garlic", "carrot", "potato", "spinach", "lettuce", "pepper",
		"lemon", "lime", "apple", "banana", "berry", "blueberry", "strawberry", "avocado",
		"cucumber", "broccoli", "zucchini", "mushroom", "kale", "celery", "ginger",
		"parsley", "cilantro", "basil", "mint", "cabbage", "cauliflower", "squash",
		"leek", "shallot", "scallion", "herb", "fruit", "vegetable", "orange", "pear",
	}},
	{AislePantry, []string{
		"rice", "pasta", "noodle", "flour", "sugar", "honey", "lentil", "bean", "chickpea",
		"oat", "quinoa", "nut", "almond", "walnut", "cashew", "seed", "syrup", "cocoa",
		"chocolate", "raisin", "couscous", "tofu", "tempeh", "mustard",
	}},
}

// Categorize assigns a normalized ingredient name to an aisle.
func Categorize(name string) string {
	padded := " " + name + " "
	words := strings.Fields(name)
	for _, rule := range aisleRules {
		for _, term := range rule.terms {
			if strings.Contains(term, " ") {
				if strings.Contains(padded, " "+term+" ") {
					return rule.aisle
				}
				continue
			}
			for _, w := range words {
				if w == term || singular(w) == term {
					return rule.aisle
				}
			}
		}
	}
	return AisleOther
}

// sortGroceryItems orders items by aisle, then name, then unit.
func sortGroceryItems(items []planner.GroceryItem) {
	slices.SortStableFunc(items, func(a, b planner.GroceryItem) int {
		if c := cmp.Compare(aisleRank(a.Category), aisleRank(b.Category)); c != 0 {
			return c
		}
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.Unit, b.Unit)
	})
}
