package planner

import (
	"cmp"
	"slices"

	"mealplan/internal/recipe"
)

// preferredCategories lists, per meal type, the categories the greedy
// fallback draws from, best fit first.
var preferredCategories = map[MealType][]recipe.Category{
	MealBreakfast: {
		recipe.CategoryBreakfastMorning, recipe.CategoryQuickLight, recipe.CategoryBakedDesserts,
		recipe.CategorySnacksSides, recipe.CategoryPlantBased, recipe.CategorySaladsBowls,
		recipe.CategorySoupsStews, recipe.CategoryProteinMains,
	},
	MealLunch: {
		recipe.CategoryQuickLight, recipe.CategorySaladsBowls, recipe.CategorySoupsStews,
		recipe.CategoryPlantBased, recipe.CategoryProteinMains, recipe.CategorySnacksSides,
		recipe.CategoryBreakfastMorning, recipe.CategoryBakedDesserts,
	},
	MealDinner: {
		recipe.CategoryProteinMains, recipe.CategoryPlantBased, recipe.CategorySoupsStews,
		recipe.CategorySaladsBowls, recipe.CategoryQuickLight, recipe.CategorySnacksSides,
		recipe.CategoryBreakfastMorning, recipe.CategoryBakedDesserts,
	},
	MealSnack: {
		recipe.CategorySnacksSides, recipe.CategoryBakedDesserts, recipe.CategoryQuickLight,
		recipe.CategoryBreakfastMorning, recipe.CategorySaladsBowls, recipe.CategoryPlantBased,
		recipe.CategorySoupsStews, recipe.CategoryProteinMains,
	},
}

func categoryRank(mt MealType, c recipe.Category) int {
	if i := slices.Index(preferredCategories[mt], c); i >= 0 {
		return i
	}
	return len(recipe.AllCategories())
}

// greedy assigns candidates to slots deterministically. Unused candidates
// are taken first in category preference order, then by score; once every
// candidate is used, the least used one is reused.
type greedy struct {
	candidates []recipe.Candidate
	uses       map[string]int
}

func newGreedy(candidates []recipe.Candidate, existing []Slot) *greedy {
	g := &greedy{candidates: slices.Clone(candidates), uses: make(map[string]int)}
	slices.SortFunc(g.candidates, func(a, b recipe.Candidate) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	for _, s := range existing {
		g.uses[s.RecipeID]++
	}
	return g
}

func (g *greedy) pick(mt MealType) (recipe.Candidate, bool) {
	if len(g.candidates) == 0 {
		return recipe.Candidate{}, false
	}
	best := -1
	for i, c := range g.candidates {
		if best < 0 || g.better(mt, c, g.candidates[best]) {
			best = i
		}
	}
	chosen := g.candidates[best]
	g.uses[chosen.ID]++
	return chosen, true
}

// better reports whether a should be chosen over b for meal type mt.
func (g *greedy) better(mt MealType, a, b recipe.Candidate) bool {
	if ua, ub := g.uses[a.ID], g.uses[b.ID]; ua != ub {
		return ua < ub
	}
	if ra, rb := categoryRank(mt, a.Category), categoryRank(mt, b.Category); ra != rb {
		return ra < rb
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ID < b.ID
}

func slotFor(day int, mt MealType, c recipe.Candidate) Slot {
	return Slot{Day: day, MealType: mt, RecipeID: c.ID, RecipeTitle: c.Title, Category: c.Category, Score: c.Score}
}

// greedyPlan fills every (day, meal type) slot from candidates.
func greedyPlan(days int, mealTypes []MealType, candidates []recipe.Candidate) []Slot {
	g := newGreedy(candidates, nil)
	var slots []Slot
	for day := 1; day <= days; day++ {
		for _, mt := range mealTypes {
			c, ok := g.pick(mt)
			if !ok {
				return slots
			}
			slots = append(slots, slotFor(day, mt, c))
		}
	}
	return slots
}

// fillMissing keeps existing slots and greedily fills the (day, meal type)
// pairs that have no slot.
func fillMissing(existing []Slot, days int, mealTypes []MealType, candidates []recipe.Candidate) []Slot {
	slots := make([]Slot, 0, days*len(mealTypes))
	have := make(map[[2]int]bool)
	for _, s := range existing {
		if s.Day < 1 || s.Day > days || !slices.Contains(mealTypes, s.MealType) {
			continue
		}
		have[[2]int{s.Day, s.MealType.rank()}] = true
		slots = append(slots, s)
	}

	g := newGreedy(candidates, slots)
	for day := 1; day <= days; day++ {
		for _, mt := range mealTypes {
			if have[[2]int{day, mt.rank()}] {
				continue
			}
			if c, ok := g.pick(mt); ok {
				slots = append(slots, slotFor(day, mt, c))
			}
		}
	}
	sortSlots(slots)
	return slots
}
