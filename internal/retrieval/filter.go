package retrieval

import (
	"slices"
	"strings"
	"unicode"

	"mealplan/internal/preferences"
	"mealplan/internal/recipe"
)

// family is a group of ingredient words used by the hard preference filter.
// Exception phrases contain a family word without belonging to the family.
type family struct {
	name       string
	terms      []string
	exceptions []string
}

var (
	meat = family{name: "meat", terms: []string{
		"beef", "pork", "chicken", "lamb", "turkey", "bacon", "ham", "sausage", "veal",
		"duck", "prosciutto", "chorizo", "pancetta", "salami", "steak", "mince", "gelatin",
	}}
	fish = family{name: "fish", terms: []string{
		"fish", "salmon", "tuna", "cod", "anchovy", "anchovies", "sardine", "trout",
		"halibut", "mackerel", "tilapia", "haddock",
	}}
	shellfish = family{name: "shellfish", terms: []string{
		"shrimp", "prawn", "crab", "lobster", "mussel", "clam", "oyster", "scallop", "squid",
	}}
	dairy = family{name: "dairy", terms: []string{
		"milk", "cheese", "butter", "cream", "yogurt", "yoghurt", "ghee", "parmesan",
		"mozzarella", "feta", "ricotta", "whey",
	}, exceptions: []string{
		"coconut milk", "almond milk", "oat milk", "soy milk", "rice milk", "peanut butter",
		"almond butter", "cocoa butter", "coconut cream",
	}}
	gluten = family{name: "gluten", terms: []string{
		"wheat", "flour", "bread", "pasta", "barley", "rye", "couscous", "breadcrumbs",
		"noodles", "tortilla", "seitan", "bulgur",
	}, exceptions: []string{
		"rice noodles", "corn tortilla", "rice flour", "almond flour",
		"coconut flour", "chickpea flour",
	}}
	nuts = family{name: "nuts", terms: []string{
		"almond", "walnut", "cashew", "pecan", "hazelnut", "pistachio", "macadamia", "nut",
	}}
	eggs    = family{name: "eggs", terms: []string{"egg"}}
	pork    = family{name: "pork", terms: []string{"pork", "bacon", "ham", "prosciutto", "pancetta", "chorizo", "lard"}}
	soy     = family{name: "soy", terms: []string{"soy", "tofu", "tempeh", "edamame", "miso"}}
	sesame  = family{name: "sesame", terms: []string{"sesame", "tahini"}}
	peanuts = family{name: "peanuts", terms: []string{"peanut"}}
	honey   = family{name: "honey", terms: []string{"honey"}}
	alcohol = family{name: "alcohol", terms: []string{"wine", "beer", "rum", "brandy", "sake", "mirin"}}
)

// substitutes neutralize the word that follows them ("vegan cheese",
// "gluten-free pasta").
var substitutes = []string{
	"vegan", "vegetarian", "plant-based", "meatless", "meat-free", "non-dairy",
	"dairy-free", "gluten-free", "egg-free", "nut-free",
}

// allergenFamilies maps allergy keys, as produced by filterKey, to the
// ingredient families that trigger them.
var allergenFamilies = map[string][]family{
	"dairy":       {dairy},
	"milk":        {dairy},
	"lactose":     {dairy},
	"gluten":      {gluten},
	"wheat":       {gluten},
	"nut":         {nuts},
	"tree-nut":    {nuts},
	"peanut":      {peanuts},
	"shellfish":   {shellfish},
	"crustacean":  {shellfish},
	"seafood":     {fish, shellfish},
	"fish":        {fish},
	"egg":         {eggs},
	"soy":         {soy},
	"soya":        {soy},
	"sesame":      {sesame},
	"sesame-seed": {sesame},
}

// restrictionAliases maps other spellings onto restrictionRules keys.
var restrictionAliases = map[string]string{
	"veggie":        "vegetarian",
	"pescetarian":   "pescatarian",
	"plant-based":   "vegan",
	"no-gluten":     "gluten-free",
	"celiac":        "gluten-free",
	"coeliac":       "gluten-free",
	"lactose-free":  "dairy-free",
	"no-dairy":      "dairy-free",
	"no-nuts":       "nut-free",
	"tree-nut-free": "nut-free",
}

type restrictionRule struct {
	// okTags mark a recipe as compliant regardless of ingredients.
	okTags   []string
	families []family
}

var restrictionRules = map[string]restrictionRule{
	"vegetarian":  {okTags: []string{"vegetarian", "vegan"}, families: []family{meat, fish, shellfish}},
	"vegan":       {okTags: []string{"vegan"}, families: []family{meat, fish, shellfish, dairy, eggs, honey}},
	"pescatarian": {okTags: []string{"pescatarian", "vegetarian", "vegan"}, families: []family{meat}},
	"gluten-free": {okTags: []string{"gluten-free"}, families: []family{gluten}},
	"dairy-free":  {okTags: []string{"dairy-free", "vegan"}, families: []family{dairy}},
	"nut-free":    {okTags: []string{"nut-free"}, families: []family{nuts, peanuts}},
	"halal":       {okTags: []string{"halal"}, families: []family{pork, alcohol}},
	"kosher":      {okTags: []string{"kosher"}, families: []family{pork, shellfish}},
}

// preferenceFilter rejects recipes that conflict with allergies or dietary
// restrictions. Disliked ingredients are not filtered here; they are passed
// to the planner as soft preferences.
type preferenceFilter struct {
	allergies    []string
	restrictions []string
}

func newPreferenceFilter(p preferences.Preferences) preferenceFilter {
	n := p.Normalized()
	f := preferenceFilter{allergies: keysOf(n.Allergies)}
	for _, r := range keysOf(n.DietaryRestrictions) {
		if alias, ok := restrictionAliases[r]; ok {
			r = alias
		}
		f.restrictions = append(f.restrictions, r)
	}
	return f
}

func (f preferenceFilter) allows(r recipe.Recipe) bool {
	if len(f.allergies) == 0 && len(f.restrictions) == 0 {
		return true
	}
	ingredients := strings.ToLower(strings.Join(r.Ingredients, "\n"))
	tags := keysOf(r.Tags)
	allergens := keysOf(r.Allergens)

	for _, a := range f.allergies {
		if slices.ContainsFunc(allergens, func(listed string) bool { return sameAllergen(a, listed) }) {
			return false
		}
		fams, ok := allergyFamilies(a)
		if !ok {
			phrase := strings.ReplaceAll(a, "-", " ")
			fams = []family{{terms: []string{phrase, singular(phrase)}}}
		}
		for _, fam := range fams {
			if fam.mentionedIn(ingredients) {
				return false
			}
		}
	}

	for _, restriction := range f.restrictions {
		rule, ok := restrictionRules[restriction]
		if !ok {
			continue
		}
		if slices.ContainsFunc(rule.okTags, func(t string) bool { return slices.Contains(tags, t) }) {
			continue
		}
		for _, fam := range rule.families {
			if fam.mentionedIn(ingredients) {
				return false
			}
		}
	}
	return true
}

// allergyFamilies resolves an allergy key, singular or plural, to its
// ingredient families.
func allergyFamilies(key string) ([]family, bool) {
	if fams, ok := allergenFamilies[key]; ok {
		return fams, true
	}
	fams, ok := allergenFamilies[singular(key)]
	return fams, ok
}

// sameAllergen reports whether a user allergy and a recipe's declared
// allergen name the same thing, either literally or through a shared family
// ("nut" and "tree-nuts", "milk" and "dairy").
func sameAllergen(allergy, listed string) bool {
	if allergy == listed || singular(allergy) == singular(listed) {
		return true
	}
	want, ok := allergyFamilies(allergy)
	if !ok {
		return false
	}
	have, ok := allergyFamilies(listed)
	if !ok {
		return false
	}
	for _, w := range want {
		if slices.ContainsFunc(have, func(h family) bool { return h.name == w.name }) {
			return true
		}
	}
	return false
}

func singular(s string) string {
	if strings.HasSuffix(s, "ss") {
		return s
	}
	return strings.TrimSuffix(s, "s")
}

// mentionedIn reports whether text contains any family term as a whole word
// (plurals included) once the exception phrases have been removed.
func (f family) mentionedIn(text string) bool {
	for _, e := range f.exceptions {
		text = strings.ReplaceAll(text, e, " ")
	}
	words := strings.FieldsFunc(text, func(r rune) bool {
		return (r < 'a' || r > 'z') && r != '-'
	})
	for _, term := range f.terms {
		if strings.Contains(term, " ") {
			if strings.Contains(text, term) {
				return true
			}
			continue
		}
		for i, w := range words {
			if w != term && w != term+"s" && w != term+"es" {
				continue
			}
			if i > 0 && slices.Contains(substitutes, words[i-1]) {
				continue
			}
			return true
		}
	}
	return false
}

// filterKey folds a user or catalog label into the hyphenated lowercase form
// used by the filter tables, so "Gluten Free", "gluten_free" and
// "gluten-free" compare equal.
func filterKey(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == '_' || r == '-' || unicode.IsSpace(r)
	})
	return strings.Join(fields, "-")
}

func keysOf(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if k := filterKey(s); k != "" {
			out = append(out, k)
		}
	}
	return out
}
