package shopping

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Ingredient is one parsed recipe ingredient line.
type Ingredient struct {
	Name     string
	Quantity float64
	HasQty   bool
	Unit     string
}

var unicodeFractions = map[rune]string{
	'½': "1/2", '¼': "1/4", '¾': "3/4", '⅓': "1/3", '⅔': "2/3",
	'⅛': "1/8", '⅜': "3/8", '⅝': "5/8", '⅞': "7/8",
}

var unitAliases = map[string]string{
	"g": "g", "gr": "g", "gram": "g", "grams": "g",
	"kg": "kg", "kgs": "kg", "kilogram": "kg", "kilograms": "kg",
	"ml": "ml", "milliliter": "ml", "milliliters": "ml", "millilitre": "ml", "millilitres": "ml",
	"l": "l", "liter": "l", "liters": "l", "litre": "l", "litres": "l",
	"tsp": "tsp", "tsps": "tsp", "teaspoon": "tsp", "teaspoons": "tsp",
	"tbsp": "tbsp", "tbsps": "tbsp", "tbs": "tbsp", "tablespoon": "tbsp", "tablespoons": "tbsp",
	"cup": "cup", "cups": "cup",
	"oz": "oz", "ounce": "oz", "ounces": "oz",
	"lb": "lb", "lbs": "lb", "pound": "lb", "pounds": "lb",
	"clove": "clove", "cloves": "clove",
	"piece": "piece", "pieces": "piece", "pc": "piece", "pcs": "piece",
}

var (
	parenthetical = regexp.MustCompile(`\([^)]*\)`)
	attachedUnit  = regexp.MustCompile(`^(\d+(?:[.,]\d+)?)([a-z]+)$`)
)

// ParseIngredient reads "<qty> <unit> <name>" lines such as "1½ tbsp olive
// oil" or "200g chickpeas, drained". Quantity and unit are optional.
func ParseIngredient(line string) Ingredient {
	text := strings.ToLower(strings.TrimSpace(line))
	text = strings.TrimLeft(text, "-*• ")
	text = parenthetical.ReplaceAllString(text, " ")
	if i := strings.Index(text, ","); i >= 0 {
		text = text[:i]
	}

	var b strings.Builder
	for _, r := range text {
		if frac, ok := unicodeFractions[r]; ok {
			b.WriteString(" " + frac + " ")
			continue
		}
		b.WriteRune(r)
	}

	var tokens []string
	for _, tok := range strings.Fields(b.String()) {
		if m := attachedUnit.FindStringSubmatch(tok); m != nil {
			if _, ok := unitAliases[m[2]]; ok {
				tokens = append(tokens, m[1], m[2])
				continue
			}
		}
		tokens = append(tokens, tok)
	}

	var ing Ingredient
	if len(tokens) > 0 {
		if q, ok := parseAmount(tokens[0]); ok {
			ing.Quantity, ing.HasQty = q, true
			tokens = tokens[1:]
			if len(tokens) > 0 && strings.Contains(tokens[0], "/") {
				if f, ok := parseAmount(tokens[0]); ok {
					ing.Quantity += f
					tokens = tokens[1:]
				}
			}
		}
	}
	if len(tokens) > 0 {
		if unit, ok := unitAliases[strings.TrimSuffix(tokens[0], ".")]; ok {
			ing.Unit = unit
			tokens = tokens[1:]
		}
	}
	ing.Name = NormalizeName(strings.Join(tokens, " "))
	return ing
}

// parseAmount accepts integers, decimals, "a/b" fractions and "a-b" ranges.
// Ranges resolve to their upper bound.
func parseAmount(s string) (float64, bool) {
	s = strings.ReplaceAll(s, ",", ".")
	if lo, hi, ok := strings.Cut(s, "-"); ok && lo != "" {
		if _, okLo := parseAmount(lo); okLo {
			return parseAmount(hi)
		}
		return 0, false
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0, false
		}
		return n / d, true
	}
	if s == "" || !unicode.IsDigit(rune(s[0])) {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// NormalizeName lowercases, trims, drops a leading "of" and singularizes the
// last word of an ingredient name.
func NormalizeName(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for len(words) > 0 && words[0] == "of" {
		words = words[1:]
	}
	if len(words) == 0 {
		return ""
	}
	words[len(words)-1] = singular(words[len(words)-1])
	return strings.Join(words, " ")
}

func singular(w string) string {
	switch {
	case len(w) <= 3:
		return w
	case strings.HasSuffix(w, "ss"), strings.HasSuffix(w, "us"), strings.HasSuffix(w, "is"):
		return w
	case strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "oes"), strings.HasSuffix(w, "ches"), strings.HasSuffix(w, "shes"), strings.HasSuffix(w, "xes"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "s"):
		return w[:len(w)-1]
	}
	return w
}

type itemKey struct {
	name string
	unit string
}

// Consolidate merges ingredients with the same name and unit by summing their
// quantities. Different units for one name stay separate lines.
func Consolidate(ingredients []Ingredient) []Ingredient {
	var order []itemKey
	merged := make(map[itemKey]*Ingredient)
	for _, ing := range ingredients {
		if ing.Name == "" {
			continue
		}
		k := itemKey{ing.Name, ing.Unit}
		cur, ok := merged[k]
		if !ok {
			c := ing
			merged[k] = &c
			order = append(order, k)
			continue
		}
		if ing.HasQty {
			cur.Quantity += ing.Quantity
			cur.HasQty = true
		}
	}
	out := make([]Ingredient, 0, len(order))
	for _, k := range order {
		out = append(out, *merged[k])
	}
	return out
}

// FormatQuantity renders q with at most two decimals and no trailing zeros.
func FormatQuantity(q float64) string {
	return strconv.FormatFloat(math.Round(q*100)/100, 'f', -1, 64)
}
