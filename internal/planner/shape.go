package planner

import (
	"regexp"
	"strconv"
	"strings"
)

// Shape is the size of a requested plan.
type Shape struct {
	Days        int
	MealsPerDay int
}

const (
	MaxDays        = 30
	MaxMealsPerDay = 6
)

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7,
	"eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12, "fourteen": 14,
	"a": 1, "an": 1, "single": 1,
}

// Articles only count for weeks: "a meal plan" and "meals a day" say nothing
// about size.
const (
	numberPattern        = `(\d+|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|fourteen)`
	articleNumberPattern = `(\d+|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|fourteen|a|an|single)`
)

var (
	daysPattern  = regexp.MustCompile(`\b` + numberPattern + `[\s-]*days?\b`)
	weeksPattern = regexp.MustCompile(`\b` + articleNumberPattern + `[\s-]*weeks?\b`)
	mealsPattern = regexp.MustCompile(`\b` + numberPattern + `[\s-]*meals?\b`)
	weeklyWords  = regexp.MustCompile(`\b(weekly|week-long|whole week|this week|next week|for the week)\b`)
	fortnight    = regexp.MustCompile(`\bfortnight(ly)?\b`)
)

// ParseShape extracts the number of days and meals per day from free text.
// Missing values come from defaults; results are clamped to valid bounds.
func ParseShape(prompt string, defaults Shape) Shape {
	text := strings.ToLower(prompt)
	shape := defaults

	switch {
	case daysPattern.MatchString(text):
		shape.Days = parseNumber(daysPattern.FindStringSubmatch(text)[1], defaults.Days)
	case fortnight.MatchString(text):
		shape.Days = 14
	case weeksPattern.MatchString(text):
		shape.Days = 7 * parseNumber(weeksPattern.FindStringSubmatch(text)[1], 1)
	case weeklyWords.MatchString(text):
		shape.Days = 7
	}

	if m := mealsPattern.FindStringSubmatch(text); m != nil {
		shape.MealsPerDay = parseNumber(m[1], defaults.MealsPerDay)
	}

	shape.Days = clamp(shape.Days, 1, MaxDays)
	shape.MealsPerDay = clamp(shape.MealsPerDay, 1, MaxMealsPerDay)
	return shape
}

func parseNumber(s string, fallback int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if n, ok := numberWords[s]; ok {
		return n
	}
	return fallback
}

func clamp(v, lo, hi int) int {
	return min(hi, max(lo, v))
}
