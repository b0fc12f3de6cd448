package telegram

import (
	"fmt"
	"strings"

	"mealplan/internal/planner"
)

func formatPlan(plan *planner.MealPlan, warning string) string {
	var pb strings.Builder
	fmt.Fprintf(&pb, "📅 *Meal Plan* (%d days)\n", plan.Days)

	day := 0
	for _, s := range plan.Slots {
		if s.Day != day {
			day = s.Day
			fmt.Fprintf(&pb, "\n*Day %d*\n", day)
		}
		fmt.Fprintf(&pb, "• %s: %s\n", s.MealType, escape(s.RecipeTitle))
	}
	if len(plan.Slots) == 0 {
		pb.WriteString("\n_No recipes matched this request._\n")
	}

	if plan.Explanation != "" {
		fmt.Fprintf(&pb, "\n_%s_\n", escape(plan.Explanation))
	}
	if warning != "" {
		fmt.Fprintf(&pb, "\n⚠️ %s\n", escape(warning))
	}
	if plan.Status == planner.StatusDraft {
		pb.WriteString("\nReply with changes, /swap a meal, or /done to keep it.")
	}
	return pb.String()
}

func formatGroceryList(list *planner.GroceryList) string {
	var sb strings.Builder
	sb.WriteString("🛒 *Shopping List*\n")
	if len(list.Items) == 0 {
		sb.WriteString("\n_Nothing to buy._\n")
		return sb.String()
	}

	category := ""
	for _, item := range list.Items {
		if item.Category != category {
			category = item.Category
			fmt.Fprintf(&sb, "\n*%s*\n", aisleTitle(category))
		}
		sb.WriteString("• ")
		if item.Quantity != "" {
			sb.WriteString(escape(strings.TrimSpace(item.Quantity + " " + item.Unit)))
			sb.WriteString(" ")
		}
		sb.WriteString(escape(item.Name))
		sb.WriteString("\n")
	}
	return sb.String()
}

func aisleTitle(category string) string {
	words := strings.Split(category, "-")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " & ")
}
