package main

import (
	"fmt"
	"io"
	"strings"

	"mealplan/internal/app"
	"mealplan/internal/planner"
)

func printPlanResponse(w io.Writer, resp *app.PlanResponse) {
	printPlan(w, resp.Plan)
	if resp.Warning != "" {
		fmt.Fprintf(w, "\nWarning: %s\n", resp.Warning)
	}
	if len(resp.FailedCategories) > 0 {
		names := make([]string, len(resp.FailedCategories))
		for i, c := range resp.FailedCategories {
			names[i] = string(c)
		}
		fmt.Fprintf(w, "Unavailable categories: %s\n", strings.Join(names, ", "))
	}
	fmt.Fprintf(w, "\nSession: %s\n", resp.SessionToken)
}

func printPlan(w io.Writer, plan *planner.MealPlan) {
	fmt.Fprintf(w, "=== MEAL PLAN %s (%d days, %s, v%d) ===\n", plan.ID, plan.Days, plan.Status, plan.Version)
	for _, s := range plan.Slots {
		fmt.Fprintf(w, "Day %-2d %-9s: %s [%s]\n", s.Day, s.MealType, s.RecipeTitle, s.RecipeID)
	}
	if plan.Explanation != "" {
		fmt.Fprintf(w, "\n%s\n", plan.Explanation)
	}
}

func printReplaceResponse(w io.Writer, resp *app.ReplaceResponse) {
	if resp.Plan != nil {
		printPlan(w, resp.Plan)
		return
	}
	fmt.Fprintf(w, "Candidates from %s:\n", resp.Category)
	if len(resp.Candidates) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, c := range resp.Candidates {
		fmt.Fprintf(w, "  %-24s %.2f  %s\n", c.ID, c.Score, c.Title)
	}
}

func printGroceryList(w io.Writer, list *planner.GroceryList) {
	fmt.Fprintf(w, "=== SHOPPING LIST (%s) ===\n", list.Source)
	category := ""
	for _, item := range list.Items {
		if item.Category != category {
			category = item.Category
			fmt.Fprintf(w, "\n[%s]\n", category)
		}
		qty := strings.TrimSpace(item.Quantity + " " + item.Unit)
		if qty != "" {
			fmt.Fprintf(w, "- %s %s\n", qty, item.Name)
		} else {
			fmt.Fprintf(w, "- %s\n", item.Name)
		}
	}
}
