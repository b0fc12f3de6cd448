package shopping

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"mealplan/internal/llm"
	"mealplan/internal/metrics"
	"mealplan/internal/planner"
	"mealplan/internal/recipe"
	"mealplan/internal/shared"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

//go:embed grocery_prompt.md
var groceryPrompt string

const agentName = "GroceryList"

var groceryTemplate = template.Must(template.New("grocery").Funcs(template.FuncMap{
	"join": func(items []string) string { return strings.Join(items, ", ") },
}).Parse(groceryPrompt))

type promptRecipe struct {
	Title       string
	Ingredients []string
}

type promptData struct {
	Recipes []promptRecipe
	Aisles  []string
}

type llmList struct {
	Items []planner.GroceryItem `json:"items" validate:"required,min=1,dive"`
}

// Generator derives grocery lists from plans and caches them on the plan.
type Generator struct {
	plans     *planner.PlanRepository
	lookup    recipe.Lookup
	textGen   llm.TextGenerator
	timeout   time.Duration
	planLocks *shared.KeyedLock
	usage     metrics.MetaRecorder
	validate  *validator.Validate
	logger    *zap.Logger
	metrics   *metrics.Collectors
}

// NewGenerator creates a Generator. textGen may be nil, in which case lists
// are always built by the local parser. planLocks must be shared with every
// other plan writer.
func NewGenerator(plans *planner.PlanRepository, lookup recipe.Lookup, textGen llm.TextGenerator, timeout time.Duration,
	planLocks *shared.KeyedLock, usage metrics.MetaRecorder, logger *zap.Logger, m *metrics.Collectors) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if planLocks == nil {
		planLocks = shared.NewKeyedLock()
	}
	return &Generator{
		plans:     plans,
		lookup:    lookup,
		textGen:   textGen,
		timeout:   timeout,
		planLocks: planLocks,
		usage:     usage,
		validate:  validator.New(),
		logger:    logger.Named("shopping"),
		metrics:   m,
	}
}

// Get returns the plan's grocery list, serving the cached one unless it is
// stale or forceRefresh is set.
func (g *Generator) Get(ctx context.Context, planID string, forceRefresh bool) (*planner.GroceryList, error) {
	unlock, err := g.planLocks.Lock(ctx, planID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	plan, err := g.plans.Get(ctx, planID)
	if err != nil {
		return nil, err
	}

	hash := plan.ContentHash()
	if cached := plan.GroceryList; cached != nil && !forceRefresh &&
		!cached.GeneratedAt.Before(plan.UpdatedAt) && cached.PlanHash == hash {
		g.metrics.GroceryCache("hit")
		return cached, nil
	}
	g.metrics.GroceryCache("miss")

	list := &planner.GroceryList{Items: []planner.GroceryItem{}, PlanHash: hash, Source: planner.GrocerySourceEmpty}
	if len(plan.Slots) > 0 {
		list.Items, list.Source = g.build(ctx, plan)
	}
	list.GeneratedAt = time.Now().UTC()

	stored, err := g.plans.SaveGroceryList(ctx, plan.ID, plan.Version, list)
	if err != nil {
		return nil, err
	}
	g.logger.Info("grocery list generated",
		zap.String("plan_id", plan.ID),
		zap.String("source", list.Source),
		zap.Int("items", len(list.Items)),
		zap.Bool("cached", stored))
	return list, nil
}

func (g *Generator) build(ctx context.Context, plan *planner.MealPlan) ([]planner.GroceryItem, string) {
	recipes := g.resolve(ctx, plan)

	var withIngredients []promptRecipe
	for _, r := range recipes {
		if len(r.Ingredients) > 0 {
			withIngredients = append(withIngredients, r)
		}
	}
	if len(withIngredients) == 0 {
		return recipeNames(recipes), planner.GrocerySourceRecipes
	}

	items, err := g.ask(ctx, withIngredients)
	if err == nil {
		return items, planner.GrocerySourceLLM
	}
	g.logger.Warn("grocery aggregation failed, using keyword parser", zap.String("stage", "grocery"), zap.Error(err))
	g.metrics.Fallback("grocery")

	if items := keywordList(withIngredients); len(items) > 0 {
		return items, planner.GrocerySourceKeyword
	}
	return recipeNames(recipes), planner.GrocerySourceRecipes
}

// resolve returns one entry per distinct recipe in slot order. Recipes the
// lookup cannot find keep their slot title and no ingredients.
func (g *Generator) resolve(ctx context.Context, plan *planner.MealPlan) []promptRecipe {
	titles := make(map[string]string)
	for _, s := range plan.Slots {
		if _, ok := titles[s.RecipeID]; !ok {
			titles[s.RecipeID] = s.RecipeTitle
		}
	}

	var out []promptRecipe
	for _, id := range plan.RecipeIDs() {
		pr := promptRecipe{Title: titles[id]}
		if g.lookup != nil {
			rec, err := g.lookup.Get(ctx, id)
			switch {
			case err != nil:
				g.logger.Warn("recipe lookup failed", zap.String("recipe_id", id), zap.Error(err))
			case rec == nil:
				g.logger.Debug("recipe not found", zap.String("recipe_id", id))
			default:
				pr.Ingredients = rec.Ingredients
				if pr.Title == "" {
					pr.Title = rec.Title
				}
			}
		}
		if pr.Title == "" {
			pr.Title = id
		}
		out = append(out, pr)
	}
	return out
}

func (g *Generator) ask(ctx context.Context, recipes []promptRecipe) ([]planner.GroceryItem, error) {
	if g.textGen == nil {
		return nil, errors.New("no text generator configured")
	}

	var buf bytes.Buffer
	if err := groceryTemplate.Execute(&buf, promptData{Recipes: recipes, Aisles: aisleOrder[:len(aisleOrder)-1]}); err != nil {
		return nil, fmt.Errorf("failed to render grocery prompt: %w", err)
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := g.textGen.GenerateContent(callCtx, buf.String())
	meta := shared.AgentMeta{AgentName: agentName, Usage: resp.Usage, Latency: time.Since(start), Fallback: err != nil}
	defer func() {
		g.metrics.ObserveAgent(meta)
		if g.usage != nil {
			if rerr := g.usage.RecordMeta(ctx, meta); rerr != nil {
				g.logger.Warn("failed to record usage", zap.Error(rerr))
			}
		}
	}()
	if err != nil {
		if !errors.Is(err, shared.ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: %v", shared.ErrUpstreamUnavailable, err)
		}
		return nil, err
	}

	items, err := g.parse(resp.Content)
	if err != nil {
		meta.Fallback = true
		return nil, err
	}
	return items, nil
}

func (g *Generator) parse(content string) ([]planner.GroceryItem, error) {
	body := llm.ExtractJSON(content)
	if body == "" {
		return nil, errors.New("no JSON object in grocery response")
	}
	var raw llmList
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse grocery response: %w", err)
	}
	for i := range raw.Items {
		it := &raw.Items[i]
		it.Name = NormalizeName(it.Name)
		it.Quantity = strings.TrimSpace(it.Quantity)
		it.Unit = strings.ToLower(strings.TrimSpace(it.Unit))
		if unit, ok := unitAliases[it.Unit]; ok {
			it.Unit = unit
		}
		it.Category = strings.ToLower(strings.TrimSpace(it.Category))
		if !ValidAisle(it.Category) || it.Category == AisleRecipes {
			it.Category = Categorize(it.Name)
		}
	}
	if err := g.validate.Struct(raw); err != nil {
		return nil, fmt.Errorf("invalid grocery response: %w", err)
	}
	sortGroceryItems(raw.Items)
	return raw.Items, nil
}

// keywordList parses, consolidates and buckets every ingredient line locally.
func keywordList(recipes []promptRecipe) []planner.GroceryItem {
	var parsed []Ingredient
	for _, r := range recipes {
		for _, line := range r.Ingredients {
			parsed = append(parsed, ParseIngredient(line))
		}
	}

	var items []planner.GroceryItem
	for _, ing := range Consolidate(parsed) {
		item := planner.GroceryItem{Name: ing.Name, Unit: ing.Unit, Category: Categorize(ing.Name)}
		if ing.HasQty {
			item.Quantity = FormatQuantity(ing.Quantity)
		}
		items = append(items, item)
	}
	sortGroceryItems(items)
	return items
}

func recipeNames(recipes []promptRecipe) []planner.GroceryItem {
	items := make([]planner.GroceryItem, 0, len(recipes))
	for _, r := range recipes {
		items = append(items, planner.GroceryItem{Name: r.Title, Category: AisleRecipes})
	}
	return items
}
