package planner

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/template"
	"time"

	"mealplan/internal/llm"
	"mealplan/internal/metrics"
	"mealplan/internal/preferences"
	"mealplan/internal/recipe"
	"mealplan/internal/shared"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

//go:embed synthesizer_prompt.md
var synthesizerPrompt string

const (
	synthesizerAgent = "Synthesizer"
	maxAttempts      = 2
	degradedPrefix   = "[degraded] "
	noRecipesMessage = "No recipes matched your request and preferences, so the plan is empty. Try a broader request or relax a restriction."
)

var promptFuncs = template.FuncMap{
	"join": func(items []string) string {
		if len(items) == 0 {
			return "none"
		}
		return strings.Join(items, ", ")
	},
	"mealList": func(mts []MealType) string {
		parts := make([]string, len(mts))
		for i, mt := range mts {
			parts[i] = string(mt)
		}
		return strings.Join(parts, ", ")
	},
}

var synthesizerTemplate = template.Must(template.New("synthesizer").Funcs(promptFuncs).Parse(synthesizerPrompt))

// Request asks for a new plan.
type Request struct {
	UserID      string `validate:"required"`
	Prompt      string
	Prefs       preferences.Preferences
	Days        int `validate:"min=1,max=30"`
	MealsPerDay int `validate:"min=1,max=6"`
	Candidates  []recipe.Candidate
}

// Quality summarizes how a plan was produced.
type Quality struct {
	AverageSimilarity float64
	CategoriesUsed    int
	Attempts          int
	Fallback          bool
}

// Synthesis is the outcome of Synthesize or Revise. Plan is not persisted.
type Synthesis struct {
	Plan      *MealPlan
	Quality   Quality
	NoRecipes bool
	Meta      []shared.AgentMeta
}

// Planner turns candidate recipes into a validated meal plan.
type Planner struct {
	textGen  llm.TextGenerator
	timeout  time.Duration
	validate *validator.Validate
	logger   *zap.Logger
	metrics  *metrics.Collectors
}

// NewPlanner creates a new Planner instance. timeout bounds each LLM attempt.
func NewPlanner(textGen llm.TextGenerator, timeout time.Duration, logger *zap.Logger, m *metrics.Collectors) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		textGen:  textGen,
		timeout:  timeout,
		validate: validator.New(),
		logger:   logger.Named("planner"),
		metrics:  m,
	}
}

type candidateGroup struct {
	Category   recipe.Category
	Candidates []recipe.Candidate
}

type promptData struct {
	Days        int
	MealTypes   []MealType
	Prompt      string
	Feedback    string
	CurrentPlan string
	Prefs       preferences.Preferences
	Groups      []candidateGroup
	Correction  []string
}

// Synthesize builds a plan for req. It only fails for out-of-range
// requests; model failures end in the deterministic greedy plan.
func (p *Planner) Synthesize(ctx context.Context, req Request) (*Synthesis, error) {
	if err := p.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	now := time.Now().UTC()
	plan := &MealPlan{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Days:        req.Days,
		MealsPerDay: req.MealsPerDay,
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	mealTypes := RequiredMealTypes(req.MealsPerDay)

	if len(req.Candidates) == 0 {
		plan.Slots = []Slot{}
		plan.Explanation = noRecipesMessage
		return &Synthesis{Plan: plan, NoRecipes: true}, nil
	}

	c := contract{days: req.Days, mealTypes: mealTypes, allowed: indexCandidates(req.Candidates)}
	data := promptData{
		Days:      req.Days,
		MealTypes: mealTypes,
		Prompt:    req.Prompt,
		Prefs:     req.Prefs,
		Groups:    groupCandidates(req.Candidates),
	}

	slots, explanation, metas, attempts, err := p.attempt(ctx, synthesizerAgent, synthesizerTemplate, data, c)
	syn := &Synthesis{Plan: plan, Meta: metas}
	if err != nil {
		p.logger.Warn("plan synthesis failed, using greedy fallback",
			zap.String("stage", "synthesizer"), zap.Int("attempts", attempts), zap.Error(err))
		p.metrics.Fallback("synthesizer")
		plan.Slots = greedyPlan(req.Days, mealTypes, req.Candidates)
		plan.Explanation = degradedPrefix + "The planner could not produce a valid plan, so recipes were assigned by best match for each meal."
		plan.Degraded = true
		syn.Quality = quality(plan.Slots, attempts, true)
		return syn, nil
	}

	plan.Slots = slots
	plan.Explanation = explanation
	syn.Quality = quality(slots, attempts, false)
	return syn, nil
}

// attempt runs up to maxAttempts model calls, feeding contract violations
// back into the second prompt.
func (p *Planner) attempt(ctx context.Context, agent string, tmpl *template.Template, data promptData, c contract) ([]Slot, string, []shared.AgentMeta, int, error) {
	var metas []shared.AgentMeta
	var lastErr error

	for n := 1; n <= maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return nil, "", metas, n - 1, err
		}

		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, "", metas, n - 1, fmt.Errorf("failed to render %s prompt: %w", agent, err)
		}

		start := time.Now()
		resp, err := p.generate(ctx, buf.String())
		meta := shared.AgentMeta{AgentName: agent, Usage: resp.Usage, Latency: time.Since(start)}

		if err != nil {
			lastErr = err
			meta.Fallback = n == maxAttempts
			metas = append(metas, meta)
			p.metrics.ObserveAgent(meta)
			p.logger.Warn("plan attempt failed", zap.String("agent", agent), zap.Int("attempt", n), zap.Error(err))
			data.Correction = []string{"the previous request did not complete; answer with the JSON object only"}
			continue
		}

		slots, explanation, violations, err := parsePlan(p.validate, resp.Content, c)
		if err != nil {
			lastErr = err
			meta.Fallback = n == maxAttempts
			metas = append(metas, meta)
			p.metrics.ObserveAgent(meta)
			p.logger.Warn("plan attempt rejected", zap.String("agent", agent), zap.Int("attempt", n), zap.Strings("violations", violations))
			data.Correction = violations
			continue
		}

		metas = append(metas, meta)
		p.metrics.ObserveAgent(meta)
		return slots, explanation, metas, n, nil
	}
	return nil, "", metas, maxAttempts, lastErr
}

func (p *Planner) generate(ctx context.Context, prompt string) (llm.ContentResponse, error) {
	if p.textGen == nil {
		return llm.ContentResponse{}, fmt.Errorf("%w: no text generator configured", shared.ErrUpstreamUnavailable)
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	resp, err := p.textGen.GenerateContent(ctx, prompt)
	if err != nil && !errors.Is(err, shared.ErrUpstreamUnavailable) {
		err = fmt.Errorf("%w: %v", shared.ErrUpstreamUnavailable, err)
	}
	return resp, err
}

func indexCandidates(cs []recipe.Candidate) map[string]recipe.Candidate {
	out := make(map[string]recipe.Candidate, len(cs))
	for _, c := range cs {
		if prev, ok := out[c.ID]; !ok || c.Score > prev.Score {
			out[c.ID] = c
		}
	}
	return out
}

func groupCandidates(cs []recipe.Candidate) []candidateGroup {
	byCat := make(map[recipe.Category][]recipe.Candidate)
	for _, c := range cs {
		byCat[c.Category] = append(byCat[c.Category], c)
	}
	var groups []candidateGroup
	for _, cat := range recipe.AllCategories() {
		if len(byCat[cat]) > 0 {
			groups = append(groups, candidateGroup{Category: cat, Candidates: byCat[cat]})
		}
		delete(byCat, cat)
	}
	for _, cat := range slices.Sorted(maps.Keys(byCat)) {
		groups = append(groups, candidateGroup{Category: cat, Candidates: byCat[cat]})
	}
	return groups
}

func quality(slots []Slot, attempts int, fallback bool) Quality {
	q := Quality{Attempts: attempts, Fallback: fallback}
	if len(slots) == 0 {
		return q
	}
	cats := make(map[recipe.Category]struct{})
	var sum float64
	for _, s := range slots {
		sum += s.Score
		cats[s.Category] = struct{}{}
	}
	q.AverageSimilarity = sum / float64(len(slots))
	q.CategoriesUsed = len(cats)
	return q
}
