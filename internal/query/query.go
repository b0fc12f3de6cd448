package query

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"text/template"
	"time"

	"mealplan/internal/llm"
	"mealplan/internal/metrics"
	"mealplan/internal/preferences"
	"mealplan/internal/recipe"
	"mealplan/internal/shared"

	"go.uber.org/zap"
)

//go:embed query_prompt.md
var queryPrompt string

const (
	agentName = "QueryGenerator"

	SourceLLM      = "llm"
	SourceFallback = "fallback"

	maxQueriesPerCategory = 5
	minQueryWords         = 3
	maxQueryWords         = 10
)

var promptTemplate = template.Must(template.New("query").Funcs(template.FuncMap{
	"join": func(items []string) string {
		if len(items) == 0 {
			return "none"
		}
		return strings.Join(items, ", ")
	},
}).Parse(queryPrompt))

// Result is the set of search queries for one retrieval round.
type Result struct {
	Queries  map[recipe.Category][]string
	Detected []string
	Source   string
	Meta     shared.AgentMeta
}

// Generator turns a conversation into per-category search queries.
type Generator struct {
	textGen llm.TextGenerator
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Collectors
}

// NewGenerator creates a Generator. timeout bounds the LLM call.
func NewGenerator(textGen llm.TextGenerator, timeout time.Duration, logger *zap.Logger, m *metrics.Collectors) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{textGen: textGen, timeout: timeout, logger: logger.Named("query"), metrics: m}
}

type promptData struct {
	Categories []recipe.Category
	Turns      []shared.Turn
	Prefs      preferences.Preferences
}

type rawResult struct {
	Queries  map[string][]string `json:"queries"`
	Detected []string            `json:"detected_preferences"`
}

// Generate never fails: any LLM problem yields the deterministic fallback,
// and categories the model skipped are filled from it.
func (g *Generator) Generate(ctx context.Context, turns []shared.Turn, prefs preferences.Preferences) Result {
	start := time.Now()
	fallback := FallbackQueries(turns, prefs)

	raw, usage, err := g.ask(ctx, turns, prefs)
	meta := shared.AgentMeta{AgentName: agentName, Usage: usage, Latency: time.Since(start)}
	if err != nil {
		g.logger.Warn("query generation failed, using fallback", zap.String("stage", "query"), zap.Error(err))
		g.metrics.Fallback("query")
		meta.Fallback = true
		g.metrics.ObserveAgent(meta)
		return Result{Queries: fallback, Detected: FallbackDetected(turns), Source: SourceFallback, Meta: meta}
	}

	queries := make(map[recipe.Category][]string, len(fallback))
	filled := 0
	for _, c := range recipe.AllCategories() {
		qs := sanitize(raw.Queries[string(c)])
		if len(qs) == 0 {
			qs = fallback[c]
			filled++
		}
		queries[c] = qs
	}
	if filled > 0 {
		g.logger.Debug("filled categories from fallback", zap.Int("count", filled))
	}
	g.metrics.ObserveAgent(meta)

	return Result{
		Queries:  queries,
		Detected: sanitizeDetected(raw.Detected),
		Source:   SourceLLM,
		Meta:     meta,
	}
}

func (g *Generator) ask(ctx context.Context, turns []shared.Turn, prefs preferences.Preferences) (rawResult, shared.TokenUsage, error) {
	if g.textGen == nil {
		return rawResult{}, shared.TokenUsage{}, errors.New("no text generator configured")
	}

	var buf bytes.Buffer
	if err := promptTemplate.Execute(&buf, promptData{
		Categories: recipe.AllCategories(),
		Turns:      turns,
		Prefs:      prefs,
	}); err != nil {
		return rawResult{}, shared.TokenUsage{}, fmt.Errorf("failed to render query prompt: %w", err)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.textGen.GenerateContent(ctx, buf.String())
	if err != nil {
		return rawResult{}, resp.Usage, err
	}

	var raw rawResult
	body := llm.ExtractJSON(resp.Content)
	if body == "" {
		return rawResult{}, resp.Usage, fmt.Errorf("no JSON object in query response")
	}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return rawResult{}, resp.Usage, fmt.Errorf("failed to parse query response: %w", err)
	}
	if len(raw.Queries) == 0 {
		return rawResult{}, resp.Usage, fmt.Errorf("query response has no queries")
	}
	return raw, resp.Usage, nil
}

// sanitize collapses whitespace, drops queries outside 3..10 words after
// truncation, removes duplicates and keeps at most five.
func sanitize(in []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, q := range in {
		words := strings.Fields(q)
		if len(words) > maxQueryWords {
			words = words[:maxQueryWords]
		}
		if len(words) < minQueryWords {
			continue
		}
		q = strings.Join(words, " ")
		key := strings.ToLower(q)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
		if len(out) == maxQueriesPerCategory {
			break
		}
	}
	return out
}

func sanitizeDetected(in []string) []string {
	var out []string
	for _, d := range in {
		d = strings.ToLower(strings.Join(strings.Fields(d), " "))
		if d == "" || len(d) > 64 {
			continue
		}
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	return out
}
