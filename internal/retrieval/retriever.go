package retrieval

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"mealplan/internal/metrics"
	"mealplan/internal/preferences"
	"mealplan/internal/recipe"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options bound one retrieval.
type Options struct {
	MaxPerCategory int
	MaxTotal       int
	// Categories restricts the fan-out. Empty means every category that has queries.
	Categories []recipe.Category
	// Exclude lists recipe ids that must not be returned.
	Exclude []string
}

// Result is the merged, filtered candidate set.
type Result struct {
	Candidates []recipe.Candidate
	// ByCategory records which candidate ids each category contributed.
	ByCategory map[recipe.Category][]string
	// Failed lists categories whose lookups errored or timed out.
	Failed []recipe.Category
}

// Config holds retriever defaults.
type Config struct {
	Timeout        time.Duration
	Parallelism    int
	MaxPerCategory int
	MaxTotal       int
}

// Retriever fans queries out to the index per category and merges the results.
type Retriever struct {
	index   recipe.Index
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Collectors
}

// New creates a Retriever.
func New(index recipe.Index, cfg Config, logger *zap.Logger, m *metrics.Collectors) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.MaxPerCategory <= 0 {
		cfg.MaxPerCategory = 8
	}
	if cfg.MaxTotal <= 0 {
		cfg.MaxTotal = 40
	}
	return &Retriever{index: index, cfg: cfg, logger: logger.Named("retrieval"), metrics: m}
}

type categoryResult struct {
	category recipe.Category
	hits     []recipe.Hit
	err      error
}

// Retrieve runs every category's queries in parallel under one shared
// deadline. A failing category contributes nothing and is reported in
// Result.Failed; Retrieve itself never fails.
func (r *Retriever) Retrieve(ctx context.Context, queries map[recipe.Category][]string, prefs preferences.Preferences, opts Options) Result {
	if opts.MaxPerCategory <= 0 {
		opts.MaxPerCategory = r.cfg.MaxPerCategory
	}
	if opts.MaxTotal <= 0 {
		opts.MaxTotal = r.cfg.MaxTotal
	}

	categories := opts.Categories
	if len(categories) == 0 {
		categories = recipe.AllCategories()
	}
	var active []recipe.Category
	for _, c := range categories {
		if len(queries[c]) > 0 {
			active = append(active, c)
		}
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	results := make([]categoryResult, len(active))
	var g errgroup.Group
	g.SetLimit(r.cfg.Parallelism)
	for i, c := range active {
		g.Go(func() error {
			hits, err := r.searchCategory(ctx, c, queries[c], opts.MaxPerCategory+len(opts.Exclude))
			results[i] = categoryResult{category: c, hits: hits, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return r.merge(results, prefs, opts)
}

func (r *Retriever) searchCategory(ctx context.Context, c recipe.Category, qs []string, limit int) ([]recipe.Hit, error) {
	var all []recipe.Hit
	for _, q := range qs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hits, err := r.index.Search(ctx, c, q, limit)
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", q, err)
		}
		all = append(all, hits...)
	}
	return all, nil
}

func (r *Retriever) merge(results []categoryResult, prefs preferences.Preferences, opts Options) Result {
	filter := newPreferenceFilter(prefs)
	excluded := make(map[string]struct{}, len(opts.Exclude))
	for _, id := range opts.Exclude {
		excluded[id] = struct{}{}
	}

	out := Result{ByCategory: make(map[recipe.Category][]string)}
	best := make(map[string]recipe.Candidate)
	dropped := 0

	for _, res := range results {
		if res.err != nil {
			r.logger.Warn("category retrieval failed",
				zap.String("stage", "retrieval"),
				zap.String("category", string(res.category)),
				zap.Error(res.err))
			r.metrics.Fallback("retrieval")
			out.Failed = append(out.Failed, res.category)
			continue
		}

		perCategory := make(map[string]recipe.Candidate)
		for _, h := range res.hits {
			if _, skip := excluded[h.ID]; skip {
				continue
			}
			if !filter.allows(h.Recipe) {
				dropped++
				continue
			}
			cand := h.Recipe.ToCandidate(h.Score)
			cand.ID = h.ID
			if prev, ok := perCategory[h.ID]; !ok || cand.Score > prev.Score {
				perCategory[h.ID] = cand
			}
		}

		ranked := sortCandidates(slices.Collect(maps.Values(perCategory)))
		if len(ranked) > opts.MaxPerCategory {
			ranked = ranked[:opts.MaxPerCategory]
		}
		for _, cand := range ranked {
			out.ByCategory[res.category] = append(out.ByCategory[res.category], cand.ID)
			if prev, ok := best[cand.ID]; !ok || cand.Score > prev.Score {
				best[cand.ID] = cand
			}
		}
	}

	out.Candidates = sortCandidates(slices.Collect(maps.Values(best)))
	if len(out.Candidates) > opts.MaxTotal {
		out.Candidates = out.Candidates[:opts.MaxTotal]
	}

	provenance := make([]zap.Field, 0, len(out.ByCategory)+2)
	for c, ids := range out.ByCategory {
		provenance = append(provenance, zap.Int(string(c), len(ids)))
	}
	provenance = append(provenance, zap.Int("total", len(out.Candidates)), zap.Int("filtered", dropped))
	r.logger.Debug("retrieval complete", provenance...)
	r.metrics.RetrievalCandidates(len(out.Candidates))
	return out
}

// sortCandidates orders by score descending, then id ascending.
func sortCandidates(cs []recipe.Candidate) []recipe.Candidate {
	slices.SortFunc(cs, func(a, b recipe.Candidate) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return cs
}
