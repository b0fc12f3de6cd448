package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mealplan/internal/config"
	"mealplan/internal/database"
	"mealplan/internal/ghost"
	"mealplan/internal/llm"
	"mealplan/internal/metrics"
	"mealplan/internal/planner"
	"mealplan/internal/preferences"
	"mealplan/internal/query"
	"mealplan/internal/recipe"
	"mealplan/internal/replacement"
	"mealplan/internal/retrieval"
	"mealplan/internal/session"
	"mealplan/internal/shared"
	"mealplan/internal/shopping"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// PlanResponse is returned by GeneratePlan and ModifyPlan.
type PlanResponse struct {
	SessionToken     string
	State            session.State
	Plan             *planner.MealPlan
	Quality          planner.Quality
	Warning          string
	FailedCategories []recipe.Category
}

// ReplaceResponse carries either replacement candidates or the committed plan.
type ReplaceResponse struct {
	Category   recipe.Category
	Candidates []recipe.Candidate
	Plan       *planner.MealPlan
}

// Components are the infrastructure an App is assembled from.
type Components struct {
	DB       *sql.DB
	TextGen  llm.TextGenerator
	Embedder llm.EmbeddingGenerator
	// Sources are consulted for recipe details after the local repository.
	Sources []recipe.Lookup
	Logger  *zap.Logger
	Metrics *metrics.Collectors
}

// App holds the application's dependencies.
type App struct {
	cfg    *config.Config
	db     *sql.DB
	logger *zap.Logger

	sessions     *session.Manager
	sessionRepo  *session.Repository
	tokens       *session.TokenIssuer
	plans        *planner.PlanRepository
	replacer     *replacement.Engine
	grocery      *shopping.Generator
	indexer      *recipe.Indexer
	recipes      *recipe.Repository
	prefs        *preferences.Repository
	metricsStore *metrics.Store

	closers []func() error
}

// NewApp wires the planning pipeline on top of c.
func NewApp(cfg *config.Config, c Components) *App {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	recipeRepo := recipe.NewRepository(c.DB)
	vectorRepo := llm.NewVectorRepository(c.DB)
	planRepo := planner.NewPlanRepository(c.DB)
	prefsRepo := preferences.NewRepository(c.DB)
	sessionRepo := session.NewRepository(c.DB)
	metricsStore := metrics.NewStore(c.DB)

	index := recipe.NewVectorIndex(c.Embedder, vectorRepo, recipeRepo)
	lookup := recipe.NewChainLookup(logger, append([]recipe.Lookup{recipeRepo}, c.Sources...)...)

	// One lock set for every plan writer.
	planLocks := shared.NewKeyedLock()

	retriever := retrieval.New(index, retrieval.Config{
		Timeout:        cfg.IndexTimeout,
		Parallelism:    cfg.RetrievalParallelism,
		MaxPerCategory: cfg.RetrievalMaxPerCategory,
		MaxTotal:       cfg.RetrievalMaxTotal,
	}, logger, c.Metrics)

	manager := session.NewManager(session.Deps{
		DB:          c.DB,
		Sessions:    sessionRepo,
		Plans:       planRepo,
		Preferences: prefsRepo,
		Queries:     query.NewGenerator(c.TextGen, cfg.LLMTimeout, logger, c.Metrics),
		Retriever:   retriever,
		Planner:     planner.NewPlanner(c.TextGen, cfg.LLMTimeout, logger, c.Metrics),
		Usage:       metricsStore,
		PlanLocks:   planLocks,
	}, session.Options{
		PreferencesTimeout: cfg.PreferencesTimeout,
		Defaults:           planner.Shape{Days: cfg.DefaultDays, MealsPerDay: cfg.DefaultMealsPerDay},
		MaxPerCategory:     cfg.RetrievalMaxPerCategory,
		MaxTotal:           cfg.RetrievalMaxTotal,
		TTL:                cfg.SessionTTL,
	}, logger, c.Metrics)

	replacer := replacement.NewEngine(planRepo, lookup, retriever, prefsRepo, planLocks, replacement.Config{
		TopK:               cfg.ReplacementTopK,
		Neighbors:          cfg.ReplacementNeighbors,
		PreferencesTimeout: cfg.PreferencesTimeout,
	}, logger, c.Metrics)

	grocery := shopping.NewGenerator(planRepo, lookup, c.TextGen, cfg.LLMTimeout, planLocks, metricsStore, logger, c.Metrics)

	return &App{
		cfg:          cfg,
		db:           c.DB,
		logger:       logger.Named("app"),
		sessions:     manager,
		sessionRepo:  sessionRepo,
		tokens:       session.NewTokenIssuer(cfg.SessionSecret, cfg.SessionTTL),
		plans:        planRepo,
		replacer:     replacer,
		grocery:      grocery,
		indexer:      recipe.NewIndexer(c.Embedder, vectorRepo, recipeRepo),
		recipes:      recipeRepo,
		prefs:        prefsRepo,
		metricsStore: metricsStore,
	}
}

// Open builds an App from configuration: database, LLM clients and the
// optional Ghost recipe source. Collectors are registered with reg when it
// is non-nil.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gemini, err := llm.NewGeminiClient(ctx, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	embedder, err := llm.NewCachedEmbeddingGenerator(gemini, cfg.EmbeddingCachePath, logger)
	if err != nil {
		_ = gemini.Close()
		_ = db.Close()
		return nil, fmt.Errorf("failed to load embedding cache: %w", err)
	}

	var textGen llm.TextGenerator = gemini
	if cfg.LLMProvider == "groq" {
		textGen = llm.NewGroqClient(cfg)
	}
	textGen = llm.NewRateLimitedGenerator(textGen, cfg.LLMRequestsPerMinute)

	var sources []recipe.Lookup
	if gc := ghost.NewClient(cfg); gc.Enabled() {
		sources = append(sources, ghost.NewRecipeSource(gc))
	}

	a := NewApp(cfg, Components{
		DB:       db.SQL,
		TextGen:  textGen,
		Embedder: embedder,
		Sources:  sources,
		Logger:   logger,
		Metrics:  metrics.NewCollectors(reg),
	})
	a.closers = []func() error{db.Close, gemini.Close, embedder.SaveCache}

	logger.Info("application ready",
		zap.String("llm_provider", cfg.LLMProvider),
		zap.String("database", cfg.DatabasePath),
		zap.Bool("ghost_source", len(sources) > 0))
	return a, nil
}

// Close releases resources acquired by Open, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// GeneratePlan starts a planning session for userID and returns its first plan.
func (a *App) GeneratePlan(ctx context.Context, userID, prompt string) (*PlanResponse, error) {
	out, err := a.sessions.Generate(ctx, userID, prompt)
	if err != nil {
		return nil, err
	}
	return a.respond(out)
}

// ModifyPlan applies feedback to the plan of the session behind sessionToken.
func (a *App) ModifyPlan(ctx context.Context, sessionToken, feedback string) (*PlanResponse, error) {
	sessionID, _, err := a.tokens.Parse(sessionToken)
	if err != nil {
		return nil, err
	}
	out, err := a.sessions.Modify(ctx, sessionID, feedback)
	if err != nil {
		return nil, err
	}
	return a.respond(out)
}

// FinalizePlan closes the session behind sessionToken and returns the id of
// the plan that became the user's active plan.
func (a *App) FinalizePlan(ctx context.Context, sessionToken string) (string, error) {
	sessionID, _, err := a.tokens.Parse(sessionToken)
	if err != nil {
		return "", err
	}
	return a.sessions.Finalize(ctx, sessionID)
}

// ReplaceRecipe proposes replacements for one slot when chosenID is empty
// and commits chosenID otherwise.
func (a *App) ReplaceRecipe(ctx context.Context, planID, day, mealType, oldID, chosenID string) (*ReplaceResponse, error) {
	d, err := ParseDay(day)
	if err != nil {
		return nil, err
	}
	req := replacement.Request{PlanID: planID, Day: d, MealType: planner.MealType(mealType), OldRecipeID: oldID}

	if chosenID == "" {
		sug, err := a.replacer.Suggest(ctx, req, 0)
		if err != nil {
			return nil, err
		}
		return &ReplaceResponse{Category: sug.Category, Candidates: sug.Candidates}, nil
	}

	plan, err := a.replacer.Commit(ctx, req, chosenID)
	if err != nil {
		return nil, err
	}
	return &ReplaceResponse{Plan: plan}, nil
}

// GetGroceryList returns the plan's grocery list, rebuilding it when stale or
// when forceRefresh is set.
func (a *App) GetGroceryList(ctx context.Context, planID string, forceRefresh bool) (*planner.GroceryList, error) {
	return a.grocery.Get(ctx, planID, forceRefresh)
}

// ActiveSessionToken returns a fresh token for the user's open session, or
// "" when there is none.
func (a *App) ActiveSessionToken(ctx context.Context, userID string) (string, error) {
	s, err := a.sessions.Active(ctx, userID)
	if err != nil || s == nil {
		return "", err
	}
	return a.tokens.Issue(s.ID, s.UserID)
}

// CurrentPlan returns the plan of the user's open session, falling back to
// the last finalized plan.
func (a *App) CurrentPlan(ctx context.Context, userID string) (*planner.MealPlan, error) {
	s, err := a.sessions.Active(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s != nil {
		return a.plans.Get(ctx, s.PlanID)
	}
	return a.plans.GetActive(ctx, userID)
}

// Plan returns a plan by id.
func (a *App) Plan(ctx context.Context, planID string) (*planner.MealPlan, error) {
	return a.plans.Get(ctx, planID)
}

// RecentPlans lists the user's newest plans.
func (a *App) RecentPlans(ctx context.Context, userID string, limit int) ([]planner.MealPlan, error) {
	return a.plans.ListRecentByUserID(ctx, userID, limit)
}

// SavePreferences stores the user's dietary profile.
func (a *App) SavePreferences(ctx context.Context, userID string, p preferences.Preferences) error {
	return a.prefs.Save(ctx, userID, p.Normalized())
}

// IndexRecipes adds pre-classified recipes to the index. Recipes that fail
// are logged and skipped; the number indexed is returned.
func (a *App) IndexRecipes(ctx context.Context, recipes []recipe.Recipe) (int, error) {
	indexed := 0
	for _, rec := range recipes {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		if err := a.indexer.Add(ctx, rec); err != nil {
			a.logger.Warn("failed to index recipe", zap.String("recipe_id", rec.ID), zap.Error(err))
			continue
		}
		indexed++
	}
	a.logger.Info("recipes indexed", zap.Int("indexed", indexed), zap.Int("total", len(recipes)))
	return indexed, nil
}

// RecipeCount reports how many recipes are stored.
func (a *App) RecipeCount(ctx context.Context) (int, error) {
	return a.recipes.Count(ctx)
}

// UsageReport renders system health and LLM usage for the last days.
func (a *App) UsageReport(ctx context.Context, days int) (string, error) {
	usage, err := a.metricsStore.GetDailyUsage(ctx, days)
	if err != nil {
		return "", err
	}
	return metrics.Report(metrics.GetSysHealth(filepath.Dir(a.cfg.DatabasePath)), usage), nil
}

// CleanupMetrics deletes execution metrics older than days.
func (a *App) CleanupMetrics(ctx context.Context, days int) (int64, error) {
	return a.metricsStore.Cleanup(ctx, days)
}

// CleanupSessions deletes open sessions untouched for longer than the
// configured TTL.
func (a *App) CleanupSessions(ctx context.Context) (int64, error) {
	return a.sessionRepo.CleanupExpired(ctx, time.Now().Add(-a.cfg.SessionTTL))
}

// Ping checks the database connection.
func (a *App) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *App) respond(out *session.Outcome) (*PlanResponse, error) {
	token, err := a.tokens.Issue(out.Session.ID, out.Session.UserID)
	if err != nil {
		return nil, err
	}
	resp := &PlanResponse{
		SessionToken:     token,
		State:            out.Session.State,
		Plan:             out.Plan,
		Quality:          out.Quality,
		FailedCategories: out.FailedCategories,
	}
	if out.Warning != nil {
		resp.Warning = out.Warning.Error()
	}
	return resp, nil
}

// ParseDay accepts "3", "day 3" or a weekday name (monday = 1).
func ParseDay(s string) (int, error) {
	text := strings.ToLower(strings.TrimSpace(s))
	text = strings.TrimSpace(strings.TrimPrefix(text, "day"))
	if n, err := strconv.Atoi(text); err == nil && n > 0 {
		return n, nil
	}
	for i, name := range weekdays {
		if text == name || (len(text) >= 3 && strings.HasPrefix(name, text)) {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: invalid day %q", planner.ErrInvalidRequest, s)
}

var weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}
