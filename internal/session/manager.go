package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mealplan/internal/database"
	"mealplan/internal/metrics"
	"mealplan/internal/planner"
	"mealplan/internal/preferences"
	"mealplan/internal/query"
	"mealplan/internal/recipe"
	"mealplan/internal/retrieval"
	"mealplan/internal/shared"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Deps are the collaborators a Manager drives.
type Deps struct {
	DB          *sql.DB
	Sessions    *Repository
	Plans       *planner.PlanRepository
	Preferences preferences.Store
	Queries     *query.Generator
	Retriever   *retrieval.Retriever
	Planner     *planner.Planner
	Usage       metrics.MetaRecorder
	// PlanLocks is shared with every other component that writes plans.
	PlanLocks *shared.KeyedLock
}

// Options tune a Manager.
type Options struct {
	PreferencesTimeout time.Duration
	Defaults           planner.Shape
	MaxPerCategory     int
	MaxTotal           int
	// TTL bounds how long an untouched session counts as active.
	TTL time.Duration
}

// Outcome is the result of a generate or modify turn.
type Outcome struct {
	Session *Session
	Plan    *planner.MealPlan
	Quality planner.Quality
	// Warning is set when the turn succeeded with caveats, e.g. ErrNoRecipesFound.
	Warning          error
	FailedCategories []recipe.Category
	QuerySource      string
}

// Manager runs the Initial → Generated ⇄ Modifying → Finalized lifecycle.
type Manager struct {
	deps         Deps
	opts         Options
	sessionLocks *shared.KeyedLock
	logger       *zap.Logger
	metrics      *metrics.Collectors
}

// NewManager creates a Manager.
func NewManager(deps Deps, opts Options, logger *zap.Logger, m *metrics.Collectors) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.PlanLocks == nil {
		deps.PlanLocks = shared.NewKeyedLock()
	}
	if opts.Defaults.Days <= 0 {
		opts.Defaults.Days = 7
	}
	if opts.Defaults.MealsPerDay <= 0 {
		opts.Defaults.MealsPerDay = 3
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTokenTTL
	}
	return &Manager{
		deps:         deps,
		opts:         opts,
		sessionLocks: shared.NewKeyedLock(),
		logger:       logger.Named("session"),
		metrics:      m,
	}
}

// Generate opens a session for userID and produces its first plan.
func (m *Manager) Generate(ctx context.Context, userID, prompt string) (*Outcome, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", planner.ErrInvalidRequest)
	}

	// The session is only stored together with its first plan, so an
	// aborted generation leaves nothing behind.
	s := &Session{ID: uuid.NewString(), UserID: userID, State: StateInitial}
	s.addTurn(shared.RoleUser, prompt)
	logger := m.logger.With(zap.String("session_id", s.ID), zap.String("user_id", userID))

	prefs := m.loadPreferences(ctx, userID)
	shape := planner.ParseShape(prompt, m.opts.Defaults)

	q := m.deps.Queries.Generate(ctx, s.Turns, prefs)
	found := m.deps.Retriever.Retrieve(ctx, q.Queries, prefs, m.retrievalOptions())

	syn, err := m.deps.Planner.Synthesize(ctx, planner.Request{
		UserID:      userID,
		Prompt:      prompt,
		Prefs:       prefs,
		Days:        shape.Days,
		MealsPerDay: shape.MealsPerDay,
		Candidates:  found.Candidates,
	})
	if err != nil {
		return nil, err
	}
	m.recordUsage(ctx, append([]shared.AgentMeta{q.Meta}, syn.Meta...))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	plan := syn.Plan
	s.State = StateGenerated
	s.PlanID = plan.ID
	s.addTurn(shared.RoleAssistant, plan.Explanation)

	err = database.WithTx(ctx, m.deps.DB, func(tx *sql.Tx) error {
		if err := m.deps.Plans.WithTx(tx).Create(ctx, plan); err != nil {
			return err
		}
		return m.deps.Sessions.WithTx(tx).Create(ctx, s)
	})
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Session:          s,
		Plan:             plan,
		Quality:          syn.Quality,
		FailedCategories: found.Failed,
		QuerySource:      q.Source,
	}
	if syn.NoRecipes {
		out.Warning = ErrNoRecipesFound
	}
	logger.Info("plan generated",
		zap.String("plan_id", plan.ID),
		zap.Int("days", plan.Days),
		zap.Int("meals_per_day", plan.MealsPerDay),
		zap.Int("candidates", len(found.Candidates)),
		zap.Bool("degraded", plan.Degraded),
		zap.String("query_source", q.Source))
	return out, nil
}

// Modify applies feedback to the session's plan.
func (m *Manager) Modify(ctx context.Context, sessionID, feedback string) (*Outcome, error) {
	unlock, err := m.sessionLocks.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err := m.openSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.PlanID == "" {
		return nil, fmt.Errorf("%w: session %s has no plan yet", ErrSessionNotFound, sessionID)
	}

	unlockPlan, err := m.deps.PlanLocks.Lock(ctx, s.PlanID)
	if err != nil {
		return nil, err
	}
	defer unlockPlan()

	current, err := m.deps.Plans.Get(ctx, s.PlanID)
	if err != nil {
		return nil, err
	}

	s.State = StateModifying
	s.addTurn(shared.RoleUser, feedback)
	if err := m.deps.Sessions.Update(ctx, s); err != nil {
		return nil, err
	}

	out, err := m.revise(ctx, s, current, feedback)
	if err != nil {
		s.State = StateGenerated
		if rerr := m.deps.Sessions.Update(context.WithoutCancel(ctx), s); rerr != nil {
			m.logger.Error("failed to restore session state", zap.String("session_id", s.ID), zap.Error(rerr))
		}
		return nil, err
	}
	return out, nil
}

func (m *Manager) revise(ctx context.Context, s *Session, current *planner.MealPlan, feedback string) (*Outcome, error) {
	prefs := m.loadPreferences(ctx, s.UserID)
	q := m.deps.Queries.Generate(ctx, s.Turns, prefs)
	found := m.deps.Retriever.Retrieve(ctx, q.Queries, prefs, m.retrievalOptions())

	syn, err := m.deps.Planner.Revise(ctx, planner.ReviseRequest{
		Current:    current,
		Feedback:   feedback,
		Prefs:      prefs,
		Candidates: found.Candidates,
	})
	if err != nil {
		return nil, err
	}
	m.recordUsage(ctx, append([]shared.AgentMeta{q.Meta}, syn.Meta...))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	revised := syn.Plan
	slotsChanged := revised.ContentHash() != current.ContentHash()
	s.State = StateGenerated
	s.addTurn(shared.RoleAssistant, revised.Explanation)

	err = database.WithTx(ctx, m.deps.DB, func(tx *sql.Tx) error {
		plans := m.deps.Plans.WithTx(tx)
		var err error
		if slotsChanged {
			err = plans.UpdateContent(ctx, revised)
		} else {
			err = plans.UpdateExplanation(ctx, revised)
		}
		if err != nil {
			return err
		}
		return m.deps.Sessions.WithTx(tx).Update(ctx, s)
	})
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Session:          s,
		Plan:             revised,
		Quality:          syn.Quality,
		FailedCategories: found.Failed,
		QuerySource:      q.Source,
	}
	if syn.NoRecipes {
		out.Warning = ErrNoRecipesFound
	}
	m.logger.Info("plan modified",
		zap.String("session_id", s.ID),
		zap.String("plan_id", revised.ID),
		zap.Bool("slots_changed", slotsChanged),
		zap.Bool("degraded", revised.Degraded))
	return out, nil
}

// Finalize closes the session and makes its plan the user's active plan.
func (m *Manager) Finalize(ctx context.Context, sessionID string) (string, error) {
	unlock, err := m.sessionLocks.Lock(ctx, sessionID)
	if err != nil {
		return "", err
	}
	defer unlock()

	s, err := m.openSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if s.PlanID == "" {
		return "", ErrNothingToFinalize
	}

	unlockPlan, err := m.deps.PlanLocks.Lock(ctx, s.PlanID)
	if err != nil {
		return "", err
	}
	defer unlockPlan()

	s.State = StateFinalized
	err = database.WithTx(ctx, m.deps.DB, func(tx *sql.Tx) error {
		if _, err := m.deps.Plans.WithTx(tx).Finalize(ctx, s.PlanID); err != nil {
			return err
		}
		return m.deps.Sessions.WithTx(tx).Update(ctx, s)
	})
	if err != nil {
		return "", err
	}

	m.logger.Info("plan finalized", zap.String("session_id", s.ID), zap.String("plan_id", s.PlanID))
	return s.PlanID, nil
}

// Abandon deletes an open session. Its draft plan is left in place.
func (m *Manager) Abandon(ctx context.Context, sessionID string) error {
	unlock, err := m.sessionLocks.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := m.openSession(ctx, sessionID); err != nil {
		return err
	}
	return m.deps.Sessions.Delete(ctx, sessionID)
}

// Get returns a session by id, finalized ones included.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	s, err := m.deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// Active returns the user's open session that has a plan, or nil.
func (m *Manager) Active(ctx context.Context, userID string) (*Session, error) {
	s, err := m.deps.Sessions.GetActive(ctx, userID, time.Now().Add(-m.opts.TTL))
	if err != nil || s == nil || s.PlanID == "" {
		return nil, err
	}
	return s, nil
}

func (m *Manager) openSession(ctx context.Context, sessionID string) (*Session, error) {
	s, err := m.deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil || !s.Open() {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

func (m *Manager) retrievalOptions() retrieval.Options {
	return retrieval.Options{MaxPerCategory: m.opts.MaxPerCategory, MaxTotal: m.opts.MaxTotal}
}

// loadPreferences never fails: a slow or broken store yields empty preferences.
func (m *Manager) loadPreferences(ctx context.Context, userID string) preferences.Preferences {
	if m.deps.Preferences == nil {
		return preferences.Preferences{}
	}
	if m.opts.PreferencesTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.PreferencesTimeout)
		defer cancel()
	}
	prefs, err := m.deps.Preferences.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, shared.ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: %v", shared.ErrUpstreamUnavailable, err)
		}
		m.logger.Warn("preferences unavailable, planning without them",
			zap.String("stage", "preferences"), zap.String("user_id", userID), zap.Error(err))
		m.metrics.Fallback("preferences")
		return preferences.Preferences{}
	}
	return prefs.Normalized()
}

func (m *Manager) recordUsage(ctx context.Context, metas []shared.AgentMeta) {
	if m.deps.Usage == nil {
		return
	}
	for _, meta := range metas {
		if err := m.deps.Usage.RecordMeta(ctx, meta); err != nil {
			m.logger.Warn("failed to record usage", zap.String("agent", meta.AgentName), zap.Error(err))
		}
	}
}
