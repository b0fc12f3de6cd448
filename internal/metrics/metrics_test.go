package metrics

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mealplan/internal/database"
	"mealplan/internal/shared"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db.SQL)
	ctx := context.Background()

	require.NoError(t, store.RecordMeta(ctx, shared.AgentMeta{
		AgentName: "Synthesizer",
		Usage:     shared.TokenUsage{PromptTokens: 100, CompletionTokens: 50, Model: "m"},
		Latency:   1500 * time.Millisecond,
	}))
	require.NoError(t, store.RecordMeta(ctx, shared.AgentMeta{AgentName: "QueryGenerator", Fallback: true}))
	// No usage and no fallback: skipped.
	require.NoError(t, store.RecordMeta(ctx, shared.AgentMeta{AgentName: "Grocery"}))
	require.NoError(t, store.Record(ctx, ExecutionMetric{AgentName: "Old", PromptTokens: 1, Timestamp: time.Now().AddDate(0, 0, -40)}))

	usage, err := store.GetDailyUsage(ctx, 7)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), usage[0].Date)
	assert.Equal(t, 100, usage[0].TotalPrompt)
	assert.Equal(t, 50, usage[0].TotalCompletion)
	assert.Equal(t, 2, usage[0].TotalExecution)
	assert.Equal(t, 1, usage[0].Fallbacks)

	removed, err := store.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectors(reg)

	c.ObserveAgent(shared.AgentMeta{AgentName: "Synthesizer", Latency: time.Second})
	c.ObserveAgent(shared.AgentMeta{AgentName: "Synthesizer", Fallback: true})
	c.Fallback("synthesizer")
	c.GroceryCache("hit")
	c.RetrievalCandidates(12)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.llmRequests.WithLabelValues("Synthesizer", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.llmRequests.WithLabelValues("Synthesizer", OutcomeFallback)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fallbacks.WithLabelValues("synthesizer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.groceryCache.WithLabelValues("hit")))

	count, err := testutil.GatherAndCount(reg, "mealplan_retrieval_candidates")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var nilCollectors *Collectors
	assert.NotPanics(t, func() {
		nilCollectors.Fallback("x")
		nilCollectors.ObserveAgent(shared.AgentMeta{})
		nilCollectors.GroceryCache("miss")
		nilCollectors.RetrievalCandidates(0)
	})
}

func TestReport(t *testing.T) {
	h := GetSysHealth(t.TempDir())
	assert.Greater(t, h.Goroutines, 0)

	out := Report(h, []DailyUsage{{Date: "2024-01-02", TotalExecution: 3, TotalPrompt: 10, TotalCompletion: 5}})
	assert.True(t, strings.Contains(out, "2024-01-02: 3 runs"))
	assert.Contains(t, Report(h, nil), "no executions recorded")
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "0 B", humanBytes(0))
	assert.Equal(t, "1023 B", humanBytes(1023))
	assert.Equal(t, "1.5 KB", humanBytes(1536))
	assert.Equal(t, "2.0 MB", humanBytes(2*1024*1024))
}
