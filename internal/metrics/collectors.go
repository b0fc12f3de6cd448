package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mealplan/internal/shared"
)

// Outcome labels for mealplan_llm_requests_total.
const (
	OutcomeOK       = "ok"
	OutcomeFallback = "fallback"
)

// Collectors holds the prometheus instruments of the planning pipeline.
// All methods are safe on a nil receiver.
type Collectors struct {
	llmRequests         *prometheus.CounterVec
	llmLatency          *prometheus.HistogramVec
	fallbacks           *prometheus.CounterVec
	retrievalCandidates prometheus.Histogram
	groceryCache        *prometheus.CounterVec
}

// NewCollectors creates the instruments and registers them with reg when
// reg is non-nil.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		llmRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mealplan_llm_requests_total",
				Help: "LLM-backed stage executions by outcome",
			},
			[]string{"agent", "outcome"},
		),
		llmLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mealplan_llm_latency_seconds",
				Help:    "Latency of LLM-backed stages in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"agent"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mealplan_fallbacks_total",
				Help: "Deterministic fallbacks taken, by pipeline stage",
			},
			[]string{"stage"},
		),
		retrievalCandidates: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mealplan_retrieval_candidates",
				Help:    "Candidates returned per retrieval",
				Buckets: []float64{0, 1, 5, 10, 20, 40, 80},
			},
		),
		groceryCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mealplan_grocery_cache_total",
				Help: "Grocery list cache lookups by result",
			},
			[]string{"result"},
		),
	}
	if reg != nil {
		reg.MustRegister(c.llmRequests, c.llmLatency, c.fallbacks, c.retrievalCandidates, c.groceryCache)
	}
	return c
}

// ObserveAgent records one LLM-backed stage execution.
func (c *Collectors) ObserveAgent(meta shared.AgentMeta) {
	if c == nil {
		return
	}
	outcome := OutcomeOK
	if meta.Fallback {
		outcome = OutcomeFallback
	}
	c.llmRequests.WithLabelValues(meta.AgentName, outcome).Inc()
	c.llmLatency.WithLabelValues(meta.AgentName).Observe(meta.Latency.Seconds())
}

// Fallback counts a fallback taken by stage.
func (c *Collectors) Fallback(stage string) {
	if c == nil {
		return
	}
	c.fallbacks.WithLabelValues(stage).Inc()
}

// RetrievalCandidates records the size of one retrieval result.
func (c *Collectors) RetrievalCandidates(n int) {
	if c == nil {
		return
	}
	c.retrievalCandidates.Observe(float64(n))
}

// GroceryCache counts a cache lookup; result is "hit" or "miss".
func (c *Collectors) GroceryCache(result string) {
	if c == nil {
		return
	}
	c.groceryCache.WithLabelValues(result).Inc()
}
