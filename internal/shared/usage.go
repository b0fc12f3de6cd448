package shared

import "time"

// TokenUsage is what one model call consumed, as reported by the provider.
type TokenUsage struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// AgentMeta describes one execution of an LLM-backed pipeline stage.
// Fallback is set when the stage answered from its deterministic path.
type AgentMeta struct {
	AgentName string
	Usage     TokenUsage
	Latency   time.Duration
	Fallback  bool
}

// Reached reports whether the stage got an answer from the model.
func (m AgentMeta) Reached() bool {
	return m.Usage.PromptTokens > 0 || m.Usage.CompletionTokens > 0
}
