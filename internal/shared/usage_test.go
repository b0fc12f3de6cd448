package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAgentMeta_Reached(t *testing.T) {
	assert.False(t, AgentMeta{AgentName: "query_generator", Fallback: true}.Reached())
	assert.True(t, AgentMeta{Usage: TokenUsage{PromptTokens: 12}}.Reached())
	assert.True(t, AgentMeta{Usage: TokenUsage{CompletionTokens: 3}}.Reached())
}
