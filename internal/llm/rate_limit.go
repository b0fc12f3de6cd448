package llm

import (
	"context"
	"fmt"

	"mealplan/internal/shared"

	"golang.org/x/time/rate"
)

// RateLimitedGenerator spreads calls to the wrapped generator over a
// requests-per-minute budget. Waiting honours the caller's context.
type RateLimitedGenerator struct {
	next    TextGenerator
	limiter *rate.Limiter
}

// NewRateLimitedGenerator wraps next with a limiter allowing rpm requests per
// minute. rpm <= 0 disables limiting.
func NewRateLimitedGenerator(next TextGenerator, rpm int) *RateLimitedGenerator {
	limit := rate.Inf
	burst := 1
	if rpm > 0 {
		limit = rate.Limit(float64(rpm) / 60.0)
		burst = max(1, rpm/10)
	}
	return &RateLimitedGenerator{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// GenerateContent waits for a token and then delegates.
func (g *RateLimitedGenerator) GenerateContent(ctx context.Context, prompt string) (ContentResponse, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return ContentResponse{}, fmt.Errorf("%w: rate limit wait: %v", shared.ErrUpstreamUnavailable, err)
	}
	return g.next.GenerateContent(ctx, prompt)
}
