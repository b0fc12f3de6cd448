package recipe

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Lookup resolves recipe details by id. Get returns nil, nil for unknown ids.
type Lookup interface {
	Get(ctx context.Context, id string) (*Recipe, error)
}

// ChainLookup asks each source in turn and returns the first hit. A failing
// source is logged and skipped; the error is only returned when no source
// produced the recipe.
type ChainLookup struct {
	sources []Lookup
	logger  *zap.Logger
}

// NewChainLookup creates a ChainLookup over sources, in priority order.
func NewChainLookup(logger *zap.Logger, sources ...Lookup) *ChainLookup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChainLookup{sources: sources, logger: logger.Named("recipe_lookup")}
}

func (c *ChainLookup) Get(ctx context.Context, id string) (*Recipe, error) {
	var errs []error
	for _, src := range c.sources {
		rec, err := src.Get(ctx, id)
		if err != nil {
			c.logger.Warn("recipe source failed", zap.String("recipe_id", id), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if rec != nil {
			return rec, nil
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}
