package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// CachedEmbeddingGenerator wraps an EmbeddingGenerator to cache results
// to a file. Query strings repeat a lot across conversations, so most
// retrievals never reach the embedding API.
type CachedEmbeddingGenerator struct {
	realGen       EmbeddingGenerator
	cache         map[string][]float32
	cacheFilePath string
	logger        *zap.Logger
	mu            sync.RWMutex
}

// NewCachedEmbeddingGenerator creates a new CachedEmbeddingGenerator.
// It attempts to load the cache from the specified file path. An empty path
// keeps the cache in memory only.
func NewCachedEmbeddingGenerator(realGen EmbeddingGenerator, cacheFilePath string, logger *zap.Logger) (*CachedEmbeddingGenerator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &CachedEmbeddingGenerator{
		realGen:       realGen,
		cache:         make(map[string][]float32),
		cacheFilePath: cacheFilePath,
		logger:        logger.Named("embedding_cache"),
	}
	if cacheFilePath == "" {
		return c, nil
	}

	cacheDir := filepath.Dir(cacheFilePath)
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", cacheDir, err)
	}

	data, err := os.ReadFile(cacheFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.Info("cache file not found, starting with empty cache", zap.String("path", cacheFilePath))
			return c, nil
		}
		return nil, fmt.Errorf("failed to read cache file %s: %w", cacheFilePath, err)
	}

	if err := json.Unmarshal(data, &c.cache); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data from %s: %w", cacheFilePath, err)
	}

	c.logger.Info("loaded embeddings from cache", zap.Int("count", len(c.cache)), zap.String("path", cacheFilePath))
	return c, nil
}

// GenerateEmbedding checks the cache first. If the embedding is not found,
// it calls the real generator, stores the result in the cache, and returns it.
func (c *CachedEmbeddingGenerator) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	c.mu.RLock()
	embedding, ok := c.cache[text]
	c.mu.RUnlock()
	if ok {
		return embedding, nil
	}

	embedding, err := c.realGen.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding using real generator: %w", err)
	}

	c.mu.Lock()
	c.cache[text] = embedding
	c.mu.Unlock()
	return embedding, nil
}

// Len reports how many embeddings are cached.
func (c *CachedEmbeddingGenerator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// SaveCache persists the current in-memory cache to the file system.
func (c *CachedEmbeddingGenerator) SaveCache() error {
	if c.cacheFilePath == "" {
		return nil
	}

	c.mu.RLock()
	data, err := json.Marshal(c.cache)
	count := len(c.cache)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	if err := os.WriteFile(c.cacheFilePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file %s: %w", c.cacheFilePath, err)
	}

	c.logger.Info("saved embeddings to cache", zap.Int("count", count), zap.String("path", c.cacheFilePath))
	return nil
}
