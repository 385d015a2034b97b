package cache

import (
	"context"

	"github.com/artouc/ego-graphica/internal/kv"
	"github.com/artouc/ego-graphica/internal/observe"
)

// EmbedFunc computes an embedding with the model.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// EmbeddingCache maps a text's content hash to its embedding.
type EmbeddingCache struct {
	tier
}

func NewEmbeddingCache(store kv.Store, obs *observe.Observer) *EmbeddingCache {
	return &EmbeddingCache{tier: newTier(nameEmbedding, store, obs)}
}

func (c *EmbeddingCache) Get(ctx context.Context, text string) ([]float32, bool) {
	var vec []float32
	if !c.get(ctx, EmbeddingKey(Hash(text)), &vec) {
		return nil, false
	}
	return vec, true
}

func (c *EmbeddingCache) Set(ctx context.Context, text string, vec []float32) {
	c.set(ctx, EmbeddingKey(Hash(text)), vec, EmbeddingTTL)
}

// Embed returns the cached embedding for text, calling embed only on a miss.
// Errors from embed are returned; cache errors are not.
func (c *EmbeddingCache) Embed(ctx context.Context, text string, embed EmbedFunc) ([]float32, error) {
	if vec, ok := c.Get(ctx, text); ok {
		return vec, nil
	}
	vec, err := embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.Set(ctx, text, vec)
	return vec, nil
}

// Clear removes every cached embedding.
func (c *EmbeddingCache) Clear(ctx context.Context) int {
	return c.deleteMatching(ctx, "embedding:*")
}
