package cache

import (
	"context"
	"time"

	"github.com/artouc/ego-graphica/internal/kv"
	"github.com/artouc/ego-graphica/internal/memory"
	"github.com/artouc/ego-graphica/internal/observe"
)

// VectorEntry is a cached similarity result set.
type VectorEntry struct {
	Signature string        `json:"signature"`
	Results   []memory.Item `json:"results"`
	CachedAt  time.Time     `json:"cached_at"`
}

// SearchFunc runs the real similarity query.
type SearchFunc func(ctx context.Context) ([]memory.Item, error)

// VectorCache maps tenant + embedding signature to similarity results.
type VectorCache struct {
	tier
}

func NewVectorCache(store kv.Store, obs *observe.Observer) *VectorCache {
	return &VectorCache{tier: newTier(nameVector, store, obs)}
}

func (c *VectorCache) Get(ctx context.Context, tenant string, vec []float32) ([]memory.Item, bool) {
	var entry VectorEntry
	if !c.get(ctx, VectorKey(tenant, Signature(vec)), &entry) {
		return nil, false
	}
	return entry.Results, true
}

func (c *VectorCache) Set(ctx context.Context, tenant string, vec []float32, results []memory.Item) {
	sig := Signature(vec)
	entry := VectorEntry{Signature: sig, Results: results, CachedAt: time.Now()}
	c.set(ctx, VectorKey(tenant, sig), entry, VectorTTL)
}

// Search returns cached results for an approximately equal query vector,
// falling back to search on a miss.
func (c *VectorCache) Search(ctx context.Context, tenant string, vec []float32, search SearchFunc) ([]memory.Item, error) {
	if results, ok := c.Get(ctx, tenant, vec); ok {
		return results, nil
	}
	results, err := search(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(ctx, tenant, vec, results)
	return results, nil
}

// Invalidate drops every cached result set of the tenant.
func (c *VectorCache) Invalidate(ctx context.Context, tenant string) int {
	return c.deleteMatching(ctx, "vector:"+tenant+":*")
}
