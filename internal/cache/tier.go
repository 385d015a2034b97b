package cache

import (
	"context"
	"time"

	"github.com/artouc/ego-graphica/internal/kv"
	"github.com/artouc/ego-graphica/internal/observe"
)

// tier wraps a kv.Store with fail-open reads and writes for one cache.
type tier struct {
	name  string
	store kv.Store
	obs   *observe.Observer
}

func newTier(name string, store kv.Store, obs *observe.Observer) tier {
	if obs == nil {
		obs = observe.Discard()
	}
	return tier{name: name, store: store, obs: obs}
}

// get decodes key into v. Any failure is logged and reported as a miss.
func (t tier) get(ctx context.Context, key string, v any) bool {
	ok, err := kv.GetJSON(ctx, t.store, key, v)
	switch {
	case err != nil:
		t.obs.Metrics().CacheResult(t.name, observe.ResultError)
		t.obs.Log().Warn().Str("cache", t.name).Str("key", key).Err(err).Msg("Cache read failed, treating as miss")
		return false
	case !ok:
		t.obs.Metrics().CacheResult(t.name, observe.ResultMiss)
		t.obs.Log().Debug().Str("cache", t.name).Str("key", key).Msg("Cache miss")
		return false
	}
	t.obs.Metrics().CacheResult(t.name, observe.ResultHit)
	t.obs.Log().Debug().Str("cache", t.name).Str("key", key).Msg("Cache hit")
	return true
}

func (t tier) set(ctx context.Context, key string, v any, ttl time.Duration) {
	if err := kv.SetJSON(ctx, t.store, key, v, ttl); err != nil {
		t.obs.Log().Warn().Str("cache", t.name).Str("key", key).Err(err).Msg("Cache write failed")
		return
	}
	t.obs.Log().Debug().Str("cache", t.name).Str("key", key).Msg("Cache set")
}

func (t tier) delete(ctx context.Context, key string) {
	if err := t.store.Delete(ctx, key); err != nil {
		t.obs.Log().Warn().Str("cache", t.name).Str("key", key).Err(err).Msg("Cache delete failed")
	}
}

func (t tier) deleteMatching(ctx context.Context, pattern string) int {
	n, err := kv.DeleteMatching(ctx, t.store, pattern)
	if err != nil {
		t.obs.Log().Warn().Str("cache", t.name).Str("pattern", pattern).Err(err).Msg("Cache clear failed")
		return 0
	}
	t.obs.Log().Info().Str("cache", t.name).Str("pattern", pattern).Int("removed", n).Msg("Cache cleared")
	return n
}
