package cache

import (
	"context"
	"time"

	"github.com/artouc/ego-graphica/internal/kv"
	"github.com/artouc/ego-graphica/internal/observe"
	"github.com/artouc/ego-graphica/internal/persona"
)

// InvalidationSignal tells the context cache what changed upstream.
type InvalidationSignal int

const (
	// Full evicts the whole entry.
	Full InvalidationSignal = iota
	// PersonaOnly also evicts the whole entry, so a new persona is never
	// served next to a summary derived under the old one.
	PersonaOnly
	// KnowledgeSummaryOnly clears the summary and keeps persona and style.
	KnowledgeSummaryOnly
)

func (s InvalidationSignal) String() string {
	switch s {
	case Full:
		return "full"
	case PersonaOnly:
		return "persona"
	case KnowledgeSummaryOnly:
		return "summary"
	}
	return "unknown"
}

// ParseSignal maps the CLI/API names back to a signal.
func ParseSignal(s string) (InvalidationSignal, bool) {
	switch s {
	case "full":
		return Full, true
	case "persona":
		return PersonaOnly, true
	case "summary", "knowledge":
		return KnowledgeSummaryOnly, true
	}
	return Full, false
}

// CachedContext is the precomputed per-tenant prompt material.
type CachedContext struct {
	Persona          *persona.Persona      `json:"persona"`
	KnowledgeSummary string                `json:"knowledge_summary"`
	WritingStyle     *persona.WritingStyle `json:"writing_style"`
	StyleSamples     []string              `json:"style_samples"`
	CachedAt         time.Time             `json:"cached_at"`
}

// ContextCache holds one CachedContext per tenant.
type ContextCache struct {
	tier
	ttl time.Duration
	now func() time.Time
}

func NewContextCache(store kv.Store, obs *observe.Observer) *ContextCache {
	return &ContextCache{
		tier: newTier(nameContext, store, obs),
		ttl:  ContextTTL,
		now:  time.Now,
	}
}

// SetClock overrides the time source used for the age check.
func (c *ContextCache) SetClock(now func() time.Time) {
	c.now = now
}

// Get returns the tenant's context. Entries older than the TTL are evicted
// and reported absent.
func (c *ContextCache) Get(ctx context.Context, tenant string) (*CachedContext, bool) {
	key := ContextKey(tenant)
	var cc CachedContext
	if !c.get(ctx, key, &cc) {
		return nil, false
	}
	if c.now().Sub(cc.CachedAt) > c.ttl {
		c.obs.Log().Debug().Str("tenant", tenant).Msg("Context cache entry expired")
		c.delete(ctx, key)
		return nil, false
	}
	return &cc, true
}

// Set stamps CachedAt and stores the context.
func (c *ContextCache) Set(ctx context.Context, tenant string, cc *CachedContext) {
	cc.CachedAt = c.now()
	c.set(ctx, ContextKey(tenant), cc, c.ttl)
}

// Invalidate applies a signal to the tenant's entry. KnowledgeSummaryOnly on a
// missing entry does nothing.
func (c *ContextCache) Invalidate(ctx context.Context, tenant string, signal InvalidationSignal) {
	key := ContextKey(tenant)
	c.obs.Log().Info().Str("tenant", tenant).Str("signal", signal.String()).Msg("Invalidating context cache")

	if signal != KnowledgeSummaryOnly {
		c.delete(ctx, key)
		return
	}

	var cc CachedContext
	ok, err := kv.GetJSON(ctx, c.store, key, &cc)
	if err != nil {
		// Without a readable entry the summary cannot be patched, so drop it.
		c.obs.Log().Warn().Str("tenant", tenant).Err(err).Msg("Context cache unreadable, evicting")
		c.delete(ctx, key)
		return
	}
	if !ok {
		return
	}
	cc.KnowledgeSummary = ""
	remaining := c.ttl - c.now().Sub(cc.CachedAt)
	if remaining <= 0 {
		c.delete(ctx, key)
		return
	}
	c.set(ctx, key, &cc, remaining)
}

// Clear removes every tenant's context.
func (c *ContextCache) Clear(ctx context.Context) int {
	return c.deleteMatching(ctx, "cag:context:*")
}
