package knowledge

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/artouc/ego-graphica/internal/bounded"
	"github.com/artouc/ego-graphica/internal/cache"
	"github.com/artouc/ego-graphica/internal/observe"
	"github.com/artouc/ego-graphica/internal/persona"
	"github.com/artouc/ego-graphica/internal/store"
	"golang.org/x/sync/errgroup"
)

// Loader serves the tenant context from the context cache and rebuilds it
// from the store on a miss.
type Loader struct {
	store    store.Storage
	contexts *cache.ContextCache
	obs      *observe.Observer
	timeout  time.Duration
	rebuilds atomic.Int64
}

// NewLoader creates a loader. timeout bounds each store read.
func NewLoader(s store.Storage, contexts *cache.ContextCache, obs *observe.Observer, timeout time.Duration) *Loader {
	return &Loader{store: s, contexts: contexts, obs: obs, timeout: timeout}
}

// Rebuilds returns how many full rebuilds the loader has run.
func (l *Loader) Rebuilds() int64 {
	return l.rebuilds.Load()
}

// Load returns the cached context. A miss rebuilds every field; a hit whose
// summary was cleared by KnowledgeSummaryOnly rebuilds only the summary.
func (l *Loader) Load(ctx context.Context, tenant string) (*cache.CachedContext, error) {
	ctx, span := l.obs.StartSpan(ctx, "knowledge.Load")
	defer span.End()

	writeCtx := context.WithoutCancel(ctx)

	if cc, ok := l.contexts.Get(ctx, tenant); ok {
		if cc.KnowledgeSummary != "" {
			return cc, nil
		}
		summary, err := l.Summary(ctx, tenant)
		if err != nil {
			return nil, err
		}
		if summary != "" {
			cc.KnowledgeSummary = summary
			l.contexts.Set(writeCtx, tenant, cc)
		}
		return cc, nil
	}

	cc, err := l.Rebuild(ctx, tenant)
	if err != nil {
		return nil, err
	}
	l.contexts.Set(writeCtx, tenant, cc)
	return cc, nil
}

// Rebuild reads persona, knowledge summary and style profile concurrently.
func (l *Loader) Rebuild(ctx context.Context, tenant string) (*cache.CachedContext, error) {
	l.rebuilds.Add(1)
	started := time.Now()

	var (
		p       *persona.Persona
		summary string
		profile *persona.StyleProfile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		p, err = bounded.Do(gctx, "get persona", l.timeout, func(ctx context.Context) (*persona.Persona, error) {
			return l.store.GetPersona(ctx, tenant)
		})
		return err
	})
	g.Go(func() error {
		var err error
		summary, err = l.Summary(gctx, tenant)
		return err
	})
	g.Go(func() error {
		var err error
		profile, err = bounded.Do(gctx, "get style profile", l.timeout, func(ctx context.Context) (*persona.StyleProfile, error) {
			return l.store.GetStyleProfile(ctx, tenant)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("rebuild context for %s: %w", tenant, err)
	}

	cc := &cache.CachedContext{Persona: p, KnowledgeSummary: summary}
	if profile != nil {
		cc.WritingStyle = profile.Style
		cc.StyleSamples = profile.Samples
	}
	l.obs.Log().Info().Str("tenant", tenant).Int("summary_runes", len([]rune(summary))).
		Int("ms", int(time.Since(started).Milliseconds())).Msg("context rebuilt")
	return cc, nil
}

// Summary reads the newest works, files and URLs and builds the summary.
func (l *Loader) Summary(ctx context.Context, tenant string) (string, error) {
	var (
		works []store.Work
		files []store.File
		urls  []store.SourceURL
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		works, err = bounded.Do(gctx, "list works", l.timeout, func(ctx context.Context) ([]store.Work, error) {
			return l.store.ListWorks(ctx, tenant, SummaryWorks)
		})
		return err
	})
	g.Go(func() error {
		var err error
		files, err = bounded.Do(gctx, "list files", l.timeout, func(ctx context.Context) ([]store.File, error) {
			return l.store.ListFiles(ctx, tenant, SummaryFiles)
		})
		return err
	})
	g.Go(func() error {
		var err error
		urls, err = bounded.Do(gctx, "list urls", l.timeout, func(ctx context.Context) ([]store.SourceURL, error) {
			return l.store.ListURLs(ctx, tenant, SummaryURLs)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return "", err
	}
	return BuildSummary(works, files, urls), nil
}
