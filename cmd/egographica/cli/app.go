package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/artouc/ego-graphica/internal/cache"
	"github.com/artouc/ego-graphica/internal/config"
	"github.com/artouc/ego-graphica/internal/credential"
	"github.com/artouc/ego-graphica/internal/guard"
	"github.com/artouc/ego-graphica/internal/knowledge"
	"github.com/artouc/ego-graphica/internal/kv"
	"github.com/artouc/ego-graphica/internal/memory"
	"github.com/artouc/ego-graphica/internal/observe"
	"github.com/artouc/ego-graphica/internal/provider"
	"github.com/artouc/ego-graphica/internal/retrieval"
	"github.com/artouc/ego-graphica/internal/runtime"
	"github.com/artouc/ego-graphica/internal/server"
	"github.com/artouc/ego-graphica/internal/store"
)

// App is the fully wired process.
type App struct {
	Config       *config.Config
	Obs          *observe.Observer
	Store        *store.SQLiteStore
	Vault        *credential.Vault
	KV           kv.Store
	Contexts     *cache.ContextCache
	Vectors      *cache.VectorCache
	Embeddings   *cache.EmbeddingCache
	Sessions     *cache.SessionCache
	Index        memory.Index
	Guard        *guard.Guard
	Generator    provider.Provider
	Loader       *knowledge.Loader
	Knowledge    *knowledge.Service
	Conversation *runtime.Conversation

	closers []io.Closer
}

// openStore opens the SQLite store and the credential vault over its
// configuration table.
func openStore(cfg *config.Config) (*store.SQLiteStore, *credential.Vault, error) {
	s, err := store.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	m, err := credential.NewManager()
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return s, credential.NewVault(s, m), nil
}

func newApp(ctx context.Context, cfg *config.Config, obs *observe.Observer) (*App, error) {
	s, vault, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Obs: obs, Store: s, Vault: vault}
	a.closers = append(a.closers, s)

	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg, obs := a.Config, a.Obs

	kvs, err := openKV(ctx, cfg.Cache, obs)
	if err != nil {
		return err
	}
	a.KV = kvs
	a.closers = append(a.closers, kvs)
	a.Contexts = cache.NewContextCache(kvs, obs)
	a.Vectors = cache.NewVectorCache(kvs, obs)
	a.Embeddings = cache.NewEmbeddingCache(kvs, obs)
	a.Sessions = cache.NewSessionCache(kvs, obs)

	switch cfg.Index.Backend {
	case "sqlite":
		a.Index = a.Store.Index()
	default:
		idx, err := memory.NewChromemIndex(cfg.IndexDir())
		if err != nil {
			return err
		}
		a.Index = idx
	}

	blobs, err := newBlobStore(cfg)
	if err != nil {
		return err
	}

	gen, err := newGenerator(ctx, cfg.Generation, a.Vault)
	if err != nil {
		return fmt.Errorf("generation provider %s: %w", cfg.Generation.Provider, err)
	}
	a.Generator = gen
	a.track(gen)

	embedder, err := newEmbedder(ctx, cfg.Embedding, a.Vault)
	if err != nil {
		return fmt.Errorf("embedding provider %s: %w", cfg.Embedding.Provider, err)
	}
	a.track(embedder)

	a.Guard = guard.New(guard.Policy{
		MaxSteps:          cfg.Conversation.MaxSteps,
		MaxResponseTokens: cfg.Generation.MaxTokens,
	})
	a.Loader = knowledge.NewLoader(a.Store, a.Contexts, obs, cfg.Timeouts.Store)

	searcher := retrieval.New(embedder, a.Index, a.Embeddings, a.Vectors, retrieval.Options{
		TopK:          cfg.Conversation.TopK,
		MinScore:      cfg.Conversation.MinScore,
		MinRunes:      cfg.Conversation.MinSearchRunes,
		EmbedTimeout:  cfg.Timeouts.Embedding,
		SearchTimeout: cfg.Timeouts.Similarity,
	}, obs)

	loop := runtime.NewLoop(gen, nil, a.Guard, obs)
	loop.SetTimeout(cfg.Timeouts.Model)
	a.Conversation = runtime.NewConversation(a.Store, a.Loader, searcher, a.Sessions, loop, a.Guard, obs, runtime.Options{
		HistoryWindow: cfg.Conversation.HistoryWindow,
		ReserveTokens: cfg.Conversation.ReserveTokens,
		StoreTimeout:  cfg.Timeouts.Store,
	})

	var analyzer provider.Provider
	if cfg.Generation.Provider != "stub" {
		analyzer = gen
	}
	a.Knowledge = knowledge.NewService(knowledge.Deps{
		Store:        a.Store,
		Blobs:        blobs,
		Index:        a.Index,
		Embedder:     embedder,
		Analyzer:     analyzer,
		Contexts:     a.Contexts,
		Vectors:      a.Vectors,
		Embeddings:   a.Embeddings,
		Guard:        a.Guard,
		Obs:          obs,
		EmbedTimeout: cfg.Timeouts.Embedding,
	})
	return nil
}

func (a *App) track(v any) {
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
}

// Server builds the HTTP surface over the app.
func (a *App) Server() *server.Server {
	return server.New(server.Deps{
		Conversation: a.Conversation,
		Knowledge:    a.Knowledge,
		Store:        a.Store,
		Contexts:     a.Contexts,
		Vectors:      a.Vectors,
		Embeddings:   a.Embeddings,
		Guard:        a.Guard,
		Obs:          a.Obs,
	})
}

// Close releases everything in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openKV connects the configured backend. An unreachable Redis degrades to
// the in-memory store with a warning.
func openKV(ctx context.Context, cfg config.CacheConfig, obs *observe.Observer) (kv.Store, error) {
	if cfg.Backend == "redis" {
		r, err := kv.NewRedisStore(ctx, kv.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err == nil {
			return r, nil
		}
		obs.Log().Warn().Str("addr", cfg.RedisAddr).Err(err).Msg("redis unavailable, caching in memory")
	}
	return kv.NewMemoryStore(cfg.Capacity)
}

func newBlobStore(cfg *config.Config) (*store.FSBlobStore, error) {
	return store.NewFSBlobStore(cfg.BlobDir())
}

// apiKey reads <name>.api_key from the vault, then <NAME>_API_KEY from the
// environment.
func apiKey(v *credential.Vault, name string) string {
	if key, err := v.Get(name + ".api_key"); err == nil && key != "" {
		return key
	}
	return os.Getenv(strings.ToUpper(name) + "_API_KEY")
}

func newGenerator(ctx context.Context, cfg config.GenerationConfig, v *credential.Vault) (provider.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return provider.NewAnthropicProvider(apiKey(v, "anthropic"), cfg.BaseURL, cfg.Model)
	case "openai":
		return provider.NewOpenAIProvider(apiKey(v, "openai"), cfg.BaseURL, cfg.Model)
	case "gemini":
		return provider.NewGeminiProvider(ctx, apiKey(v, "gemini"), cfg.Model)
	case "ollama":
		return provider.NewOllamaProvider(cfg.Model)
	case "cli":
		return detectCLIProvider(cfg.CLIPath)
	case "stub":
		return provider.NewDemoStubProvider(), nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

func newEmbedder(ctx context.Context, cfg config.EmbeddingConfig, v *credential.Vault) (provider.Embedder, error) {
	switch cfg.Provider {
	case "openai":
		p, err := provider.NewOpenAIProvider(apiKey(v, "openai"), cfg.BaseURL, "")
		if err != nil {
			return nil, err
		}
		return p.WithEmbeddingModel(cfg.Model), nil
	case "gemini":
		p, err := provider.NewGeminiProvider(ctx, apiKey(v, "gemini"), "")
		if err != nil {
			return nil, err
		}
		return p.WithEmbeddingModel(cfg.Model), nil
	case "ollama":
		model := cfg.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		return provider.NewOllamaProvider(model)
	case "stub":
		return provider.NewStubProvider(), nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

func detectCLIProvider(path string) (provider.Provider, error) {
	if path != "" {
		return provider.NewCLIProvider(path, nil)
	}
	for _, t := range []string{"claude", "codex", "gemini", "llm"} {
		if p, err := exec.LookPath(t); err == nil {
			return provider.NewCLIProvider(p, nil)
		}
	}
	return nil, errors.New("no local CLI agents detected (tried claude, codex, gemini, llm)")
}
