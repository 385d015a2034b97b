// Package retrieval runs the real-time similarity search that complements the
// cached tenant context.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/artouc/ego-graphica/internal/bounded"
	"github.com/artouc/ego-graphica/internal/cache"
	"github.com/artouc/ego-graphica/internal/memory"
	"github.com/artouc/ego-graphica/internal/observe"
)

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options tunes the search and the skip heuristic.
type Options struct {
	TopK          int
	MinScore      float32
	MinRunes      int
	EmbedTimeout  time.Duration
	SearchTimeout time.Duration
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		TopK:          5,
		MinScore:      0.6,
		MinRunes:      8,
		EmbedTimeout:  10 * time.Second,
		SearchTimeout: 10 * time.Second,
	}
}

var greetings = make(map[string]bool)

func init() {
	for _, g := range []string{
		"こんにちは",
		"こんばんは",
		"おはよう",
		"おはようございます",
		"はじめまして",
		"ありがとう",
		"ありがとうございます",
		"よろしく",
		"よろしくお願いします",
		"hello",
		"hi",
		"hey",
		"thanks",
		"thank you",
	} {
		greetings[g] = true
	}
}

// Searcher embeds a query through the embedding cache and ranks the tenant's
// index through the vector cache.
type Searcher struct {
	embedder   Embedder
	index      memory.Index
	embeddings *cache.EmbeddingCache
	vectors    *cache.VectorCache
	opts       Options
	obs        *observe.Observer
}

func New(embedder Embedder, index memory.Index, embeddings *cache.EmbeddingCache, vectors *cache.VectorCache, opts Options, obs *observe.Observer) *Searcher {
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.MinRunes <= 0 {
		opts.MinRunes = def.MinRunes
	}
	if obs == nil {
		obs = observe.Discard()
	}
	return &Searcher{
		embedder:   embedder,
		index:      index,
		embeddings: embeddings,
		vectors:    vectors,
		opts:       opts,
		obs:        obs,
	}
}

// ShouldSearch reports whether a message is worth a similarity search.
// Short messages and plain greetings are answered from cached context alone.
func (s *Searcher) ShouldSearch(message string) bool {
	trimmed := strings.TrimSpace(message)
	if utf8.RuneCountInString(trimmed) < s.opts.MinRunes {
		return false
	}
	return !IsGreeting(trimmed)
}

// IsGreeting reports whether message is a known greeting once trailing
// punctuation, symbols and emoji are removed.
func IsGreeting(message string) bool {
	core := strings.TrimRightFunc(strings.TrimSpace(message), func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r) ||
			r == 'ー' || r == '〜' || r == '\u200d' || r == '\ufe0f'
	})
	return greetings[strings.ToLower(core)]
}

// Retrieve searches unless the heuristic skips the message. The bool result
// reports whether a search ran.
func (s *Searcher) Retrieve(ctx context.Context, tenant, message string) ([]memory.Item, bool, error) {
	if !s.ShouldSearch(message) {
		s.obs.Log().Debug().Str("tenant", tenant).Msg("Skipping real-time retrieval")
		return nil, false, nil
	}
	items, err := s.Search(ctx, tenant, message)
	return items, true, err
}

// Search embeds query and returns up to TopK items scoring at least MinScore.
func (s *Searcher) Search(ctx context.Context, tenant, query string) ([]memory.Item, error) {
	ctx, span := s.obs.StartSpan(ctx, "retrieval.search")
	defer span.End()

	vec, err := s.embeddings.Embed(ctx, query, func(ctx context.Context, text string) ([]float32, error) {
		return bounded.Do(ctx, "embedding", s.opts.EmbedTimeout, func(ctx context.Context) ([]float32, error) {
			return s.embedder.Embed(ctx, text)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := s.vectors.Search(ctx, tenant, vec, func(ctx context.Context) ([]memory.Item, error) {
		return bounded.Do(ctx, "similarity search", s.opts.SearchTimeout, func(ctx context.Context) ([]memory.Item, error) {
			return s.index.Query(ctx, tenant, vec, s.opts.TopK, nil)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	kept := make([]memory.Item, 0, len(results))
	for _, r := range results {
		if r.Similarity >= s.opts.MinScore {
			kept = append(kept, r)
		}
	}
	if len(kept) > s.opts.TopK {
		kept = kept[:s.opts.TopK]
	}
	s.obs.Log().Debug().Str("tenant", tenant).Int("results", len(kept)).Msg("Real-time retrieval done")
	return kept, nil
}
