package knowledge

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/artouc/ego-graphica/internal/bounded"
	"github.com/artouc/ego-graphica/internal/cache"
	"github.com/artouc/ego-graphica/internal/guard"
	"github.com/artouc/ego-graphica/internal/memory"
	"github.com/artouc/ego-graphica/internal/observe"
	"github.com/artouc/ego-graphica/internal/persona"
	"github.com/artouc/ego-graphica/internal/provider"
	"github.com/artouc/ego-graphica/internal/store"
	"github.com/google/uuid"
)

// ErrInvalidInput marks requests rejected before anything is written.
var ErrInvalidInput = errors.New("invalid input")

// Deps wires a Service.
type Deps struct {
	Store        store.Storage
	Blobs        store.BlobStore
	Index        memory.Index
	Embedder     provider.Embedder
	Analyzer     provider.Provider // nil disables style analysis
	Contexts     *cache.ContextCache
	Vectors      *cache.VectorCache
	Embeddings   *cache.EmbeddingCache
	Guard        *guard.Guard
	Obs          *observe.Observer
	EmbedTimeout time.Duration
}

// Service owns the knowledge write paths. Every write raises the
// invalidation its data requires.
type Service struct {
	Deps
}

func NewService(d Deps) *Service {
	if d.Guard == nil {
		d.Guard = guard.New(guard.DefaultPolicy)
	}
	if d.EmbedTimeout <= 0 {
		d.EmbedTimeout = 10 * time.Second
	}
	return &Service{Deps: d}
}

// PutPersona validates and stores the persona, then evicts the context.
func (s *Service) PutPersona(ctx context.Context, tenant string, p *persona.Persona) error {
	if v := s.Guard.CheckTenant(tenant); v != nil {
		return v
	}
	if err := persona.Validate(*p).Err(); err != nil {
		return err
	}
	if p.Version == 0 {
		p.Version = persona.CurrentVersion
	}
	if err := s.Store.PutPersona(ctx, tenant, p); err != nil {
		return fmt.Errorf("store persona: %w", err)
	}
	s.Contexts.Invalidate(context.WithoutCancel(ctx), tenant, cache.PersonaOnly)
	return nil
}

// CreateWork stores a new work and indexes it.
func (s *Service) CreateWork(ctx context.Context, tenant string, w *store.Work) error {
	if v := s.Guard.CheckTenant(tenant); v != nil {
		return v
	}
	if strings.TrimSpace(w.Title) == "" {
		return fmt.Errorf("%w: work title is required", ErrInvalidInput)
	}
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if err := s.Store.PutWork(ctx, tenant, w); err != nil {
		return fmt.Errorf("store work: %w", err)
	}
	s.indexWork(ctx, tenant, w)
	s.knowledgeChanged(ctx, tenant, cache.KnowledgeSummaryOnly)
	return nil
}

// UpdateWork replaces an existing work and reindexes it.
func (s *Service) UpdateWork(ctx context.Context, tenant string, w *store.Work) error {
	if v := s.Guard.CheckTenant(tenant); v != nil {
		return v
	}
	existing, err := s.Store.GetWork(ctx, tenant, w.ID)
	if err != nil {
		return err
	}
	w.Created = existing.Created
	if w.Title == "" {
		w.Title = existing.Title
	}
	if err := s.Store.PutWork(ctx, tenant, w); err != nil {
		return fmt.Errorf("store work: %w", err)
	}
	if err := s.Index.DeleteSource(ctx, tenant, w.ID); err != nil {
		s.Obs.Log().Warn().Str("tenant", tenant).Str("work", w.ID).Err(err).Msg("failed to drop old work vectors")
	}
	s.indexWork(ctx, tenant, w)
	s.knowledgeChanged(ctx, tenant, cache.KnowledgeSummaryOnly)
	return nil
}

func (s *Service) indexWork(ctx context.Context, tenant string, w *store.Work) {
	item := memory.Item{
		ID:      "work_" + w.ID,
		Content: workText(w),
		Metadata: map[string]string{
			memory.MetaSourceType: memory.SourceWork,
			memory.MetaSource:     w.ID,
			memory.MetaTitle:      w.Title,
		},
	}
	if err := s.upsert(ctx, tenant, []memory.Item{item}); err != nil {
		s.Obs.Log().Warn().Str("tenant", tenant).Str("work", w.ID).Err(err).Msg("failed to index work")
	}
}

// FileInput is an uploaded plain-text document.
type FileInput struct {
	Filename    string
	Title       string
	ContentType string
	Data        []byte
}

// IngestFile stores the raw upload and its text, indexes the text in chunks
// and folds its writing style into the tenant's style profile.
func (s *Service) IngestFile(ctx context.Context, tenant string, in FileInput) (*store.File, error) {
	name := path.Base(strings.ReplaceAll(in.Filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return nil, fmt.Errorf("%w: filename %q", ErrInvalidInput, in.Filename)
	}
	if in.ContentType == "" {
		in.ContentType = "text/plain"
	}
	if !strings.HasPrefix(in.ContentType, "text/") {
		return nil, fmt.Errorf("%w: content type %q, only plain text is ingested", ErrInvalidInput, in.ContentType)
	}

	f := &store.File{
		ID:          uuid.New().String(),
		Filename:    name,
		Title:       firstNonEmpty(in.Title, name),
		ContentType: in.ContentType,
		BlobPath:    tenant + "/data/raw/" + name,
	}
	f.TextPath = tenant + "/data/" + f.ID + "/text.txt"
	for _, p := range []string{f.BlobPath, f.TextPath} {
		if v := s.Guard.CheckBlobPath(tenant, p); v != nil {
			return nil, v
		}
	}

	text := strings.TrimSpace(string(in.Data))
	if err := s.Blobs.Write(ctx, f.BlobPath, in.Data); err != nil {
		return nil, fmt.Errorf("write raw blob: %w", err)
	}
	if err := s.Blobs.Write(ctx, f.TextPath, []byte(text)); err != nil {
		return nil, fmt.Errorf("write text blob: %w", err)
	}

	s.indexText(ctx, tenant, memory.SourceFile, f.ID, f.Title, text)

	if s.Analyzer != nil && len([]rune(text)) > MinAnalysisRunes {
		if err := s.mergeStyle(ctx, tenant, text); err != nil {
			s.Obs.Log().Warn().Str("tenant", tenant).Str("file", f.ID).Err(err).Msg("writing style analysis failed")
		}
	}

	if err := s.Store.PutFile(ctx, tenant, f); err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}
	s.knowledgeChanged(ctx, tenant, cache.KnowledgeSummaryOnly)
	return f, nil
}

// URLInput is a web page whose text was extracted by the caller.
type URLInput struct {
	URL   string
	Title string
	Text  string
}

// IngestURL indexes a page's text and records the URL.
func (s *Service) IngestURL(ctx context.Context, tenant string, in URLInput) (*store.SourceURL, error) {
	if v := s.Guard.CheckTenant(tenant); v != nil {
		return nil, v
	}
	if strings.TrimSpace(in.URL) == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidInput)
	}
	u := &store.SourceURL{ID: uuid.New().String(), URL: in.URL, Title: in.Title}
	s.indexText(ctx, tenant, memory.SourceURL, u.ID, firstNonEmpty(in.Title, in.URL), in.Text)

	if err := s.Store.PutURL(ctx, tenant, u); err != nil {
		return nil, fmt.Errorf("store url: %w", err)
	}
	s.knowledgeChanged(ctx, tenant, cache.Full)
	return u, nil
}

func (s *Service) indexText(ctx context.Context, tenant, kind, source, title, text string) {
	chunks := Chunk(text, ChunkSize, ChunkOverlap)
	items := make([]memory.Item, 0, len(chunks))
	for i, c := range chunks {
		items = append(items, memory.Item{
			ID:      chunkID(kind, source, i),
			Content: c,
			Metadata: map[string]string{
				memory.MetaSourceType: kind,
				memory.MetaSource:     source,
				memory.MetaTitle:      title,
			},
		})
	}
	if err := s.upsert(ctx, tenant, items); err != nil {
		s.Obs.Log().Warn().Str("tenant", tenant).Str("source", source).Err(err).Msg("failed to index text")
		return
	}
	s.Obs.Log().Info().Str("tenant", tenant).Str("source", source).Int("chunks", len(items)).Msg("text indexed")
}

// upsert embeds every item through the embedding cache and stores them.
func (s *Service) upsert(ctx context.Context, tenant string, items []memory.Item) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		vec, err := s.Embeddings.Embed(ctx, items[i].Content, func(ctx context.Context, text string) ([]float32, error) {
			return bounded.Do(ctx, "embedding", s.EmbedTimeout, func(ctx context.Context) ([]float32, error) {
				return s.Embedder.Embed(ctx, text)
			})
		})
		if err != nil {
			return err
		}
		items[i].Vector = vec
	}
	return s.Index.Upsert(ctx, tenant, items...)
}

func (s *Service) mergeStyle(ctx context.Context, tenant, text string) error {
	analysed, err := AnalyzeStyle(ctx, s.Analyzer, text)
	if err != nil {
		return err
	}
	existing, err := s.Store.GetStyleProfile(ctx, tenant)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = &persona.StyleProfile{}
	}
	merged := &persona.StyleProfile{
		Style:   persona.MergeStyles(existing.Style, analysed.Style),
		Samples: persona.MergeSamples(existing.Samples, analysed.Samples),
	}
	return s.Store.PutStyleProfile(ctx, tenant, merged)
}

// knowledgeChanged applies signal to the context cache and drops the
// tenant's cached similarity results.
func (s *Service) knowledgeChanged(ctx context.Context, tenant string, signal cache.InvalidationSignal) {
	ctx = context.WithoutCancel(ctx)
	s.Contexts.Invalidate(ctx, tenant, signal)
	n := s.Vectors.Invalidate(ctx, tenant)
	s.Obs.Log().Debug().Str("tenant", tenant).Str("signal", signal.String()).Int("vector_entries", n).Msg("knowledge changed")
}
