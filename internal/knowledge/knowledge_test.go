package knowledge

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/artouc/ego-graphica/internal/cache"
	"github.com/artouc/ego-graphica/internal/kv"
	"github.com/artouc/ego-graphica/internal/memory"
	"github.com/artouc/ego-graphica/internal/observe"
	"github.com/artouc/ego-graphica/internal/persona"
	"github.com/artouc/ego-graphica/internal/provider"
	"github.com/artouc/ego-graphica/internal/store"
)

type env struct {
	store    *store.SQLiteStore
	kv       *kv.MemoryStore
	contexts *cache.ContextCache
	vectors  *cache.VectorCache
	index    *memory.ChromemIndex
	blobs    *store.FSBlobStore
	loader   *Loader
	service  *Service
}

func newEnv(t *testing.T, analyzer provider.Provider) *env {
	t.Helper()
	dir := t.TempDir()

	s, err := store.NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	mem, _ := kv.NewMemoryStore(1000)
	idx, _ := memory.NewChromemIndex("")
	blobs, err := store.NewFSBlobStore(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("NewFSBlobStore failed: %v", err)
	}

	obs := observe.Discard()
	e := &env{
		store:    s,
		kv:       mem,
		contexts: cache.NewContextCache(mem, obs),
		vectors:  cache.NewVectorCache(mem, obs),
		index:    idx,
		blobs:    blobs,
	}
	e.loader = NewLoader(s, e.contexts, obs, time.Second)
	e.service = NewService(Deps{
		Store:      s,
		Blobs:      blobs,
		Index:      idx,
		Embedder:   provider.NewStubProvider(),
		Analyzer:   analyzer,
		Contexts:   e.contexts,
		Vectors:    e.vectors,
		Embeddings: cache.NewEmbeddingCache(mem, obs),
		Obs:        obs,
	})
	return e
}

var testPersona = &persona.Persona{Motif: "海と光", Tone: persona.ToneArtistic, Philosophy: "余白を描く"}

func TestBuildSummary(t *testing.T) {
	long := strings.Repeat("あ", 250)
	works := []store.Work{
		{Title: "波の記憶", Description: "油彩", Sold: true},
		{Title: "無題", Searchable: long},
	}
	files := []store.File{{Filename: "statement.txt"}, {Filename: "cv.txt", Title: "経歴"}}
	urls := []store.SourceURL{{URL: "https://example.com/a"}, {URL: "https://example.com/b", Title: "インタビュー"}}

	got := BuildSummary(works, files, urls)
	want := "## 作品一覧\n- 波の記憶: 油彩（売約済み）\n- 無題\n  " + strings.Repeat("あ", 200) +
		"\n\n## 参考資料\n- statement.txt\n- 経歴" +
		"\n\n## 参考リンク\n- https://example.com/a\n- インタビュー"
	if got != want {
		t.Errorf("unexpected summary:\n%s\nwant:\n%s", got, want)
	}

	if BuildSummary(nil, nil, nil) != "" {
		t.Error("expected empty summary for no sources")
	}
	if got := BuildSummary(nil, files[:1], nil); got != "## 参考資料\n- statement.txt" {
		t.Errorf("expected only files section, got %q", got)
	}
}

func TestBuildSummary_Limits(t *testing.T) {
	works := make([]store.Work, 60)
	for i := range works {
		works[i] = store.Work{Title: "w"}
	}
	got := BuildSummary(works, nil, nil)
	if n := strings.Count(got, "\n- w"); n != SummaryWorks {
		t.Errorf("expected %d works, got %d", SummaryWorks, n)
	}
}

func TestChunk_Short(t *testing.T) {
	if got := Chunk("  短い文章。 ", 1000, 200); len(got) != 1 || got[0] != "短い文章。" {
		t.Errorf("unexpected chunks %q", got)
	}
	if got := Chunk("   ", 1000, 200); got != nil {
		t.Errorf("expected no chunks, got %q", got)
	}
}

func TestChunk_PrefersSentenceBreaks(t *testing.T) {
	sentence := "海の色は時間とともに変わり続ける。" // 17 runes
	text := strings.Repeat(sentence, 150)

	chunks := Chunk(text, ChunkSize, ChunkOverlap)
	if len(chunks) < 3 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > ChunkSize+breakLookAhead {
			t.Errorf("chunk %d has %d runes", i, n)
		}
		if !strings.HasSuffix(c, "。") {
			t.Errorf("chunk %d does not end at a sentence: %q", i, c[len(c)-10:])
		}
	}
	// Overlap: each chunk starts with text that ended the previous one.
	for i := 1; i < len(chunks); i++ {
		head := string([]rune(chunks[i])[:10])
		if !strings.Contains(chunks[i-1], head) {
			t.Errorf("chunk %d does not overlap its predecessor", i)
		}
	}
}

func TestChunk_ParagraphBeatsSentence(t *testing.T) {
	first := strings.Repeat("あ", 900) + "。" + strings.Repeat("い", 40) + "\n\n"
	text := first + strings.Repeat("う", 600)
	chunks := Chunk(text, ChunkSize, ChunkOverlap)
	if !strings.HasSuffix(chunks[0], "い") {
		t.Errorf("expected first cut at the paragraph break, got suffix %q", string([]rune(chunks[0])[len([]rune(chunks[0]))-3:]))
	}
}

func TestChunk_HardCut(t *testing.T) {
	text := strings.Repeat("あ", 2500)
	chunks := Chunk(text, ChunkSize, ChunkOverlap)
	if utf8.RuneCountInString(chunks[0]) != ChunkSize {
		t.Errorf("expected hard cut at %d runes, got %d", ChunkSize, utf8.RuneCountInString(chunks[0]))
	}
	total := 0
	for _, c := range chunks {
		total += utf8.RuneCountInString(c)
	}
	if total < 2500 {
		t.Errorf("expected chunks to cover the text, got %d runes", total)
	}
}

func TestExtractJSON(t *testing.T) {
	got, err := extractJSON("はい。\n```json\n{\"a\": {\"b\": 1}}\n```", '{', '}')
	if err != nil || got != `{"a": {"b": 1}}` {
		t.Errorf("unexpected %q, %v", got, err)
	}
	if _, err := extractJSON("no json here", '[', ']'); !errors.Is(err, errNoJSON) {
		t.Errorf("expected errNoJSON, got %v", err)
	}
}

// styleProvider answers the two analysis prompts by content, since they run
// concurrently.
type styleProvider struct {
	mu    sync.Mutex
	calls int
	style string
}

func (p *styleProvider) Name() string { return "style" }

func (p *styleProvider) Stream(ctx context.Context, req provider.Request, fn provider.Handler) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	out := p.style
	if strings.Contains(req.Messages[0].Content, "5つ選んで") {
		out = "選んだ文です:\n[\"海が好きです。\", \"光を描きたい。\"]"
	}
	if err := fn(provider.Event{Type: provider.EventText, Text: out}); err != nil {
		return err
	}
	return fn(provider.Event{Type: provider.EventDone})
}

const analysedStyle = `{"sentence_endings":["です","ます"],"punctuation":{"uses_exclamation":false,"uses_question_marks":true,"uses_emoji":false,"period_style":"。","comma_style":"、"},"formality_level":0.8,"characteristic_phrases":["余白"],"avoid_patterns":["w"],"sentence_length":"medium","description":"静かで丁寧"}`

func TestAnalyzeStyle(t *testing.T) {
	p := &styleProvider{style: "分析結果:\n" + analysedStyle}
	sp, err := AnalyzeStyle(context.Background(), p, strings.Repeat("海", 20000))
	if err != nil {
		t.Fatalf("AnalyzeStyle failed: %v", err)
	}
	if p.calls != 2 {
		t.Errorf("expected 2 model calls, got %d", p.calls)
	}
	if sp.Style.FormalityLevel != 0.8 || sp.Style.Description != "静かで丁寧" || !sp.Style.Punctuation.UsesQuestionMarks {
		t.Errorf("unexpected style %+v", sp.Style)
	}
	if len(sp.Samples) != 2 {
		t.Errorf("expected 2 samples, got %v", sp.Samples)
	}
}

func TestAnalyzeStyle_NoJSON(t *testing.T) {
	p := &styleProvider{style: "分析できませんでした"}
	if _, err := AnalyzeStyle(context.Background(), p, "text"); err == nil {
		t.Error("expected error")
	}
}

func TestLoader_MissRebuildsOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.store.PutPersona(ctx, "studio", testPersona)
	e.store.PutWork(ctx, "studio", &store.Work{ID: "w1", Title: "波の記憶", Description: "油彩"})
	e.store.PutStyleProfile(ctx, "studio", &persona.StyleProfile{
		Style:   &persona.WritingStyle{FormalityLevel: 0.5},
		Samples: []string{"海が好きです。"},
	})

	cc, err := e.loader.Load(ctx, "studio")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cc.Persona == nil || cc.Persona.Motif != "海と光" {
		t.Errorf("unexpected persona %+v", cc.Persona)
	}
	if !strings.Contains(cc.KnowledgeSummary, "- 波の記憶: 油彩") {
		t.Errorf("unexpected summary %q", cc.KnowledgeSummary)
	}
	if cc.WritingStyle == nil || len(cc.StyleSamples) != 1 {
		t.Errorf("expected style profile, got %+v", cc)
	}

	if _, err := e.loader.Load(ctx, "studio"); err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if e.loader.Rebuilds() != 1 {
		t.Errorf("expected exactly one rebuild, got %d", e.loader.Rebuilds())
	}
}

func TestLoader_EmptyTenant(t *testing.T) {
	e := newEnv(t, nil)
	cc, err := e.loader.Load(context.Background(), "empty")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cc.Persona != nil || cc.WritingStyle != nil || cc.KnowledgeSummary != "" {
		t.Errorf("expected empty context, got %+v", cc)
	}
}

// barrierStore makes the summary and style reads wait for each other, so
// Rebuild only finishes when they run concurrently.
type barrierStore struct {
	store.Storage
	worksEntered chan struct{}
	styleEntered chan struct{}
}

func (b *barrierStore) ListWorks(ctx context.Context, tenant string, limit int) ([]store.Work, error) {
	close(b.worksEntered)
	select {
	case <-b.styleEntered:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.Storage.ListWorks(ctx, tenant, limit)
}

func (b *barrierStore) GetStyleProfile(ctx context.Context, tenant string) (*persona.StyleProfile, error) {
	close(b.styleEntered)
	select {
	case <-b.worksEntered:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.Storage.GetStyleProfile(ctx, tenant)
}

func TestLoader_RebuildIsConcurrent(t *testing.T) {
	e := newEnv(t, nil)
	bs := &barrierStore{Storage: e.store, worksEntered: make(chan struct{}), styleEntered: make(chan struct{})}
	l := NewLoader(bs, e.contexts, observe.Discard(), 2*time.Second)

	if _, err := l.Rebuild(context.Background(), "studio"); err != nil {
		t.Fatalf("expected concurrent rebuild to finish, got %v", err)
	}
}

func TestLoader_TTLExpiryRebuilds(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	now := time.Now()
	clock := func() time.Time { return now }
	e.kv.SetClock(clock)
	e.contexts.SetClock(clock)

	e.loader.Load(ctx, "studio")
	now = now.Add(cache.ContextTTL + time.Minute)
	e.loader.Load(ctx, "studio")

	if e.loader.Rebuilds() != 2 {
		t.Errorf("expected a rebuild after expiry, got %d rebuilds", e.loader.Rebuilds())
	}
}

func TestLoader_StoreErrorSurfaces(t *testing.T) {
	e := newEnv(t, nil)
	e.store.Close()
	if _, err := e.loader.Load(context.Background(), "studio"); err == nil {
		t.Error("expected store failure to surface")
	}
}

func TestService_PutPersona(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)

	if err := e.service.PutPersona(ctx, "studio", &persona.Persona{Tone: "angry"}); !errors.Is(err, persona.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}

	e.loader.Load(ctx, "studio")
	p := *testPersona
	if err := e.service.PutPersona(ctx, "studio", &p); err != nil {
		t.Fatalf("PutPersona failed: %v", err)
	}
	if _, ok := e.contexts.Get(ctx, "studio"); ok {
		t.Error("expected context evicted after persona update")
	}

	cc, _ := e.loader.Load(ctx, "studio")
	if cc.Persona == nil || cc.Persona.Version != persona.CurrentVersion {
		t.Errorf("expected stored persona with version, got %+v", cc.Persona)
	}
}

func TestService_CreateWork(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.store.PutPersona(ctx, "studio", testPersona)

	// Warm both caches.
	e.loader.Load(ctx, "studio")
	e.vectors.Set(ctx, "studio", []float32{1, 0}, []memory.Item{{ID: "stale"}})

	w := &store.Work{Title: "波の記憶", Description: "青い油彩"}
	if err := e.service.CreateWork(ctx, "studio", w); err != nil {
		t.Fatalf("CreateWork failed: %v", err)
	}
	if w.ID == "" {
		t.Error("expected id assigned")
	}

	cc, ok := e.contexts.Get(ctx, "studio")
	if !ok {
		t.Fatal("expected context kept on summary-only invalidation")
	}
	if cc.KnowledgeSummary != "" || cc.Persona == nil {
		t.Errorf("expected summary cleared and persona kept, got %+v", cc)
	}
	if _, ok := e.vectors.Get(ctx, "studio", []float32{1, 0}); ok {
		t.Error("expected vector cache invalidated")
	}

	vec, _ := provider.NewStubProvider().Embed(ctx, workText(w))
	items, err := e.index.Query(ctx, "studio", vec, 1, map[string]string{memory.MetaSourceType: memory.SourceWork})
	if err != nil || len(items) != 1 || items[0].Metadata[memory.MetaSource] != w.ID {
		t.Errorf("expected work indexed, got %+v, %v", items, err)
	}

	// The next load rebuilds only the summary.
	cc, _ = e.loader.Load(ctx, "studio")
	if !strings.Contains(cc.KnowledgeSummary, "波の記憶") {
		t.Errorf("expected summary rebuilt, got %q", cc.KnowledgeSummary)
	}
	if e.loader.Rebuilds() != 1 {
		t.Errorf("expected no full rebuild, got %d", e.loader.Rebuilds())
	}
}

func TestService_UpdateWork(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)

	w := &store.Work{Title: "波", Description: "初版"}
	e.service.CreateWork(ctx, "studio", w)

	updated := &store.Work{ID: w.ID, Description: "改訂", Sold: true}
	if err := e.service.UpdateWork(ctx, "studio", updated); err != nil {
		t.Fatalf("UpdateWork failed: %v", err)
	}
	got, _ := e.store.GetWork(ctx, "studio", w.ID)
	if got.Title != "波" || got.Description != "改訂" || !got.Sold {
		t.Errorf("unexpected work %+v", got)
	}

	if err := e.service.UpdateWork(ctx, "studio", &store.Work{ID: "missing"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_IngestFile(t *testing.T) {
	ctx := context.Background()
	analyzer := &styleProvider{style: analysedStyle}
	e := newEnv(t, analyzer)
	e.store.PutStyleProfile(ctx, "studio", &persona.StyleProfile{
		Style:   &persona.WritingStyle{FormalityLevel: 0.4, SentenceEndings: []string{"だ"}},
		Samples: []string{"既存の文。"},
	})

	text := strings.Repeat("海の色は時間とともに変わり続ける。", 100)
	f, err := e.service.IngestFile(ctx, "studio", FileInput{Filename: "statement.txt", Data: []byte(text)})
	if err != nil {
		t.Fatalf("IngestFile failed: %v", err)
	}

	if f.BlobPath != "studio/data/raw/statement.txt" || f.TextPath != "studio/data/"+f.ID+"/text.txt" {
		t.Errorf("unexpected paths %q %q", f.BlobPath, f.TextPath)
	}
	if data, err := e.blobs.Read(ctx, f.TextPath); err != nil || string(data) != text {
		t.Errorf("expected text blob, got %v", err)
	}

	files, _ := e.store.ListFiles(ctx, "studio", 10)
	if len(files) != 1 || files[0].Title != "statement.txt" {
		t.Errorf("expected stored file, got %+v", files)
	}

	vec, _ := provider.NewStubProvider().Embed(ctx, "海")
	items, _ := e.index.Query(ctx, "studio", vec, 10, map[string]string{memory.MetaSource: f.ID})
	if len(items) < 2 {
		t.Errorf("expected chunked text indexed, got %d items", len(items))
	}

	sp, _ := e.store.GetStyleProfile(ctx, "studio")
	if sp.Style.FormalityLevel != 0.6 {
		t.Errorf("expected averaged formality 0.6, got %v", sp.Style.FormalityLevel)
	}
	if len(sp.Samples) != 3 || sp.Samples[0] != "既存の文。" {
		t.Errorf("unexpected samples %v", sp.Samples)
	}
	if analyzer.calls != 2 {
		t.Errorf("expected 2 analysis calls, got %d", analyzer.calls)
	}
}

func TestService_IngestFile_Rejects(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)

	tests := []struct {
		name   string
		tenant string
		in     FileInput
	}{
		{"binary", "studio", FileInput{Filename: "a.pdf", ContentType: "application/pdf", Data: []byte("x")}},
		{"traversal", "studio", FileInput{Filename: "..", Data: []byte("x")}},
		{"bad tenant", "../other", FileInput{Filename: "a.txt", Data: []byte("x")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.service.IngestFile(ctx, tt.tenant, tt.in); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestService_IngestURL(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.store.PutPersona(ctx, "studio", testPersona)
	e.loader.Load(ctx, "studio")

	u, err := e.service.IngestURL(ctx, "studio", URLInput{URL: "https://example.com/interview", Title: "インタビュー", Text: "光について語った。"})
	if err != nil {
		t.Fatalf("IngestURL failed: %v", err)
	}
	if _, ok := e.contexts.Get(ctx, "studio"); ok {
		t.Error("expected full invalidation")
	}
	urls, _ := e.store.ListURLs(ctx, "studio", 10)
	if len(urls) != 1 || urls[0].ID != u.ID {
		t.Errorf("expected stored url, got %+v", urls)
	}

	if _, err := e.service.IngestURL(ctx, "studio", URLInput{}); err == nil {
		t.Error("expected error for missing url")
	}
}
