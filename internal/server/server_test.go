package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/artouc/ego-graphica/internal/cache"
	"github.com/artouc/ego-graphica/internal/guard"
	"github.com/artouc/ego-graphica/internal/knowledge"
	"github.com/artouc/ego-graphica/internal/kv"
	"github.com/artouc/ego-graphica/internal/memory"
	"github.com/artouc/ego-graphica/internal/observe"
	"github.com/artouc/ego-graphica/internal/provider"
	"github.com/artouc/ego-graphica/internal/retrieval"
	"github.com/artouc/ego-graphica/internal/runtime"
	"github.com/artouc/ego-graphica/internal/store"
)

type testServer struct {
	*Server
	store    *store.SQLiteStore
	contexts *cache.ContextCache
}

func newTestServer(t *testing.T, turns ...provider.StubTurn) *testServer {
	t.Helper()
	dir := t.TempDir()

	s, err := store.NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	blobs, err := store.NewFSBlobStore(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("NewFSBlobStore failed: %v", err)
	}

	mem, _ := kv.NewMemoryStore(1000)
	idx, _ := memory.NewChromemIndex("")
	obs := observe.Discard()
	g := guard.New(guard.DefaultPolicy)
	embedder := provider.NewStubProvider()

	contexts := cache.NewContextCache(mem, obs)
	vectors := cache.NewVectorCache(mem, obs)
	embeddings := cache.NewEmbeddingCache(mem, obs)

	loader := knowledge.NewLoader(s, contexts, obs, time.Second)
	searcher := retrieval.New(embedder, idx, embeddings, vectors, retrieval.DefaultOptions(), obs)
	loop := runtime.NewLoop(provider.NewStubProvider(turns...), nil, g, obs)
	conv := runtime.NewConversation(s, loader, searcher, cache.NewSessionCache(mem, obs), loop, g, obs, runtime.DefaultOptions())

	svc := knowledge.NewService(knowledge.Deps{
		Store:      s,
		Blobs:      blobs,
		Index:      idx,
		Embedder:   embedder,
		Contexts:   contexts,
		Vectors:    vectors,
		Embeddings: embeddings,
		Guard:      g,
		Obs:        obs,
	})

	srv := New(Deps{
		Conversation: conv,
		Knowledge:    svc,
		Store:        s,
		Contexts:     contexts,
		Vectors:      vectors,
		Embeddings:   embeddings,
		Guard:        g,
		Obs:          obs,
	})
	return &testServer{Server: srv, store: s, contexts: contexts}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected health response %d %s", w.Code, w.Body.String())
	}
}

func TestChat_StreamsEvents(t *testing.T) {
	ts := newTestServer(t, provider.StubTurn{Text: []string{"こんにちは！", "ようこそ。"}})

	w := ts.do(t, http.MethodPost, "/api/tenants/studio/chat", `{"message":"こんにちは"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("expected event stream, got %q", ct)
	}

	body := w.Body.String()
	order := []string{"event:session", "event:timing", "event:text_delta", "event:message_complete", "event:done"}
	last := -1
	for _, marker := range order {
		i := strings.Index(body, marker)
		if i < 0 || i < last {
			t.Fatalf("expected %q after position %d in:\n%s", marker, last, body)
		}
		last = i
	}
	if !strings.Contains(body, `"messageCount":2`) {
		t.Errorf("expected done to carry the message count:\n%s", body)
	}
	if !strings.Contains(body, `"text":"こんにちは！ようこそ。"`) {
		t.Errorf("expected the completed message:\n%s", body)
	}
	if strings.Contains(body, "event:error") {
		t.Errorf("unexpected error event:\n%s", body)
	}
}

func TestChat_ProviderFailureIsTerminalEvent(t *testing.T) {
	ts := newTestServer(t, provider.StubTurn{Err: context.DeadlineExceeded})

	w := ts.do(t, http.MethodPost, "/api/tenants/studio/chat", `{"message":"hello"}`)
	body := w.Body.String()
	if strings.Count(body, "event:error") != 1 || strings.Contains(body, "event:done") {
		t.Errorf("expected a single error event:\n%s", body)
	}
}

func TestChat_RejectsBadRequests(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name string
		path string
		body string
	}{
		{"bad tenant", "/api/tenants/bad$tenant/chat", `{"message":"hi"}`},
		{"empty message", "/api/tenants/studio/chat", `{"message":"  "}`},
		{"malformed body", "/api/tenants/studio/chat", `{"message":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, tt.path, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestPersona(t *testing.T) {
	ts := newTestServer(t)

	if w := ts.do(t, http.MethodGet, "/api/tenants/studio/persona", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 before configuration, got %d", w.Code)
	}
	if w := ts.do(t, http.MethodPut, "/api/tenants/studio/persona", `{"tone":"angry"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an invalid persona, got %d: %s", w.Code, w.Body.String())
	}

	w := ts.do(t, http.MethodPut, "/api/tenants/studio/persona", `{"motif":"海と光","tone":"friendly"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = ts.do(t, http.MethodGet, "/api/tenants/studio/persona", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "海と光") {
		t.Errorf("unexpected persona %d %s", w.Code, w.Body.String())
	}
}

func TestWorks(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/tenants/studio/works", `{"title":"波の記憶","description":"海の連作"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created store.Work
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil || created.ID == "" {
		t.Fatalf("expected a work with an id, got %s", w.Body.String())
	}

	w = ts.do(t, http.MethodPut, "/api/tenants/studio/works/"+created.ID, `{"description":"海の連作（完結）","sold":true}`)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got, _ := ts.store.GetWork(context.Background(), "studio", created.ID)
	if got == nil || !got.Sold || got.Title != "波の記憶" {
		t.Errorf("unexpected stored work %+v", got)
	}

	if w := ts.do(t, http.MethodPut, "/api/tenants/studio/works/missing", `{"title":"x"}`); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/api/tenants/studio/works", `{"description":"no title"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func multipartFile(t *testing.T, name, contentType, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart failed: %v", err)
	}
	part.Write([]byte(content))
	mw.WriteField("title", "制作ノート")
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestIngestFile(t *testing.T) {
	ts := newTestServer(t)

	body, ct := multipartFile(t, "notes.txt", "text/plain; charset=utf-8", "海を描くときは朝の光を待つ。")
	req := httptest.NewRequest(http.MethodPost, "/api/tenants/studio/files", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var f store.File
	json.Unmarshal(w.Body.Bytes(), &f)
	if f.Title != "制作ノート" || f.BlobPath != "studio/data/raw/notes.txt" {
		t.Errorf("unexpected file %+v", f)
	}

	body, ct = multipartFile(t, "scan.pdf", "application/pdf", "%PDF")
	req = httptest.NewRequest(http.MethodPost, "/api/tenants/studio/files", body)
	req.Header.Set("Content-Type", ct)
	w = httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a non-text upload, got %d", w.Code)
	}
}

func TestIngestURL(t *testing.T) {
	ts := newTestServer(t)
	if w := ts.do(t, http.MethodPost, "/api/tenants/studio/urls", `{"title":"no url"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	w := ts.do(t, http.MethodPost, "/api/tenants/studio/urls", `{"url":"https://example.com/about","title":"About","text":"アトリエについて"}`)
	if w.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCacheEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	ts.contexts.Set(ctx, "studio", &cache.CachedContext{KnowledgeSummary: "summary"})

	if w := ts.do(t, http.MethodPost, "/api/tenants/studio/cache/invalidate", `{"signal":"everything"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown signal, got %d", w.Code)
	}
	w := ts.do(t, http.MethodPost, "/api/tenants/studio/cache/invalidate", `{"signal":"full"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if _, ok := ts.contexts.Get(ctx, "studio"); ok {
		t.Error("expected the context entry gone")
	}

	if w := ts.do(t, http.MethodDelete, "/api/tenants/studio/cache/vectors", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if w := ts.do(t, http.MethodDelete, "/api/cache/embeddings", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t, provider.StubTurn{Text: []string{"はい。"}})
	ts.do(t, http.MethodPost, "/api/tenants/studio/chat", `{"message":"hi"}`)

	w := ts.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `egographica_conversation_turns_total{outcome="done"} 1`) {
		t.Errorf("expected the turn counter:\n%s", w.Body.String())
	}
}
