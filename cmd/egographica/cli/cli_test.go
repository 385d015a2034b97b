package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/artouc/ego-graphica/internal/config"
	"github.com/artouc/ego-graphica/internal/kv"
	"github.com/artouc/ego-graphica/internal/observe"
	"github.com/artouc/ego-graphica/internal/store"
	"github.com/artouc/ego-graphica/internal/ui"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Cache.Backend = "memory"
	cfg.Generation.Provider = "stub"
	cfg.Embedding.Provider = "stub"
	return cfg
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	a, err := newApp(context.Background(), testConfig(t), observe.New(io.Discard, false))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestRootCommands(t *testing.T) {
	want := []string{"serve", "chat", "persona", "work", "ingest", "cache", "config"}
	for _, name := range want {
		found := false
		for _, c := range RootCmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestRunTurn_DemoProvider(t *testing.T) {
	a := newTestApp(t)

	var out bytes.Buffer
	session, err := runTurn(context.Background(), a, "artist-1", "", "こんにちは", ui.NewPrinter(&out, false))
	if err != nil {
		t.Fatalf("runTurn: %v", err)
	}
	if session == "" {
		t.Fatal("expected a session id")
	}
	for _, s := range []string{"いらっしゃいませ！", "最新作は海をテーマにした連作です。"} {
		if !strings.Contains(out.String(), s) {
			t.Errorf("output %q missing %q", out.String(), s)
		}
	}

	msgs, err := a.Store.RecentMessages(context.Background(), "artist-1", session, 20)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Errorf("stored %d messages, want 3", len(msgs))
	}
}

func TestRunTurn_KeepsSession(t *testing.T) {
	a := newTestApp(t)

	session, err := runTurn(context.Background(), a, "artist-1", "cli-session", "こんにちは", ui.SilentUI{})
	if err != nil {
		t.Fatalf("runTurn: %v", err)
	}
	if session != "cli-session" {
		t.Errorf("session = %q, want cli-session", session)
	}
}

func TestPersonaImportAndShow(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "persona.yaml")
	data := "motif: 海と光\ntone: artistic\nphilosophy: 見えないものを描く\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := importPersona(ctx, a, "artist-1", path, &out); err != nil {
		t.Fatalf("importPersona: %v", err)
	}
	if !strings.Contains(out.String(), "motif: 海と光") {
		t.Errorf("unexpected import output: %q", out.String())
	}

	out.Reset()
	if err := showPersona(ctx, a, "artist-1", &out); err != nil {
		t.Fatalf("showPersona: %v", err)
	}
	if !strings.Contains(out.String(), "見えないものを描く") {
		t.Errorf("show output missing philosophy: %q", out.String())
	}

	out.Reset()
	if err := showPersona(ctx, a, "artist-2", &out); err != nil {
		t.Fatalf("showPersona: %v", err)
	}
	if !strings.Contains(out.String(), "not configured") {
		t.Errorf("show output = %q", out.String())
	}
}

func TestPersonaImport_Invalid(t *testing.T) {
	a := newTestApp(t)

	path := filepath.Join(t.TempDir(), "persona.yaml")
	if err := os.WriteFile(path, []byte("tone: shouting\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := importPersona(context.Background(), a, "artist-1", path, io.Discard); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestListWorks(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	var out bytes.Buffer
	if err := listWorks(ctx, a, "artist-1", &out); err != nil {
		t.Fatalf("listWorks: %v", err)
	}
	if !strings.Contains(out.String(), "no works") {
		t.Errorf("empty list output = %q", out.String())
	}

	w := &store.Work{Title: "波の記憶", Description: "海の連作", Sold: true}
	if err := a.Knowledge.CreateWork(ctx, "artist-1", w); err != nil {
		t.Fatalf("CreateWork: %v", err)
	}
	out.Reset()
	if err := listWorks(ctx, a, "artist-1", &out); err != nil {
		t.Fatalf("listWorks: %v", err)
	}
	if !strings.Contains(out.String(), "波の記憶 [sold]") {
		t.Errorf("list output = %q", out.String())
	}
}

func TestOpenKV_FallsBackToMemory(t *testing.T) {
	cfg := config.CacheConfig{Backend: "redis", RedisAddr: "127.0.0.1:1", Capacity: 10}
	s, err := openKV(context.Background(), cfg, observe.New(io.Discard, false))
	if err != nil {
		t.Fatalf("openKV: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*kv.MemoryStore); !ok {
		t.Errorf("store = %T, want *kv.MemoryStore", s)
	}
}

func TestNewGenerator(t *testing.T) {
	cfg := testConfig(t)
	s, vault, err := openStore(cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer s.Close()

	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := newGenerator(context.Background(), config.GenerationConfig{Provider: "anthropic"}, vault); err == nil {
		t.Error("expected missing API key error")
	}

	if err := vault.Set("anthropic.api_key", "sk-ant-test-key-123456"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	p, err := newGenerator(context.Background(), config.GenerationConfig{Provider: "anthropic"}, vault)
	if err != nil {
		t.Fatalf("newGenerator with stored key: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("provider = %q", p.Name())
	}

	if _, err := newGenerator(context.Background(), config.GenerationConfig{Provider: "mystery"}, vault); err == nil {
		t.Error("expected unknown provider error")
	}
}

func TestConfigSetGet(t *testing.T) {
	t.Setenv("EGOGRAPHICA_SECRET", "cli-test-secret")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := "data_dir: " + dir + "\ncache:\n  backend: memory\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		RootCmd.SetOut(&out)
		RootCmd.SetArgs(append([]string{"--config", path}, args...))
		defer RootCmd.SetOut(nil)
		if err := RootCmd.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		return out.String()
	}

	if out := run("config", "set", "openai.api_key", "sk-openai-secret-value"); !strings.Contains(out, "(encrypted)") {
		t.Errorf("set output = %q", out)
	}
	if out := run("config", "get", "openai.api_key"); strings.TrimSpace(out) != "sk-o...alue" {
		t.Errorf("get output = %q, want masked key", out)
	}

	run("config", "set", "generation.model", "claude-test")
	if out := run("config", "get", "generation.model"); strings.TrimSpace(out) != "claude-test" {
		t.Errorf("get output = %q", out)
	}
	if out := run("config", "get", "missing.key"); strings.TrimSpace(out) != "(not set)" {
		t.Errorf("get output = %q", out)
	}
}
