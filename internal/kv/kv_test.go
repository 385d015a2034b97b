package kv

import (
	"context"
	"errors"
	"os"
	"sort"
	"testing"
	"time"
)

func newTestStore(t *testing.T) (*MemoryStore, *time.Time) {
	t.Helper()
	s, err := NewMemoryStore(16)
	if err != nil {
		t.Fatalf("NewMemoryStore failed: %v", err)
	}
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	return s, &now
}

func TestMemoryStore_GetSet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected miss without error, got ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(got) != "v" {
		t.Errorf("expected 'v', got %q", got)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "session:a", []byte("x"), 30*time.Minute)
	_ = s.Set(ctx, "forever", []byte("y"), 0)

	*now = now.Add(29 * time.Minute)
	if _, ok, _ := s.Get(ctx, "session:a"); !ok {
		t.Fatal("expected entry before ttl")
	}

	*now = now.Add(time.Minute)
	if _, ok, _ := s.Get(ctx, "session:a"); ok {
		t.Error("expected entry to expire at ttl")
	}
	if _, ok, _ := s.Get(ctx, "forever"); !ok {
		t.Error("expected zero-ttl entry to survive")
	}
}

func TestMemoryStore_KeysAndDeleteMatching(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "vector:t1:aaa", []byte("1"), time.Minute)
	_ = s.Set(ctx, "vector:t1:bbb", []byte("1"), time.Second)
	_ = s.Set(ctx, "vector:t2:aaa", []byte("1"), time.Minute)
	_ = s.Set(ctx, "embedding:aaa", []byte("1"), time.Minute)

	keys, err := s.Keys(ctx, "vector:t1:*")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "vector:t1:aaa" || keys[1] != "vector:t1:bbb" {
		t.Errorf("unexpected keys %v", keys)
	}

	*now = now.Add(2 * time.Second)
	n, err := DeleteMatching(ctx, s, "vector:t1:*")
	if err != nil {
		t.Fatalf("DeleteMatching failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 live key removed, got %d", n)
	}
	if _, ok, _ := s.Get(ctx, "vector:t2:aaa"); !ok {
		t.Error("expected other tenant's key to survive")
	}
}

func TestMemoryStore_Capacity(t *testing.T) {
	s, err := NewMemoryStore(2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	_ = s.Set(ctx, "a", []byte("1"), 0)
	_ = s.Set(ctx, "b", []byte("2"), 0)
	_ = s.Set(ctx, "c", []byte("3"), 0)

	if s.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", s.Len())
	}
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Error("expected least recently used key to be evicted")
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	s, _ := newTestStore(t)
	_ = s.Close()

	if _, _, err := s.Get(context.Background(), "k"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := s.Set(context.Background(), "k", nil, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestJSONHelpers(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	type payload struct {
		Messages []string `json:"messages"`
	}
	if err := SetJSON(ctx, s, "session:1", payload{Messages: []string{"hi"}}, time.Minute); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	var got payload
	ok, err := GetJSON(ctx, s, "session:1", &got)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if len(got.Messages) != 1 || got.Messages[0] != "hi" {
		t.Errorf("unexpected payload %+v", got)
	}

	_ = s.Set(ctx, "session:bad", []byte("{"), time.Minute)
	if ok, err := GetJSON(ctx, s, "session:bad", &got); ok || err == nil {
		t.Error("expected decode error for corrupt value")
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("EGOGRAPHICA_TEST_REDIS")
	if addr == "" {
		t.Skip("EGOGRAPHICA_TEST_REDIS not set")
	}
	ctx := context.Background()
	s, err := NewRedisStore(ctx, RedisOptions{Addr: addr})
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer s.Close()

	_ = s.Set(ctx, "egotest:vector:t:1", []byte("a"), time.Minute)
	_ = s.Set(ctx, "egotest:vector:t:2", []byte("b"), time.Minute)

	n, err := DeleteMatching(ctx, s, "egotest:vector:t:*")
	if err != nil {
		t.Fatalf("DeleteMatching failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 keys removed, got %d", n)
	}
	if _, ok, _ := s.Get(ctx, "egotest:vector:t:1"); ok {
		t.Error("expected key to be deleted")
	}
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := NewRedisStore(ctx, RedisOptions{Addr: "127.0.0.1:1"}); err == nil {
		t.Error("expected error for unreachable redis")
	}
}
