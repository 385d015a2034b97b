package provider

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"sync"
)

// StubTurn scripts one model turn.
type StubTurn struct {
	Text     []string // text deltas, in order
	ToolName string
	ToolArgs []string // input JSON fragments
	Err      error
}

// StubProvider replays scripted turns. It is used by tests and by the
// offline "stub" provider.
type StubProvider struct {
	mu       sync.Mutex
	turns    []StubTurn
	repeat   bool
	requests []Request
}

// NewStubProvider replays turns once; later calls end with an empty turn.
func NewStubProvider(turns ...StubTurn) *StubProvider {
	return &StubProvider{turns: turns}
}

// NewLoopingStubProvider repeats its last turn forever.
func NewLoopingStubProvider(turns ...StubTurn) *StubProvider {
	return &StubProvider{turns: turns, repeat: true}
}

// NewDemoStubProvider scripts a short greeting exchange for local runs.
func NewDemoStubProvider() *StubProvider {
	return NewStubProvider(
		StubTurn{
			Text:     []string{"いらっしゃいませ！", "作品に興味を持っていただき", "ありがとうございます。"},
			ToolName: "shouldContinue",
			ToolArgs: []string{`{"have_more_to_say": true,`, ` "next_topic": "最新作"}`},
		},
		StubTurn{
			Text: []string{"最新作は海をテーマにした連作です。"},
		},
	)
}

func (m *StubProvider) Name() string {
	return "stub"
}

// Requests returns every request received so far.
func (m *StubProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func (m *StubProvider) next(req Request) (StubTurn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.turns) == 0 {
		return StubTurn{}, false
	}
	turn := m.turns[0]
	if len(m.turns) > 1 || !m.repeat {
		m.turns = m.turns[1:]
	}
	return turn, true
}

func (m *StubProvider) Stream(ctx context.Context, req Request, fn Handler) error {
	turn, _ := m.next(req)
	if turn.Err != nil {
		return turn.Err
	}

	var out int
	for _, delta := range turn.Text {
		if err := ctx.Err(); err != nil {
			return err
		}
		out += len(delta)
		if err := fn(Event{Type: EventText, Index: 0, Text: delta}); err != nil {
			return err
		}
	}

	// Scripted tool calls are emitted even when no tools were offered.
	if turn.ToolName != "" {
		if err := fn(Event{Type: EventToolStart, Index: 1, ToolID: "toolu_stub", ToolName: turn.ToolName}); err != nil {
			return err
		}
		for _, frag := range turn.ToolArgs {
			if err := fn(Event{Type: EventToolDelta, Index: 1, PartialJSON: frag}); err != nil {
				return err
			}
		}
	}

	return fn(Event{Type: EventDone, Usage: Usage{CompletionTokens: out, TotalTokens: out}})
}

// Embed derives a deterministic unit vector from the text's words, so equal
// texts embed equally and texts sharing words land close together.
func (m *StubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	const dims = 32
	vec := make([]float32, dims)
	for _, word := range strings.Fields(text) {
		sum := sha256.Sum256([]byte(word))
		for i := 0; i < dims; i++ {
			v := binary.LittleEndian.Uint16(sum[(i*2)%len(sum):])
			vec[i] += float32(v)/math.MaxUint16 - 0.5
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec, nil
}
