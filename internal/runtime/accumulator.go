package runtime

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/artouc/ego-graphica/internal/provider"
)

type pendingCall struct {
	id    string
	name  string
	input strings.Builder
}

// ToolAccumulator collects streamed tool calls per content-block index. Input
// fragments are only parsed by Finalize, after the model has ended its turn.
type ToolAccumulator struct {
	calls map[int]*pendingCall
}

func NewToolAccumulator() *ToolAccumulator {
	return &ToolAccumulator{calls: make(map[int]*pendingCall)}
}

// Start opens the call at index.
func (a *ToolAccumulator) Start(index int, id, name string) {
	a.calls[index] = &pendingCall{id: id, name: name}
}

// Append adds an input fragment to the call at index. Fragments for an
// index that was never started are dropped.
func (a *ToolAccumulator) Append(index int, fragment string) {
	if c, ok := a.calls[index]; ok {
		c.input.WriteString(fragment)
	}
}

// Len returns the number of calls started.
func (a *ToolAccumulator) Len() int {
	return len(a.calls)
}

// Finalize returns the completed calls in index order. An empty input is
// read as an empty object. If any payload is not a JSON object, ok is false
// and the turn is treated as having invoked no tool.
func (a *ToolAccumulator) Finalize() (calls []provider.ToolCall, ok bool) {
	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	for _, i := range indexes {
		c := a.calls[i]
		raw := strings.TrimSpace(c.input.String())
		if raw == "" {
			raw = "{}"
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
			return nil, false
		}
		calls = append(calls, provider.ToolCall{ID: c.id, Name: c.name, Args: raw})
	}
	return calls, len(calls) > 0
}
