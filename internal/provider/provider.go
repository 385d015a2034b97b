package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Roles used in Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

var ErrEmbeddingsUnsupported = errors.New("embeddings not supported by provider")

// Message represents a chat message.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool results
	ToolName   string     `json:"tool_name,omitempty"`    // For tool results
}

type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Args string `json:"args"` // raw JSON object
}

// Tool describes a function the model may call.
type Tool struct {
	Name        string
	Description string
	Params      []Param
}

// Param is one property of a tool's input object.
type Param struct {
	Name        string
	Type        string // "string", "boolean", "number"
	Description string
	Required    bool
}

// Schema renders the tool input as a JSON schema object.
func (t Tool) Schema() (properties map[string]any, required []string) {
	properties = make(map[string]any, len(t.Params))
	for _, p := range t.Params {
		properties[p.Name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return properties, required
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is one model round trip.
type Request struct {
	System    string
	Messages  []Message
	Tools     []Tool
	MaxTokens int
}

// EventType classifies stream events.
type EventType int

const (
	// EventText carries a text delta.
	EventText EventType = iota
	// EventToolStart opens a tool call at Index.
	EventToolStart
	// EventToolDelta carries a fragment of the input JSON of the tool call at Index.
	EventToolDelta
	// EventDone ends the turn.
	EventDone
)

// Event is one item of a streamed model turn.
type Event struct {
	Type        EventType
	Text        string
	Index       int
	ToolID      string
	ToolName    string
	PartialJSON string
	Usage       Usage
	StopReason  string
}

// Handler receives stream events in order. Returning an error aborts the stream.
type Handler func(Event) error

// Provider defines the interface for AI model interactions.
type Provider interface {
	// Stream runs one turn, delivering events to fn until the model ends its
	// turn. EventDone is always the last event of a successful stream.
	Stream(ctx context.Context, req Request, fn Handler) error

	// Name returns the provider identifier (e.g., "anthropic", "openai").
	Name() string
}

// Embedder generates vector embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Complete runs a tool-less turn and returns the concatenated text.
func Complete(ctx context.Context, p Provider, system, prompt string, maxTokens int) (string, error) {
	var b strings.Builder
	req := Request{
		System:    system,
		Messages:  []Message{{Role: RoleUser, Content: prompt}},
		MaxTokens: maxTokens,
	}
	err := p.Stream(ctx, req, func(ev Event) error {
		if ev.Type == EventText {
			b.WriteString(ev.Text)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%s completion: %w", p.Name(), err)
	}
	return b.String(), nil
}

// FlattenToolTurns rewrites tool calls and results as plain text so the
// history can be sent without tool definitions. Consecutive messages of the
// same role are merged.
func FlattenToolTurns(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		var flat Message
		switch {
		case m.Role == RoleTool:
			name := m.ToolName
			if name == "" {
				name = "tool"
			}
			flat = Message{Role: RoleUser, Content: fmt.Sprintf("[%s] %s", name, m.Content)}
		case len(m.ToolCalls) > 0:
			flat = Message{Role: m.Role, Content: m.Content}
		default:
			flat = m
		}
		if strings.TrimSpace(flat.Content) == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == flat.Role {
			out[n-1].Content += "\n\n" + flat.Content
			continue
		}
		out = append(out, flat)
	}
	return out
}

// HasToolTurns reports whether any message carries tool calls or results.
func HasToolTurns(msgs []Message) bool {
	for _, m := range msgs {
		if m.Role == RoleTool || len(m.ToolCalls) > 0 {
			return true
		}
	}
	return false
}
