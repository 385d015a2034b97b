// Package budget estimates token cost offline and fits conversation history
// into a provider's context window.
package budget

import (
	"math"
	"strings"
)

const (
	// DefaultReserve is held back for the model's response.
	DefaultReserve = 4000
	// MessageOverhead is added per message for role and framing tokens.
	MessageOverhead = 4

	defaultWindow = 100000
)

var windows = map[string]int{
	"claude":    200000,
	"anthropic": 200000,
	"grok":      131072,
	"openai":    128000,
	"gemini":    1048576,
}

// Message is the minimal shape the estimator needs.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Budget describes the token space available for history in one model call.
type Budget struct {
	Total        int
	Reserved     int
	SystemPrompt int
}

// ForProvider builds the budget for a provider given the system prompt text.
func ForProvider(provider, systemPrompt string, reserve int) Budget {
	if reserve <= 0 {
		reserve = DefaultReserve
	}
	return Budget{
		Total:        ContextWindow(provider),
		Reserved:     reserve,
		SystemPrompt: EstimateTokens(systemPrompt),
	}
}

// Available is what remains for history, never negative.
func (b Budget) Available() int {
	n := b.Total - b.Reserved - b.SystemPrompt
	if n < 0 {
		return 0
	}
	return n
}

// ContextWindow returns the context size for a provider name.
func ContextWindow(provider string) int {
	if n, ok := windows[strings.ToLower(provider)]; ok {
		return n
	}
	return defaultWindow
}

// EstimateTokens approximates token count: CJK script at 1.5 characters per
// token, everything else at 4.
func EstimateTokens(text string) int {
	var dense, other int
	for _, r := range text {
		if isDense(r) {
			dense++
		} else {
			other++
		}
	}
	return int(math.Ceil(float64(dense)/1.5 + float64(other)/4))
}

func isDense(r rune) bool {
	return (r >= 0x3000 && r <= 0x9FFF) ||
		(r >= 0x30A0 && r <= 0x30FF) ||
		(r >= 0x3040 && r <= 0x309F)
}

// MessageCost is the estimated cost of one message including overhead.
func MessageCost(m Message) int {
	return EstimateTokens(m.Content) + MessageOverhead
}

// EstimateMessages sums MessageCost over the list.
func EstimateMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += MessageCost(m)
	}
	return total
}

// Truncate keeps the newest messages whose combined cost fits in
// total-reserved. The result is always a suffix of messages.
func Truncate(messages []Message, total, reserved int) []Message {
	available := total - reserved
	used := 0
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		cost := MessageCost(messages[i])
		if used+cost > available {
			break
		}
		used += cost
		start = i
	}
	return messages[start:]
}

// Fit truncates messages to the history space of b.
func (b Budget) Fit(messages []Message) []Message {
	return Truncate(messages, b.Total, b.Reserved+b.SystemPrompt)
}
