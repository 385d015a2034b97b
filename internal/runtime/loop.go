package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/artouc/ego-graphica/internal/bounded"
	"github.com/artouc/ego-graphica/internal/guard"
	"github.com/artouc/ego-graphica/internal/observe"
	"github.com/artouc/ego-graphica/internal/provider"
)

// DefaultModelTimeout bounds one streamed model turn.
const DefaultModelTimeout = 120 * time.Second

var errRoundOver = errors.New("model round already finished")

// Loop drives the bounded tool-calling exchange with the model.
type Loop struct {
	provider provider.Provider
	tools    *ToolRegistry
	guard    *guard.Guard
	obs      *observe.Observer
	timeout  time.Duration
}

// NewLoop creates a loop. A nil registry offers the shouldContinue tool.
func NewLoop(p provider.Provider, tools *ToolRegistry, g *guard.Guard, o *observe.Observer) *Loop {
	if tools == nil {
		tools = NewControlRegistry()
	}
	if g == nil {
		g = guard.New(guard.DefaultPolicy)
	}
	return &Loop{
		provider: p,
		tools:    tools,
		guard:    g,
		obs:      o,
		timeout:  DefaultModelTimeout,
	}
}

// SetTimeout overrides the per-step model timeout.
func (l *Loop) SetTimeout(d time.Duration) {
	l.timeout = d
}

// Provider returns the generation provider the loop talks to.
func (l *Loop) Provider() provider.Provider {
	return l.provider
}

// Run executes the loop over history, which must end with the new user
// message. Text deltas, completed messages and tool calls are emitted as they
// happen; onMessage is called for every completed message in emission order.
// A model error aborts the loop and is returned with the state reached.
func (l *Loop) Run(ctx context.Context, system string, history []provider.Message, emit EventHandler, onMessage func(string)) (*LoopState, error) {
	st := newLoopState(history)
	policy := l.guard.Policy()

	for {
		if v := l.guard.CheckStep(st.Step); v != nil {
			l.obs.Log().Warn().Int("step", st.Step).Str("violation", v.Rule).Msg("step limit reached, stopping")
			st.terminate(StopStepLimit)
			return st, nil
		}

		req := provider.Request{
			System:    system,
			Messages:  st.History,
			MaxTokens: policy.MaxResponseTokens,
		}
		if st.Step == 0 {
			req.Tools = l.tools.List()
		}
		st.Step++

		text, acc, err := l.stream(ctx, st, req, emit)
		if err != nil {
			st.terminate(StopError)
			return st, err
		}

		msg := strings.TrimSpace(text)
		if msg != "" {
			st.Completed = append(st.Completed, msg)
			emit(Event{Type: EventMessageComplete, Text: msg})
			if onMessage != nil {
				onMessage(msg)
			}
		}

		calls, ok := acc.Finalize()
		if !ok {
			if acc.Len() > 0 {
				l.obs.Log().Warn().Int("step", st.Step).Msg("discarding malformed tool input")
			}
			st.transition(StateCompleted)
			st.appendHistory(provider.Message{Role: provider.RoleAssistant, Content: text})
			st.terminate(StopNoTool)
			return st, nil
		}

		st.transition(StateToolInvoked)
		st.appendHistory(provider.Message{Role: provider.RoleAssistant, Content: text, ToolCalls: calls})

		cont := true
		for _, call := range calls {
			emit(Event{Type: EventToolCall, Name: call.Name})
			res := l.tools.Execute(ctx, call)
			st.ToolCalls++
			st.appendHistory(provider.Message{
				Role:       provider.RoleTool,
				Content:    res.Content,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
			l.obs.Log().Debug().Int("step", st.Step).Str("tool", call.Name).Str("result", res.Content).Msg("tool executed")
			if !res.Continue {
				cont = false
				break
			}
		}
		st.transition(StateToolExecuted)

		if !cont {
			st.terminate(StopVerdict)
			return st, nil
		}
		st.transition(StateAwaitingModel)
	}
}

// stream runs one model round trip under the step timeout.
func (l *Loop) stream(ctx context.Context, st *LoopState, req provider.Request, emit EventHandler) (string, *ToolAccumulator, error) {
	ctx, span := l.obs.StartSpan(ctx, "ModelRound")
	defer span.End()

	st.transition(StateStreaming)
	l.obs.Metrics().ModelRound(l.provider.Name())

	var text strings.Builder
	acc := NewToolAccumulator()

	// A provider that ignores ctx may keep calling back after a timeout.
	// Once the round is over those callbacks are refused.
	var mu sync.Mutex
	over := false
	err := bounded.Run(ctx, "model stream", l.timeout, func(ctx context.Context) error {
		return l.provider.Stream(ctx, req, func(ev provider.Event) error {
			mu.Lock()
			defer mu.Unlock()
			if over {
				return errRoundOver
			}
			switch ev.Type {
			case provider.EventText:
				if ev.Text == "" {
					return nil
				}
				text.WriteString(ev.Text)
				emit(Event{Type: EventTextDelta, Text: ev.Text})
			case provider.EventToolStart:
				acc.Start(ev.Index, ev.ToolID, ev.ToolName)
			case provider.EventToolDelta:
				acc.Append(ev.Index, ev.PartialJSON)
			case provider.EventDone:
				st.addUsage(ev.Usage)
			}
			return nil
		})
	})
	mu.Lock()
	over = true
	mu.Unlock()
	if err != nil {
		l.obs.Log().Error().Int("step", st.Step).Str("provider", l.provider.Name()).Err(err).Msg("model round failed")
		return "", nil, fmt.Errorf("%s step %d: %w", l.provider.Name(), st.Step, err)
	}
	return text.String(), acc, nil
}
