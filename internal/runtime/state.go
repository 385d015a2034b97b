package runtime

import (
	"github.com/artouc/ego-graphica/internal/provider"
)

// State is a state of the tool-calling loop.
type State int

const (
	StateAwaitingModel State = iota
	StateStreaming
	StateToolInvoked
	StateCompleted
	StateToolExecuted
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAwaitingModel:
		return "awaiting_model"
	case StateStreaming:
		return "streaming"
	case StateToolInvoked:
		return "tool_invoked"
	case StateCompleted:
		return "completed"
	case StateToolExecuted:
		return "tool_executed"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// StopReason records why a loop terminated.
type StopReason string

const (
	StopNoTool    StopReason = "no_tool"
	StopVerdict   StopReason = "verdict"
	StopStepLimit StopReason = "step_limit"
	StopError     StopReason = "error"
)

// LoopState tracks one run of the loop. It is owned by a single goroutine.
type LoopState struct {
	Step              int
	State             State
	History           []provider.Message
	Completed         []string
	ToolCalls         int
	TotalPromptTokens int
	TotalOutputTokens int
	Transitions       []State
	Stop              StopReason
}

func newLoopState(history []provider.Message) *LoopState {
	h := make([]provider.Message, len(history))
	copy(h, history)
	return &LoopState{
		State:       StateAwaitingModel,
		History:     h,
		Transitions: []State{StateAwaitingModel},
	}
}

func (s *LoopState) transition(to State) {
	s.State = to
	s.Transitions = append(s.Transitions, to)
}

func (s *LoopState) terminate(reason StopReason) {
	s.Stop = reason
	s.transition(StateTerminated)
}

func (s *LoopState) addUsage(u provider.Usage) {
	s.TotalPromptTokens += u.PromptTokens
	s.TotalOutputTokens += u.CompletionTokens
}

func (s *LoopState) appendHistory(msgs ...provider.Message) {
	s.History = append(s.History, msgs...)
}
