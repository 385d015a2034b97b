package runtime

import (
	"sync"
	"time"
)

// EventType names a streaming protocol event.
type EventType string

const (
	EventSession         EventType = "session"
	EventTiming          EventType = "timing"
	EventTextDelta       EventType = "text_delta"
	EventMessageComplete EventType = "message_complete"
	EventToolCall        EventType = "tool_call"
	EventDone            EventType = "done"
	EventError           EventType = "error"
)

// Timing categories.
const (
	TimingContext    = "context"
	TimingRetrieval  = "retrieval"
	TimingHistory    = "history"
	TimingGeneration = "generation"
)

// Terminal reports whether the event ends a turn.
func (t EventType) Terminal() bool {
	return t == EventDone || t == EventError
}

// Event is one item of the server-to-client stream. Only the fields of the
// event's type are set.
type Event struct {
	Type         EventType
	Timestamp    time.Time
	SessionID    string
	Text         string
	Name         string
	Category     string
	DurationMs   int64
	MessageCount int
	Message      string
}

// Payload returns the wire body of the event.
func (e Event) Payload() map[string]any {
	switch e.Type {
	case EventSession:
		return map[string]any{"id": e.SessionID}
	case EventTiming:
		return map[string]any{"category": e.Category, "durationMs": e.DurationMs}
	case EventTextDelta, EventMessageComplete:
		return map[string]any{"text": e.Text}
	case EventToolCall:
		return map[string]any{"name": e.Name}
	case EventDone:
		return map[string]any{"id": e.SessionID, "messageCount": e.MessageCount}
	case EventError:
		return map[string]any{"message": e.Message}
	}
	return map[string]any{}
}

// EventHandler is a function that handles events.
type EventHandler func(Event)

// EventBus fans conversation events out to observers that are not the
// turn's own consumer, such as loggers and the terminal view.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types.
func (eb *EventBus) SubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allHandlers = append(eb.allHandlers, handler)
}

// Publish sends an event to all registered handlers.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, handler := range eb.handlers[event.Type] {
		handler(event)
	}
	for _, handler := range eb.allHandlers {
		handler(event)
	}
}

// emitter delivers a turn's events to its sink and the bus, and lets through
// exactly one terminal event.
type emitter struct {
	mu         sync.Mutex
	sink       EventHandler
	bus        *EventBus
	sessionID  string
	terminated bool
}

func (e *emitter) emit(ev Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		return false
	}
	if ev.Type.Terminal() {
		e.terminated = true
	}
	if ev.SessionID == "" {
		ev.SessionID = e.sessionID
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if e.sink != nil {
		e.sink(ev)
	}
	if e.bus != nil {
		e.bus.Publish(ev)
	}
	return true
}

func (e *emitter) timing(category string, started time.Time) time.Duration {
	d := time.Since(started)
	e.emit(Event{Type: EventTiming, Category: category, DurationMs: d.Milliseconds()})
	return d
}

// handler adapts the emitter to an EventHandler.
func (e *emitter) handler() EventHandler {
	return func(ev Event) { e.emit(ev) }
}
