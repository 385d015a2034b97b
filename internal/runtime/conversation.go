package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artouc/ego-graphica/internal/bounded"
	"github.com/artouc/ego-graphica/internal/budget"
	"github.com/artouc/ego-graphica/internal/cache"
	"github.com/artouc/ego-graphica/internal/guard"
	"github.com/artouc/ego-graphica/internal/memory"
	"github.com/artouc/ego-graphica/internal/observe"
	"github.com/artouc/ego-graphica/internal/prompt"
	"github.com/artouc/ego-graphica/internal/provider"
	"github.com/artouc/ego-graphica/internal/store"
	"github.com/google/uuid"
)

// ContextLoader returns the tenant's cached context, rebuilding it on a miss.
type ContextLoader interface {
	Load(ctx context.Context, tenant string) (*cache.CachedContext, error)
}

// Retriever runs the real-time similarity search for a message. The bool
// result reports whether a search ran.
type Retriever interface {
	Retrieve(ctx context.Context, tenant, message string) ([]memory.Item, bool, error)
}

// Turn is one inbound customer message.
type Turn struct {
	Tenant    string
	SessionID string // empty starts a new session
	Message   string
}

// Options tunes a Conversation.
type Options struct {
	HistoryWindow int
	ReserveTokens int
	StoreTimeout  time.Duration
}

// DefaultOptions returns the standard tuning.
func DefaultOptions() Options {
	return Options{
		HistoryWindow: 20,
		ReserveTokens: budget.DefaultReserve,
		StoreTimeout:  5 * time.Second,
	}
}

// Conversation runs customer turns end to end: context, retrieval, history,
// the tool-calling loop and persistence.
type Conversation struct {
	store     store.Storage
	loader    ContextLoader
	retriever Retriever
	sessions  *cache.SessionCache
	loop      *Loop
	guard     *guard.Guard
	obs       *observe.Observer
	bus       *EventBus
	opts      Options
}

func NewConversation(s store.Storage, loader ContextLoader, retriever Retriever, sessions *cache.SessionCache, loop *Loop, g *guard.Guard, o *observe.Observer, opts Options) *Conversation {
	def := DefaultOptions()
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = def.HistoryWindow
	}
	if opts.ReserveTokens <= 0 {
		opts.ReserveTokens = def.ReserveTokens
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = def.StoreTimeout
	}
	if g == nil {
		g = guard.New(guard.DefaultPolicy)
	}
	return &Conversation{
		store:     s,
		loader:    loader,
		retriever: retriever,
		sessions:  sessions,
		loop:      loop,
		guard:     g,
		obs:       o,
		bus:       NewEventBus(),
		opts:      opts,
	}
}

// Events returns the bus every turn's events are also published to.
func (c *Conversation) Events() *EventBus {
	return c.bus
}

// Handle runs one turn, delivering protocol events to sink. Exactly one
// terminal event (done or error) is delivered. The returned error is the one
// reported in the error event.
func (c *Conversation) Handle(ctx context.Context, turn Turn, sink EventHandler) error {
	ctx, span := c.obs.StartSpan(ctx, "Conversation.Handle")
	defer span.End()

	em := &emitter{sink: sink, bus: c.bus}
	err := c.handle(ctx, turn, em)
	if err != nil {
		c.obs.Metrics().Turn("error")
		c.obs.Log().Error().Str("tenant", turn.Tenant).Str("session", em.sessionID).Err(err).Msg("conversation turn failed")
		em.emit(Event{Type: EventError, Message: err.Error()})
		return err
	}
	c.obs.Metrics().Turn("done")
	return nil
}

func (c *Conversation) handle(ctx context.Context, turn Turn, em *emitter) error {
	if v := c.guard.CheckTenant(turn.Tenant); v != nil {
		return v
	}
	if turn.SessionID != "" {
		if v := c.guard.CheckSession(turn.SessionID); v != nil {
			return v
		}
	}
	if turn.Message == "" {
		return errors.New("message is empty")
	}

	// Writes survive a consumer that disconnects mid-turn but stay bounded
	// by the store timeout.
	persistCtx := context.WithoutCancel(ctx)

	session, err := c.resolveSession(ctx, persistCtx, turn)
	if err != nil {
		return err
	}
	em.sessionID = session.ID
	em.emit(Event{Type: EventSession, SessionID: session.ID})
	log := c.obs.Log().With().Str("tenant", turn.Tenant).Str("session", session.ID).Logger()

	started := time.Now()
	cc, err := c.loader.Load(ctx, turn.Tenant)
	if err != nil {
		return fmt.Errorf("load context: %w", err)
	}
	c.stage(em, TimingContext, started)

	started = time.Now()
	var realtime []memory.Item
	if c.retriever != nil {
		items, searched, err := c.retriever.Retrieve(ctx, turn.Tenant, turn.Message)
		if err != nil {
			return fmt.Errorf("retrieval: %w", err)
		}
		realtime = items
		log.Debug().Int("results", len(items)).Str("searched", fmt.Sprint(searched)).Msg("retrieval finished")
	}
	c.stage(em, TimingRetrieval, started)

	system := prompt.Assemble(prompt.Input{
		Persona:          cc.Persona,
		KnowledgeSummary: cc.KnowledgeSummary,
		Realtime:         realtime,
		WritingStyle:     cc.WritingStyle,
		StyleSamples:     cc.StyleSamples,
	})

	started = time.Now()
	history, err := c.loadHistory(ctx, turn.Tenant, session.ID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	c.stage(em, TimingHistory, started)

	userMsg := budget.Message{Role: provider.RoleUser, Content: turn.Message}
	if err := c.persist(persistCtx, turn.Tenant, session.ID, userMsg); err != nil {
		return fmt.Errorf("persist user message: %w", err)
	}
	added := 1

	b := budget.ForProvider(c.loop.Provider().Name(), system, c.opts.ReserveTokens)
	window := b.Fit(append(history, userMsg))
	if len(window) == 0 {
		window = []budget.Message{userMsg}
	}
	if dropped := len(history) + 1 - len(window); dropped > 0 {
		log.Info().Int("dropped", dropped).Int("available", b.Available()).Msg("history truncated to token budget")
	}

	msgs := make([]provider.Message, len(window))
	for i, m := range window {
		msgs[i] = provider.Message{Role: m.Role, Content: m.Content}
	}

	started = time.Now()
	var persistErr error
	st, err := c.loop.Run(ctx, system, msgs, em.handler(), func(text string) {
		m := budget.Message{Role: provider.RoleAssistant, Content: text}
		if err := c.persist(persistCtx, turn.Tenant, session.ID, m); err != nil {
			if persistErr == nil {
				persistErr = err
			}
			return
		}
		added++
	})

	// Counters cover whatever was persisted, including before a failure.
	updated, touchErr := bounded.Do(persistCtx, "touch session", c.opts.StoreTimeout, func(ctx context.Context) (*store.Session, error) {
		return c.store.TouchSession(ctx, turn.Tenant, session.ID, added)
	})
	if err != nil {
		return err
	}
	if persistErr != nil {
		return fmt.Errorf("persist assistant message: %w", persistErr)
	}
	if touchErr != nil {
		return fmt.Errorf("update session: %w", touchErr)
	}
	c.stage(em, TimingGeneration, started)

	log.Info().Int("steps", st.Step).Int("tool_calls", st.ToolCalls).Str("stop", string(st.Stop)).
		Int("output_tokens", st.TotalOutputTokens).Msg("conversation turn complete")
	em.emit(Event{Type: EventDone, SessionID: session.ID, MessageCount: updated.Messages})
	return nil
}

func (c *Conversation) stage(em *emitter, category string, started time.Time) {
	d := em.timing(category, started)
	c.obs.Metrics().Stage(category, d)
}

// resolveSession loads the turn's session, creating it when the id is empty
// or unknown. An id owned by another tenant starts a fresh session instead.
func (c *Conversation) resolveSession(ctx, persistCtx context.Context, turn Turn) (*store.Session, error) {
	if turn.SessionID != "" {
		s, err := bounded.Do(ctx, "get session", c.opts.StoreTimeout, func(ctx context.Context) (*store.Session, error) {
			return c.store.GetSession(ctx, turn.Tenant, turn.SessionID)
		})
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("get session: %w", err)
		}
	}

	id := turn.SessionID
	if id == "" {
		id = uuid.New().String()
	}
	s, err := c.createSession(persistCtx, turn.Tenant, id)
	if errors.Is(err, store.ErrConflict) && turn.SessionID != "" {
		c.obs.Log().Warn().Str("tenant", turn.Tenant).Msg("session id taken, starting a new session")
		s, err = c.createSession(persistCtx, turn.Tenant, uuid.New().String())
	}
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	c.obs.Log().Info().Str("tenant", turn.Tenant).Str("session", s.ID).Msg("session created")
	return s, nil
}

func (c *Conversation) createSession(ctx context.Context, tenant, id string) (*store.Session, error) {
	s := &store.Session{ID: id, Tenant: tenant}
	err := bounded.Run(ctx, "create session", c.opts.StoreTimeout, func(ctx context.Context) error {
		return c.store.CreateSession(ctx, s)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// loadHistory returns the session history from the cache, reseeding it from
// the newest stored messages on a miss.
func (c *Conversation) loadHistory(ctx context.Context, tenant, sessionID string) ([]budget.Message, error) {
	if msgs, ok := c.sessions.Get(ctx, sessionID); ok {
		return msgs, nil
	}

	stored, err := bounded.Do(ctx, "recent messages", c.opts.StoreTimeout, func(ctx context.Context) ([]store.Message, error) {
		return c.store.RecentMessages(ctx, tenant, sessionID, c.opts.HistoryWindow)
	})
	if err != nil {
		return nil, err
	}
	msgs := make([]budget.Message, len(stored))
	for i, m := range stored {
		msgs[i] = budget.Message{Role: m.Role, Content: m.Content}
	}
	c.sessions.Set(context.WithoutCancel(ctx), sessionID, msgs)
	return msgs, nil
}

func (c *Conversation) persist(ctx context.Context, tenant, sessionID string, m budget.Message) error {
	err := bounded.Run(ctx, "add message", c.opts.StoreTimeout, func(ctx context.Context) error {
		return c.store.AddMessage(ctx, tenant, sessionID, store.Message{Role: m.Role, Content: m.Content})
	})
	if err != nil {
		return err
	}
	c.sessions.Append(ctx, sessionID, m)
	return nil
}
