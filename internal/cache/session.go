package cache

import (
	"context"

	"github.com/artouc/ego-graphica/internal/budget"
	"github.com/artouc/ego-graphica/internal/kv"
	"github.com/artouc/ego-graphica/internal/observe"
)

// SessionCache holds the rolling message list of each conversation.
type SessionCache struct {
	tier
}

func NewSessionCache(store kv.Store, obs *observe.Observer) *SessionCache {
	return &SessionCache{tier: newTier(nameSession, store, obs)}
}

func (c *SessionCache) Get(ctx context.Context, sessionID string) ([]budget.Message, bool) {
	var msgs []budget.Message
	if !c.get(ctx, SessionKey(sessionID), &msgs) {
		return nil, false
	}
	return msgs, true
}

func (c *SessionCache) Set(ctx context.Context, sessionID string, msgs []budget.Message) {
	if msgs == nil {
		msgs = []budget.Message{}
	}
	c.set(ctx, SessionKey(sessionID), msgs, SessionTTL)
}

// Append adds a message to a cached history. When the entry has expired the
// message is dropped; the durable store stays authoritative and the next
// turn reseeds.
func (c *SessionCache) Append(ctx context.Context, sessionID string, m budget.Message) {
	key := SessionKey(sessionID)
	var msgs []budget.Message
	ok, err := kv.GetJSON(ctx, c.store, key, &msgs)
	if err != nil {
		c.obs.Log().Warn().Str("session", sessionID).Err(err).Msg("Session cache unreadable, dropping append")
		return
	}
	if !ok {
		c.obs.Log().Debug().Str("session", sessionID).Msg("Session cache expired, dropping append")
		return
	}
	c.set(ctx, key, append(msgs, m), SessionTTL)
}

func (c *SessionCache) Invalidate(ctx context.Context, sessionID string) {
	c.delete(ctx, SessionKey(sessionID))
}
