package game

import (
	"context"
	"sync"
	"time"

	"github.com/soyeahso/loadstone/internal/domain"
	"github.com/soyeahso/loadstone/internal/hooks"
)

const chatHistoryLimit = 200

// ChatManager keeps recent chat lines.
type ChatManager struct {
	hooks *hooks.Registry
	now   func() time.Time

	mu      sync.RWMutex
	history []domain.ChatMessage
}

func newChatManager(r *hooks.Registry, now func() time.Time) *ChatManager {
	return &ChatManager{hooks: r, now: now}
}

// AddMessage records a chat line and notifies ChatManager_addChatMessage
// subscribers.
func (c *ChatManager) AddMessage(ctx context.Context, m domain.ChatMessage) {
	m = c.stamp(m)
	if m.Kind == "" {
		m.Kind = domain.ChatPublic
	}
	c.append(m)
	c.hooks.Dispatch(ctx, HookChatMessage, m)
}

// PrivateMessage records a whisper and notifies ChatManager_privateMessage
// subscribers.
func (c *ChatManager) PrivateMessage(ctx context.Context, m domain.ChatMessage) {
	m = c.stamp(m)
	m.Kind = domain.ChatPrivate
	c.append(m)
	c.hooks.Dispatch(ctx, HookPrivateMessage, m)
}

// History returns the retained chat lines, oldest first.
func (c *ChatManager) History() []domain.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.ChatMessage, len(c.history))
	copy(out, c.history)
	return out
}

func (c *ChatManager) stamp(m domain.ChatMessage) domain.ChatMessage {
	if m.Timestamp.IsZero() {
		m.Timestamp = c.now()
	}
	return m
}

func (c *ChatManager) append(m domain.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, m)
	if over := len(c.history) - chatHistoryLimit; over > 0 {
		c.history = append(c.history[:0:0], c.history[over:]...)
	}
}

// TradeManager tracks incoming trade requests.
type TradeManager struct {
	hooks *hooks.Registry
	now   func() time.Time

	mu   sync.RWMutex
	last *domain.TradeRequest
}

func newTradeManager(r *hooks.Registry, now func() time.Time) *TradeManager {
	return &TradeManager{hooks: r, now: now}
}

// Requested records an incoming trade request and notifies
// TradeManager_requestedTrade subscribers.
func (t *TradeManager) Requested(ctx context.Context, req domain.TradeRequest) {
	if req.Timestamp.IsZero() {
		req.Timestamp = t.now()
	}
	t.mu.Lock()
	t.last = &req
	t.mu.Unlock()
	t.hooks.Dispatch(ctx, HookTradeRequested, req)
}

// Last returns the most recent request.
func (t *TradeManager) Last() (domain.TradeRequest, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return domain.TradeRequest{}, false
	}
	return *t.last, true
}
