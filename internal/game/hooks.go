package game

import (
	"context"
	"time"

	"github.com/soyeahso/loadstone/internal/domain"
	"github.com/soyeahso/loadstone/internal/hooks"
)

// Hook points exposed by the host. Names follow <Subsystem>_<event>.
const (
	HookGameLoopUpdate = "GameLoop_update"
	HookGameLoopDraw   = "GameLoop_draw"
	HookLoggedIn       = "SocketManager_loggedIn"
	HookLoggedOut      = "SocketManager_loggedOut"
	HookPacketSent     = "SocketManager_emit"
	HookChatMessage    = "ChatManager_addChatMessage"
	HookPrivateMessage = "ChatManager_privateMessage"
	HookTradeRequested = "TradeManager_requestedTrade"
)

// AllHooks lists every hook point in definition order.
var AllHooks = []string{
	HookGameLoopUpdate,
	HookGameLoopDraw,
	HookLoggedIn,
	HookLoggedOut,
	HookPacketSent,
	HookChatMessage,
	HookPrivateMessage,
	HookTradeRequested,
}

// GameLoopUpdater receives GameLoop_update with the frame delta.
type GameLoopUpdater interface {
	OnGameLoopUpdate(ctx context.Context, dt time.Duration) error
}

// GameLoopDrawer receives GameLoop_draw.
type GameLoopDrawer interface {
	OnGameLoopDraw(ctx context.Context) error
}

// LoginObserver receives SocketManager_loggedIn.
type LoginObserver interface {
	OnLoggedIn(ctx context.Context, s domain.SessionInfo) error
}

// LogoutObserver receives SocketManager_loggedOut.
type LogoutObserver interface {
	OnLoggedOut(ctx context.Context, s domain.SessionInfo) error
}

// PacketObserver receives SocketManager_emit after a packet reaches the transport.
type PacketObserver interface {
	OnPacketSent(ctx context.Context, p domain.Packet) error
}

// ChatObserver receives ChatManager_addChatMessage.
type ChatObserver interface {
	OnChatMessage(ctx context.Context, m domain.ChatMessage) error
}

// PrivateMessageObserver receives ChatManager_privateMessage.
type PrivateMessageObserver interface {
	OnPrivateMessage(ctx context.Context, m domain.ChatMessage) error
}

// TradeObserver receives TradeManager_requestedTrade.
type TradeObserver interface {
	OnTradeRequested(ctx context.Context, r domain.TradeRequest) error
}

// Bind defines every host hook point on the registry together with the
// typed interface that opts a plugin into it.
func Bind(r *hooks.Registry) {
	r.Define(HookGameLoopUpdate, func(t any) (hooks.Handler, bool) {
		p, ok := t.(GameLoopUpdater)
		if !ok {
			return nil, false
		}
		return func(ctx context.Context, c hooks.Call) error {
			dt, _ := c.Arg(0).(time.Duration)
			return p.OnGameLoopUpdate(ctx, dt)
		}, true
	})
	r.Define(HookGameLoopDraw, func(t any) (hooks.Handler, bool) {
		p, ok := t.(GameLoopDrawer)
		if !ok {
			return nil, false
		}
		return func(ctx context.Context, _ hooks.Call) error {
			return p.OnGameLoopDraw(ctx)
		}, true
	})
	r.Define(HookLoggedIn, func(t any) (hooks.Handler, bool) {
		p, ok := t.(LoginObserver)
		if !ok {
			return nil, false
		}
		return func(ctx context.Context, c hooks.Call) error {
			s, _ := c.Arg(0).(domain.SessionInfo)
			return p.OnLoggedIn(ctx, s)
		}, true
	})
	r.Define(HookLoggedOut, func(t any) (hooks.Handler, bool) {
		p, ok := t.(LogoutObserver)
		if !ok {
			return nil, false
		}
		return func(ctx context.Context, c hooks.Call) error {
			s, _ := c.Arg(0).(domain.SessionInfo)
			return p.OnLoggedOut(ctx, s)
		}, true
	})
	r.Define(HookPacketSent, func(t any) (hooks.Handler, bool) {
		p, ok := t.(PacketObserver)
		if !ok {
			return nil, false
		}
		return func(ctx context.Context, c hooks.Call) error {
			pkt, _ := c.Arg(0).(domain.Packet)
			return p.OnPacketSent(ctx, pkt)
		}, true
	})
	r.Define(HookChatMessage, func(t any) (hooks.Handler, bool) {
		p, ok := t.(ChatObserver)
		if !ok {
			return nil, false
		}
		return func(ctx context.Context, c hooks.Call) error {
			m, _ := c.Arg(0).(domain.ChatMessage)
			return p.OnChatMessage(ctx, m)
		}, true
	})
	r.Define(HookPrivateMessage, func(t any) (hooks.Handler, bool) {
		p, ok := t.(PrivateMessageObserver)
		if !ok {
			return nil, false
		}
		return func(ctx context.Context, c hooks.Call) error {
			m, _ := c.Arg(0).(domain.ChatMessage)
			return p.OnPrivateMessage(ctx, m)
		}, true
	})
	r.Define(HookTradeRequested, func(t any) (hooks.Handler, bool) {
		p, ok := t.(TradeObserver)
		if !ok {
			return nil, false
		}
		return func(ctx context.Context, c hooks.Call) error {
			req, _ := c.Arg(0).(domain.TradeRequest)
			return p.OnTradeRequested(ctx, req)
		}, true
	})
}
