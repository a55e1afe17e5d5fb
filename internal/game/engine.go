// Package game is the host engine plugins attach to: the frame loop, the
// socket connection to the game server, chat and trade. Every subsystem
// reports through named hook points on a hooks.Registry.
package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/loadstone/internal/domain"
	"github.com/soyeahso/loadstone/internal/hooks"
	"github.com/soyeahso/loadstone/internal/logging"
	"github.com/tidwall/gjson"
)

// Options configures an Engine.
type Options struct {
	Executor Executor
	Lookups  *Lookups
	Now      func() time.Time
}

// Engine groups the host subsystems.
type Engine struct {
	Hooks   *hooks.Registry
	Loop    *Loop
	Socket  *SocketManager
	Chat    *ChatManager
	Trade   *TradeManager
	Lookups *Lookups

	exec Executor
	log  *logging.Logger
}

// New creates an engine and defines its hook points on r.
func New(r *hooks.Registry, log *logging.Logger, opts Options) *Engine {
	if opts.Executor == nil {
		opts.Executor = Inline{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log = log.Sub("game")
	Bind(r)
	return &Engine{
		Hooks:   r,
		Loop:    newLoop(r, opts.Executor, log),
		Socket:  newSocketManager(r, log, opts.Now),
		Chat:    newChatManager(r, opts.Now),
		Trade:   newTradeManager(r, opts.Now),
		Lookups: opts.Lookups,
		exec:    opts.Executor,
		log:     log,
	}
}

// Executor returns the executor host work runs on.
func (e *Engine) Executor() Executor { return e.exec }

// Serve reads inbound frames from the socket transport and routes them to
// the subsystems until ctx is cancelled or the transport fails.
func (e *Engine) Serve(ctx context.Context) error {
	t := e.Socket.Transport()
	if t == nil {
		return ErrNotConnected
	}
	for {
		raw, err := t.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		if err := e.exec.Call(ctx, func(ctx context.Context) error {
			return e.Route(ctx, raw)
		}); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrLoopStopped) {
				return nil
			}
			e.log.Warn().Err(err).Msg("dropping inbound frame")
		}
	}
}

// Route dispatches one inbound frame of the form {"event": ..., "data": {...}}.
func (e *Engine) Route(ctx context.Context, raw []byte) error {
	if !gjson.ValidBytes(raw) {
		return errors.New("inbound frame is not valid JSON")
	}
	frame := gjson.ParseBytes(raw)
	data := frame.Get("data")

	switch event := frame.Get("event").String(); event {
	case "login":
		e.Socket.LoggedIn(ctx, data.Get("player").String())
	case "logout":
		return e.Socket.LoggedOut(ctx)
	case "chat":
		e.Chat.AddMessage(ctx, chatFrom(data))
	case "pm":
		e.Chat.PrivateMessage(ctx, chatFrom(data))
	case "trade":
		e.Trade.Requested(ctx, domain.TradeRequest{
			From:     data.Get("from").String(),
			PlayerID: int(data.Get("playerId").Int()),
		})
	case "":
		return errors.New("inbound frame has no event")
	default:
		e.log.Debug().Str("event", event).Msg("unhandled inbound event")
	}
	return nil
}

func chatFrom(data gjson.Result) domain.ChatMessage {
	m := domain.ChatMessage{
		From: data.Get("from").String(),
		To:   data.Get("to").String(),
		Text: data.Get("text").String(),
		Kind: domain.ChatKind(data.Get("kind").String()),
	}
	if ts := data.Get("ts"); ts.Exists() {
		m.Timestamp = time.UnixMilli(ts.Int())
	}
	return m
}
