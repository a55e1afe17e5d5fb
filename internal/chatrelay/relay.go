// Package chatrelay is a plugin that mirrors in-game chat to an IRC channel.
package chatrelay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/soyeahso/loadstone/internal/config"
	"github.com/soyeahso/loadstone/internal/domain"
	"github.com/soyeahso/loadstone/internal/plugin"
	"github.com/soyeahso/loadstone/internal/settings"
)

const (
	Name   = "Chat Relay"
	Author = "loadstone"

	KeyChannel     = "channel"
	KeyPrivateOnly = "privateOnly"

	DefaultChannel = "#loadstone"

	maxLineLen = 400
)

// ErrNotConfigured is returned by Start when no relay server is configured.
var ErrNotConfigured = errors.New("chat relay: no IRC server configured")

// Options configures a Relay.
type Options struct {
	Dial Dialer
	Now  func() time.Time
}

// Stats counts relay outcomes since the last Start.
type Stats struct {
	Connected bool  `json:"connected"`
	Relayed   int64 `json:"relayed"`
	Dropped   int64 `json:"dropped"`
}

// Relay is the chat relay plugin.
type Relay struct {
	*plugin.Base

	cfg     config.RelayConfig
	dial    Dialer
	now     func() time.Time
	limiter *rate.Limiter

	mu     sync.Mutex
	client Client
	done   chan struct{}

	relayed atomic.Int64
	dropped atomic.Int64
}

// New creates the relay. A zero RelayConfig yields a plugin that refuses to
// start.
func New(cfg config.RelayConfig, opts Options) *Relay {
	r := &Relay{
		Base: plugin.NewBase(Name, Author),
		cfg:  cfg,
		dial: opts.Dial,
		now:  opts.Now,
	}
	if r.dial == nil {
		r.dial = DialIRC
	}
	if r.now == nil {
		r.now = time.Now
	}

	interval := time.Duration(cfg.MinIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = config.DefaultRelayIntervalMs * time.Millisecond
	}
	r.limiter = rate.NewLimiter(rate.Every(interval), 1)

	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	s := r.Settings()
	s.MustAdd(settings.Setting{
		Key:   KeyChannel,
		Text:  "IRC channel",
		Kind:  settings.Text,
		Value: channel,
		Validate: func(v any) bool {
			str, _ := v.(string)
			return len(str) > 1 && strings.HasPrefix(str, "#") && !strings.ContainsAny(str, " ,\a")
		},
		OnChange: r.rejoin,
	})
	s.MustAdd(settings.Setting{
		Key:   KeyPrivateOnly,
		Text:  "Relay private messages only",
		Kind:  settings.Checkbox,
		Value: false,
	})
	return r
}

func (r *Relay) Init(ctx context.Context, api plugin.API) error { return nil }

// Start connects to IRC in the background. Messages observed before
// registration completes are dropped.
func (r *Relay) Start(ctx context.Context) error {
	if r.cfg.Server == "" || r.cfg.Nick == "" {
		return ErrNotConfigured
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return nil
	}

	log := r.Log()
	c := r.dial(r.cfg, log, r.join)
	done := make(chan struct{})
	r.client = c
	r.done = done
	r.relayed.Store(0)
	r.dropped.Store(0)

	go func() {
		defer close(done)
		if err := c.Connect(); err != nil {
			log.Warn().Err(err).Msg("IRC connection ended")
		}
	}()
	return nil
}

// Stop quits IRC and waits for the connection goroutine, bounded by ctx.
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	c, done := r.client, r.done
	r.client, r.done = nil, nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}

	if c.IsConnected() {
		r.Log().Info().Msg("disconnecting from IRC")
		c.Quit("loadstone relay stopped")
	}
	c.Close()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("chat relay: waiting for disconnect: %w", ctx.Err())
	}
}

// OnChatMessage relays public chat unless privateOnly is set.
func (r *Relay) OnChatMessage(ctx context.Context, m domain.ChatMessage) error {
	if r.Settings().Bool(KeyPrivateOnly) || m.Kind == domain.ChatSystem {
		return nil
	}
	r.relay(m)
	return nil
}

// OnPrivateMessage relays whispers.
func (r *Relay) OnPrivateMessage(ctx context.Context, m domain.ChatMessage) error {
	r.relay(m)
	return nil
}

// Stats returns relay counters.
func (r *Relay) Stats() Stats {
	c := r.current()
	return Stats{
		Connected: c != nil && c.IsConnected(),
		Relayed:   r.relayed.Load(),
		Dropped:   r.dropped.Load(),
	}
}

func (r *Relay) relay(m domain.ChatMessage) {
	c := r.current()
	if c == nil || !c.IsConnected() {
		r.dropped.Add(1)
		r.Log().Debug().Str("from", m.From).Msg("relay not connected, dropping message")
		return
	}
	if !r.limiter.AllowN(r.now(), 1) {
		r.dropped.Add(1)
		r.Log().Warn().Str("from", m.From).Msg("relay rate limited, dropping message")
		return
	}

	target := r.Settings().String(KeyChannel)
	for _, line := range splitMessage(format(m), maxLineLen) {
		c.Message(target, line)
	}
	r.relayed.Add(1)
}

func format(m domain.ChatMessage) string {
	if m.IsPrivate() {
		return fmt.Sprintf("[pm] %s: %s", m.From, m.Text)
	}
	return fmt.Sprintf("%s: %s", m.From, m.Text)
}

func (r *Relay) current() Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client
}

func (r *Relay) join() {
	c := r.current()
	if c == nil {
		return
	}
	ch := r.Settings().String(KeyChannel)
	r.Log().Info().Str("channel", ch).Msg("joining channel")
	c.Join(ch)
}

// rejoin follows a channel change while connected. The previous channel is
// left to the server's idle handling.
func (r *Relay) rejoin() {
	if c := r.current(); c != nil && c.IsConnected() {
		r.join()
	}
}
