// Package packetqueue is a plugin that rate-limits outbound game packets.
// While a session is active at most one packet leaves per interval, and
// queued movement-style packets are coalesced so only the latest intent of
// each kind is sent.
package packetqueue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soyeahso/loadstone/internal/domain"
	"github.com/soyeahso/loadstone/internal/game"
	"github.com/soyeahso/loadstone/internal/plugin"
	"github.com/soyeahso/loadstone/internal/settings"
)

const (
	Name   = "Packet Queue"
	Author = "loadstone"

	KeyInterval   = "interval"
	KeyShowStatus = "showStatus"

	DefaultInterval = 600 * time.Millisecond
	MinInterval     = 100 * time.Millisecond
	MaxInterval     = 1000 * time.Millisecond
	IntervalStep    = 50 * time.Millisecond
)

// DefaultContinuous are the action codes for move and walk-to-target.
var DefaultContinuous = []int{10, 11}

// ErrNoSocket is returned by Start when the host has no socket manager.
var ErrNoSocket = errors.New("packet queue: socket manager unavailable")

// Ticker is the subset of time.Ticker the drain loop uses.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type realTicker struct{ *time.Ticker }

func (t realTicker) Chan() <-chan time.Time { return t.C }

// Options configures a Queue.
type Options struct {
	// Interval seeds the interval setting.
	Interval time.Duration
	// Continuous lists action codes that are coalesced while queued.
	Continuous []int
	Now        func() time.Time
	NewTicker  func(d time.Duration) Ticker
}

// Status is a read-only diagnostic snapshot.
type Status struct {
	Active        bool          `json:"active"`
	QueueLength   int           `json:"queueLength"`
	Processing    bool          `json:"processing"`
	InSession     bool          `json:"inSession"`
	LastSentTime  time.Time     `json:"lastSentTime,omitzero"`
	SinceLastSent time.Duration `json:"sinceLastSent"`
	Interval      time.Duration `json:"interval"`
	Sent          int64         `json:"sent"`
	Coalesced     int64         `json:"coalesced"`
	Bypassed      int64         `json:"bypassed"`
}

// Queue is the packet queue plugin.
type Queue struct {
	*plugin.Base

	continuous []int
	now        func() time.Time
	newTicker  func(d time.Duration) Ticker

	mu           sync.Mutex
	socket       *game.SocketManager
	exec         game.Executor
	original     game.EmitFunc
	intercepting bool
	items        []domain.Packet
	processing   bool
	lastSent     time.Time
	sent         int64
	coalesced    int64
	bypassed     int64
	ticker       Ticker
	tickerDone   chan struct{}
	statusID     string

	timers atomic.Int32
}

// New creates the plugin with its settings defined.
func New(opts Options) *Queue {
	if opts.Interval == 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Continuous == nil {
		opts.Continuous = DefaultContinuous
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewTicker == nil {
		opts.NewTicker = func(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }
	}
	q := &Queue{
		Base:       plugin.NewBase(Name, Author),
		continuous: slices.Clone(opts.Continuous),
		now:        opts.Now,
		newTicker:  opts.NewTicker,
	}
	q.Settings().MustAdd(settings.Setting{
		Key:   KeyInterval,
		Text:  "Send interval (ms)",
		Kind:  settings.Range,
		Value: float64(opts.Interval.Milliseconds()),
		Min:   float64(MinInterval.Milliseconds()),
		Max:   float64(MaxInterval.Milliseconds()),
		Step:  float64(IntervalStep.Milliseconds()),
		Validate: func(v any) bool {
			ms := v.(float64)
			return ms == float64(int64(ms)) && int64(ms)%IntervalStep.Milliseconds() == 0
		},
		OnChange: q.retime,
	})
	q.Settings().MustAdd(settings.Setting{
		Key:   KeyShowStatus,
		Text:  "Show queue status",
		Kind:  settings.Checkbox,
		Value: false,
	})
	return q
}

func (q *Queue) Init(context.Context, plugin.API) error { return nil }

// Start installs the queuing interceptor and the drain timer. Calling it
// while already running does nothing.
func (q *Queue) Start(context.Context) error {
	eng := q.Game()
	if eng == nil || eng.Socket == nil {
		return ErrNoSocket
	}

	q.mu.Lock()
	if q.intercepting {
		q.mu.Unlock()
		return nil
	}
	q.socket = eng.Socket
	q.exec = eng.Executor()
	q.resetLocked()
	q.intercepting = true
	q.mu.Unlock()

	if err := eng.Socket.Intercept(Name, q.intercept); err != nil {
		q.mu.Lock()
		q.intercepting = false
		q.mu.Unlock()
		return fmt.Errorf("install interceptor: %w", err)
	}

	q.mu.Lock()
	q.startTimerLocked()
	q.mu.Unlock()

	q.Log().Info().Dur("interval", q.interval()).Ints("continuous", q.continuous).Msg("packet queue active")
	return nil
}

// Stop restores the emit chain, stops the timer, flushes every queued packet
// and resets all counters. Calling it while stopped does nothing.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.intercepting {
		q.mu.Unlock()
		return nil
	}
	socket := q.socket
	q.mu.Unlock()

	socket.Release(Name)

	q.mu.Lock()
	q.stopTimerLocked()
	q.mu.Unlock()

	n := q.flush(ctx)

	q.mu.Lock()
	q.intercepting = false
	q.original = nil
	q.resetLocked()
	q.sent, q.coalesced, q.bypassed = 0, 0, 0
	statusID := q.statusID
	q.statusID = ""
	q.mu.Unlock()

	if scope := q.UI(); scope != nil && statusID != "" {
		if err := scope.Remove(statusID); err != nil {
			q.Log().Warn().Err(err).Msg("removing status overlay")
		}
	}

	q.Log().Info().Int("flushed", n).Msg("packet queue stopped")
	return nil
}

// intercept is the emit-chain link. The chain may be rebuilt at any time,
// so the latest next is always the one packets are sent through.
func (q *Queue) intercept(next game.EmitFunc) game.EmitFunc {
	q.mu.Lock()
	q.original = next
	q.mu.Unlock()
	return q.Enqueue
}

// Enqueue accepts one outbound packet. Outside a session it is forwarded
// at once. Inside a session it is sent at once only when the queue is empty
// and a full interval has passed since the last send; otherwise it waits
// for the drain timer.
func (q *Queue) Enqueue(ctx context.Context, p domain.Packet) error {
	inSession := q.inSession()

	q.mu.Lock()
	send := q.original
	if send == nil {
		q.mu.Unlock()
		return game.ErrNotConnected
	}
	if !inSession {
		q.bypassed++
		q.mu.Unlock()
		return send(ctx, p)
	}

	now := q.now()
	if len(q.items) == 0 && !q.processing && q.sinceLastSentLocked(now) >= q.interval() {
		q.lastSent = now
		q.sent++
		q.mu.Unlock()
		return send(ctx, p)
	}

	if q.isContinuous(p.Action) {
		before := len(q.items)
		q.items = slices.DeleteFunc(q.items, func(queued domain.Packet) bool {
			return queued.Action == p.Action
		})
		q.coalesced += int64(before - len(q.items))
	}
	q.items = append(q.items, p)
	q.mu.Unlock()
	return nil
}

// Drain sends at most one queued packet. It is a no-op while another drain
// is running, when the queue is empty or torn down, outside a session, and
// when less than one interval has passed since the last send.
func (q *Queue) Drain(ctx context.Context) bool {
	inSession := q.inSession()

	q.mu.Lock()
	if q.processing || len(q.items) == 0 || !q.intercepting || !inSession {
		q.mu.Unlock()
		return false
	}
	now := q.now()
	if q.sinceLastSentLocked(now) < q.interval() {
		q.mu.Unlock()
		return false
	}
	p := q.items[0]
	q.items = q.items[1:]
	q.processing = true
	send := q.original
	q.mu.Unlock()

	err := send(ctx, p)

	q.mu.Lock()
	q.processing = false
	q.lastSent = now
	q.sent++
	q.mu.Unlock()

	if err != nil {
		q.Log().Warn().Err(err).Str("packet", p.String()).Msg("queued packet send failed")
	}
	return true
}

// flush sends every queued packet back to back and returns how many left.
func (q *Queue) flush(ctx context.Context) int {
	q.mu.Lock()
	items := q.items
	q.items = nil
	send := q.original
	q.processing = true
	q.mu.Unlock()

	for _, p := range items {
		if err := send(ctx, p); err != nil {
			q.Log().Warn().Err(err).Str("packet", p.String()).Msg("flushed packet send failed")
		}
	}

	q.mu.Lock()
	q.processing = false
	q.lastSent = q.now()
	q.sent += int64(len(items))
	q.mu.Unlock()
	return len(items)
}

// OnLoggedIn discards anything left from a previous session.
func (q *Queue) OnLoggedIn(context.Context, domain.SessionInfo) error {
	q.mu.Lock()
	dropped := len(q.items)
	q.resetLocked()
	q.mu.Unlock()
	if dropped > 0 {
		q.Log().Warn().Int("dropped", dropped).Msg("discarded packets queued before login")
	}
	return nil
}

// OnLoggedOut flushes the queue so no user action is lost, then resets.
func (q *Queue) OnLoggedOut(ctx context.Context, _ domain.SessionInfo) error {
	n := q.flush(ctx)
	q.mu.Lock()
	q.resetLocked()
	q.mu.Unlock()
	if n > 0 {
		q.Log().Debug().Int("flushed", n).Msg("flushed packet queue on logout")
	}
	return nil
}

// OnGameLoopDraw keeps the status overlay in step with the showStatus
// setting.
func (q *Queue) OnGameLoopDraw(context.Context) error {
	scope := q.UI()
	if scope == nil {
		return nil
	}
	q.mu.Lock()
	id := q.statusID
	q.mu.Unlock()

	if !q.Settings().Bool(KeyShowStatus) {
		if id != "" {
			q.mu.Lock()
			q.statusID = ""
			q.mu.Unlock()
			return scope.Remove(id)
		}
		return nil
	}
	if id == "" {
		el, err := scope.Create("div", "")
		if err != nil {
			return err
		}
		_ = scope.SetAttr(el.ID, "class", "packet-queue-status")
		id = el.ID
		q.mu.Lock()
		q.statusID = id
		q.mu.Unlock()
	}
	return scope.SetText(id, q.Status().Line())
}

// Status returns a diagnostic snapshot.
func (q *Queue) Status() Status {
	inSession := q.inSession()
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	st := Status{
		Active:       q.intercepting,
		QueueLength:  len(q.items),
		Processing:   q.processing,
		InSession:    inSession,
		LastSentTime: q.lastSent,
		Interval:     q.interval(),
		Sent:         q.sent,
		Coalesced:    q.coalesced,
		Bypassed:     q.bypassed,
	}
	if !q.lastSent.IsZero() {
		st.SinceLastSent = now.Sub(q.lastSent)
	}
	return st
}

// Line renders the status as one overlay line.
func (s Status) Line() string {
	return fmt.Sprintf("queue %d | last send %s ago | every %s",
		s.QueueLength, s.SinceLastSent.Round(time.Millisecond), s.Interval)
}

// Timers returns the number of live drain timers.
func (q *Queue) Timers() int { return int(q.timers.Load()) }

func (q *Queue) inSession() bool {
	q.mu.Lock()
	socket := q.socket
	q.mu.Unlock()
	return socket != nil && socket.InSession()
}

func (q *Queue) interval() time.Duration {
	return time.Duration(q.Settings().Number(KeyInterval)) * time.Millisecond
}

func (q *Queue) isContinuous(action int) bool {
	return slices.Contains(q.continuous, action)
}

// sinceLastSentLocked is unbounded when nothing has been sent yet.
func (q *Queue) sinceLastSentLocked(now time.Time) time.Duration {
	if q.lastSent.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(q.lastSent)
}

func (q *Queue) resetLocked() {
	q.items = nil
	q.processing = false
	q.lastSent = time.Time{}
}

// retime restarts a running drain timer at the current interval.
func (q *Queue) retime() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.intercepting || q.ticker == nil {
		return
	}
	q.stopTimerLocked()
	q.startTimerLocked()
}

func (q *Queue) startTimerLocked() {
	if q.ticker != nil {
		return
	}
	t := q.newTicker(q.interval())
	done := make(chan struct{})
	q.ticker, q.tickerDone = t, done
	q.timers.Add(1)

	exec := q.exec
	go func() {
		for {
			select {
			case <-done:
				return
			case <-t.Chan():
				exec.Post(func(ctx context.Context) { q.Drain(ctx) })
			}
		}
	}()
}

func (q *Queue) stopTimerLocked() {
	if q.ticker == nil {
		return
	}
	q.ticker.Stop()
	close(q.tickerDone)
	q.ticker, q.tickerDone = nil, nil
	q.timers.Add(-1)
}
