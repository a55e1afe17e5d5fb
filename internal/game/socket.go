package game

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/loadstone/internal/domain"
	"github.com/soyeahso/loadstone/internal/hooks"
	"github.com/soyeahso/loadstone/internal/logging"
)

var (
	// ErrNotConnected is returned when a packet is sent without a transport.
	ErrNotConnected = errors.New("socket: not connected")
	// ErrInterceptorExists is returned when an interceptor name is taken.
	ErrInterceptorExists = errors.New("socket: interceptor already installed")
)

// EmitFunc sends one packet.
type EmitFunc func(ctx context.Context, p domain.Packet) error

// Interceptor wraps the next EmitFunc in the chain. It is called again with
// a fresh next whenever the chain is rebuilt, so implementations must use the
// most recent next they were given.
type Interceptor func(next EmitFunc) EmitFunc

// SessionRecorder persists session boundaries.
type SessionRecorder interface {
	Begin(ctx context.Context, s domain.SessionInfo) error
	End(ctx context.Context, s domain.SessionInfo) error
}

type interceptor struct {
	name string
	wrap Interceptor
}

// SocketManager owns the connection to the game server: the outbound emit
// chain and the login session state.
type SocketManager struct {
	hooks *hooks.Registry
	log   *logging.Logger
	now   func() time.Time

	mu           sync.RWMutex
	transport    Transport
	interceptors []interceptor
	emit         EmitFunc
	session      domain.SessionInfo
	recorder     SessionRecorder

	sent atomic.Int64
}

func newSocketManager(r *hooks.Registry, log *logging.Logger, now func() time.Time) *SocketManager {
	s := &SocketManager{hooks: r, log: log.Sub("socket"), now: now}
	s.emit = s.send
	return s
}

// SetTransport attaches the connection packets are written to.
func (s *SocketManager) SetTransport(t Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport = t
}

// Transport returns the attached transport or nil.
func (s *SocketManager) Transport() Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transport
}

// SetRecorder attaches persistence for session boundaries.
func (s *SocketManager) SetRecorder(r SessionRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = r
}

// Emit sends a packet through the interceptor chain.
func (s *SocketManager) Emit(ctx context.Context, p domain.Packet) error {
	s.mu.RLock()
	emit := s.emit
	s.mu.RUnlock()
	return emit(ctx, p)
}

// send is the innermost emit: it writes to the transport and then notifies
// SocketManager_emit subscribers.
func (s *SocketManager) send(ctx context.Context, p domain.Packet) error {
	return s.hooks.Invoke(ctx, HookPacketSent, func() error {
		t := s.Transport()
		if t == nil {
			return ErrNotConnected
		}
		if err := t.Send(ctx, p); err != nil {
			return fmt.Errorf("send %s: %w", p, err)
		}
		s.sent.Add(1)
		return nil
	}, p)
}

// Sent returns the number of packets written to the transport.
func (s *SocketManager) Sent() int64 { return s.sent.Load() }

// Intercept installs a named interceptor as the outermost link of the emit
// chain.
func (s *SocketManager) Intercept(name string, wrap Interceptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ic := range s.interceptors {
		if ic.name == name {
			return fmt.Errorf("%w: %s", ErrInterceptorExists, name)
		}
	}
	s.interceptors = append(s.interceptors, interceptor{name: name, wrap: wrap})
	s.rebuild()
	s.log.Debug().Str("interceptor", name).Msg("emit interceptor installed")
	return nil
}

// Release removes a named interceptor. It reports whether one was removed.
func (s *SocketManager) Release(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.interceptors, func(ic interceptor) bool { return ic.name == name })
	if i < 0 {
		return false
	}
	s.interceptors = slices.Delete(s.interceptors, i, i+1)
	s.rebuild()
	s.log.Debug().Str("interceptor", name).Msg("emit interceptor released")
	return true
}

// Interceptors lists installed interceptor names, innermost first.
func (s *SocketManager) Interceptors() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.interceptors))
	for i, ic := range s.interceptors {
		names[i] = ic.name
	}
	return names
}

// rebuild recomposes the chain from the base send. Caller holds mu.
func (s *SocketManager) rebuild() {
	emit := EmitFunc(s.send)
	for _, ic := range s.interceptors {
		emit = ic.wrap(emit)
	}
	s.emit = emit
}

// LoggedIn starts a session for player and notifies subscribers. A session
// that is still active is closed first.
func (s *SocketManager) LoggedIn(ctx context.Context, player string) domain.SessionInfo {
	s.mu.Lock()
	prev := s.session
	replaced := prev.Active()
	if replaced {
		prev.EndedAt = s.now()
	}
	s.session = domain.SessionInfo{
		ID:        uuid.NewString(),
		Player:    player,
		StartedAt: s.now(),
	}
	info := s.session
	s.mu.Unlock()

	if replaced {
		s.log.Warn().Str("session", prev.ID).Msg("login while a session was active; closing it")
		s.record(ctx, prev, false)
	}
	s.record(ctx, info, true)
	s.log.Info().Str("session", info.ID).Str("player", player).Msg("logged in")
	s.hooks.Dispatch(ctx, HookLoggedIn, info)
	return info
}

// LoggedOut ends the active session and notifies subscribers. It is a no-op
// outside a session.
func (s *SocketManager) LoggedOut(ctx context.Context) error {
	s.mu.Lock()
	if !s.session.Active() {
		s.mu.Unlock()
		return nil
	}
	s.session.EndedAt = s.now()
	info := s.session
	s.mu.Unlock()

	return s.hooks.Invoke(ctx, HookLoggedOut, func() error {
		s.record(ctx, info, false)
		s.log.Info().
			Str("session", info.ID).
			Dur("duration", info.Duration(info.EndedAt)).
			Msg("logged out")
		return nil
	}, info)
}

// InSession reports whether a player is logged in.
func (s *SocketManager) InSession() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Active()
}

// Session returns the current or most recent session.
func (s *SocketManager) Session() domain.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *SocketManager) record(ctx context.Context, info domain.SessionInfo, begin bool) {
	s.mu.RLock()
	rec := s.recorder
	s.mu.RUnlock()
	if rec == nil {
		return
	}
	var err error
	if begin {
		err = rec.Begin(ctx, info)
	} else {
		err = rec.End(ctx, info)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("session", info.ID).Msg("failed to record session")
	}
}
