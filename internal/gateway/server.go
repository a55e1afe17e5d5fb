// Package gateway serves the local control surface: an HTTP health check
// and an authenticated WebSocket RPC channel a settings UI uses to list
// plugins, toggle them, edit settings and watch state changes.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/loadstone/internal/config"
	"github.com/soyeahso/loadstone/internal/domain"
	"github.com/soyeahso/loadstone/internal/game"
	"github.com/soyeahso/loadstone/internal/hooks"
	"github.com/soyeahso/loadstone/internal/logging"
	"github.com/soyeahso/loadstone/internal/packetqueue"
	"github.com/soyeahso/loadstone/internal/plugin"
	"github.com/soyeahso/loadstone/internal/settings"
	"github.com/soyeahso/loadstone/internal/ui"
	"github.com/soyeahso/loadstone/internal/version"
)

// Plugins is the plugin manager surface the gateway drives.
type Plugins interface {
	Info() []plugin.Info
	SetEnabled(ctx context.Context, name string, enabled bool) error
	SetSetting(ctx context.Context, name, key string, value any) error
	Settings(name string) ([]settings.Descriptor, error)
	OnStateChange(fn func(plugin.Info))
}

// Server is the loadstone gateway HTTP + WebSocket server.
type Server struct {
	cfg      config.GatewayConfig
	auth     Authenticator
	log      *logging.Logger
	clients  *clientSet
	handlers map[string]RequestHandler
	version  string
	eventSeq atomic.Int64

	plugins Plugins
	engine  *game.Engine
	queue   *packetqueue.Queue
	ui      *ui.Manager
	exec    game.Executor

	mu          sync.Mutex
	startedAt   time.Time
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// authRateLimiter tracks failed auth attempts per IP to prevent brute-force attacks.
type authRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
}

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000 // max tracked IPs to prevent memory exhaustion
)

func newAuthRateLimiter() *authRateLimiter {
	rl := &authRateLimiter{failures: make(map[string][]time.Time)}
	go rl.periodicCleanup()
	return rl
}

// periodicCleanup removes stale entries every minute.
func (l *authRateLimiter) periodicCleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		cutoff := time.Now().Add(-authRateWindow)
		for ip, times := range l.failures {
			filtered := times[:0]
			for _, t := range times {
				if t.After(cutoff) {
					filtered = append(filtered, t)
				}
			}
			if len(filtered) == 0 {
				delete(l.failures, ip)
			} else {
				l.failures[ip] = filtered
			}
		}
		l.mu.Unlock()
	}
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	host, _, _ := net.SplitHostPort(remoteAddr)
	if host == "" {
		host = remoteAddr
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-authRateWindow)
	recent := l.failures[host]
	filtered := recent[:0]
	for _, t := range recent {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		delete(l.failures, host)
		return true
	}
	l.failures[host] = filtered
	return len(filtered) < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host, _, _ := net.SplitHostPort(remoteAddr)
	if host == "" {
		host = remoteAddr
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Enforce max entries cap to prevent memory exhaustion from DDoS
	if _, exists := l.failures[host]; !exists && len(l.failures) >= authRateMaxIPs {
		var oldestIP string
		var oldestTime time.Time
		for ip, times := range l.failures {
			if len(times) > 0 && (oldestIP == "" || times[0].Before(oldestTime)) {
				oldestIP = ip
				oldestTime = times[0]
			}
		}
		if oldestIP != "" {
			delete(l.failures, oldestIP)
		}
	}

	l.failures[host] = append(l.failures[host], time.Now())
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithPlugins attaches the plugin manager; its transitions become
// plugin.state events.
func WithPlugins(p Plugins) ServerOption {
	return func(s *Server) {
		s.plugins = p
	}
}

// WithEngine attaches the game host. Requests run on its executor and
// logins and logouts become session.state events.
func WithEngine(e *game.Engine) ServerOption {
	return func(s *Server) {
		s.engine = e
		s.exec = e.Executor()
	}
}

// WithPacketQueue exposes packet queue diagnostics.
func WithPacketQueue(q *packetqueue.Queue) ServerOption {
	return func(s *Server) {
		s.queue = q
	}
}

// WithUI exposes the overlay element tree.
func WithUI(m *ui.Manager) ServerOption {
	return func(s *Server) {
		s.ui = m
	}
}

// New creates a new gateway server.
func New(cfg config.GatewayConfig, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		auth:        NewAuthenticator(cfg.Auth),
		log:         log.Sub("gateway"),
		clients:     newClientSet(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		version:     version.Version,
		exec:        game.Inline{},
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	s.watch()
	return s
}

// watch forwards plugin transitions and session changes to clients.
func (s *Server) watch() {
	if s.plugins != nil {
		s.plugins.OnStateChange(func(info plugin.Info) {
			s.Broadcast(EventPluginState, pluginStateEvent(info))
		})
	}
	if s.engine != nil {
		session := func(kind string) hooks.Handler {
			return func(_ context.Context, c hooks.Call) error {
				info, _ := c.Arg(0).(domain.SessionInfo)
				s.Broadcast(EventSession, SessionEvent{Kind: kind, Session: info, Active: info.Active()})
				return nil
			}
		}
		s.engine.Hooks.On(game.HookLoggedIn, "gateway", session("login"))
		s.engine.Hooks.On(game.HookLoggedOut, "gateway", session("logout"))
	}
}

// Broadcast pushes an event to every client subscribed to it and returns
// how many clients received it.
func (s *Server) Broadcast(event string, payload any) int {
	f, err := newEvent(event, payload, s.eventSeq.Add(1))
	if err != nil {
		s.log.Error().Err(err).Str("event", event).Msg("encoding event")
		return 0
	}
	return s.clients.broadcast(f)
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names, sorted.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	slices.Sort(methods)
	return methods
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:      s.httpHandler(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.httpServer = srv
	s.startedAt = time.Now()
	s.mu.Unlock()

	if !strings.HasPrefix(addr, "127.0.0.1:") {
		s.log.Warn().Str("addr", addr).Msg("gateway reachable beyond loopback without TLS")
	}

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("auth", s.auth.Mode).
		Strs("methods", s.Methods()).
		Msg("gateway server ready")

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.closeAll()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Uptime is the time since Start, or zero before it.
func (s *Server) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// handleWebSocket upgrades HTTP to WebSocket and runs the connection loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited: too many failed auth attempts")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		if errors.Is(err, ErrBadCredentials) || errors.Is(err, ErrNoCredentials) {
			s.authLimiter.recordFailure(r.RemoteAddr)
		}
		conn.Close()
		return
	}

	defer func() {
		s.clients.remove(client.ConnID)
		client.Close()
	}()
	s.readLoop(client)
}

// handshake runs challenge, connect and hello. The client is registered
// before hello is sent so it cannot miss an event broadcast after it sees
// hello.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	challenge, err := newEvent(EventChallenge, Challenge{
		Nonce: uuid.NewString(),
		TS:    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}
	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, fmt.Errorf("parsing connect frame: %w", err)
	}
	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		rejectConnect(conn, frame.ID, CodeProtocol, "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}

	var params ConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		rejectConnect(conn, frame.ID, CodeInvalidParams, "invalid connect params")
		return nil, fmt.Errorf("parsing connect params: %w", err)
	}
	if params.Protocol != 0 && params.Protocol != ProtocolVersion {
		msg := fmt.Sprintf("protocol %d not supported, server speaks %d", params.Protocol, ProtocolVersion)
		rejectConnect(conn, frame.ID, CodeProtocol, msg)
		return nil, errors.New(msg)
	}
	if bad := unknownEvents(params.Events); len(bad) > 0 {
		msg := "unknown events: " + strings.Join(bad, ", ")
		rejectConnect(conn, frame.ID, CodeInvalidParams, msg)
		return nil, errors.New(msg)
	}

	method, err := s.auth.Check(params.Auth)
	if err != nil {
		rejectConnect(conn, frame.ID, CodeUnauthorized, err.Error())
		return nil, fmt.Errorf("auth: %w", err)
	}

	conn.SetReadDeadline(time.Time{})
	client := newClient(conn, params, method)

	resp, err := newResponse(frame.ID, HelloOK{
		Protocol:   ProtocolVersion,
		ConnID:     client.ConnID,
		Version:    s.version,
		Methods:    s.Methods(),
		Events:     client.Subscriptions(),
		MaxPayload: maxPayload,
	})
	if err != nil {
		return nil, fmt.Errorf("creating hello response: %w", err)
	}
	s.clients.add(client)
	if err := client.Send(resp); err != nil {
		s.clients.remove(client.ConnID)
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("client", params.Client.Name).
		Str("mode", params.Client.Mode).
		Str("auth", method).
		Msg("client authenticated")
	return client, nil
}

// readLoop processes incoming frames from an authenticated client.
func (s *Server) readLoop(client *Client) {
	for {
		frame, err := client.readFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}

		if frame.Type != FrameTypeRequest {
			s.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}
		s.dispatch(client, frame)
	}
}

// dispatch runs the handler for frame on the game executor. Handlers touch
// plugin and game state, which belongs to the executor's goroutine.
func (s *Server) dispatch(client *Client, frame Frame) {
	rc := &RequestContext{Client: client, Frame: frame, Server: s}

	handler, ok := s.handlers[frame.Method]
	if !ok {
		rc.RespondError(CodeMethodNotFound, "unknown method: "+frame.Method)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	err := s.exec.Call(ctx, func(ctx context.Context) error {
		rc.ctx = ctx
		handler(rc)
		return nil
	})
	if err != nil {
		rc.RespondError(CodeUnavailable, err.Error())
	}
}

// rejectConnect answers a failed connect and starts the close handshake.
func rejectConnect(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(newErrorResponse(reqID, code, message))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
}
