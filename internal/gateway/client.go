package gateway

import (
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/loadstone/internal/logging"
)

var ErrClientClosed = errors.New("client connection closed")

// Client is one authenticated control connection.
type Client struct {
	ConnID      string
	Info        ClientInfo
	AuthMethod  string
	ConnectedAt time.Time

	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	events []string // nil receives every event
}

func newClient(conn *websocket.Conn, params ConnectParams, authMethod string) *Client {
	c := &Client{
		ConnID:      uuid.NewString(),
		Info:        params.Client,
		AuthMethod:  authMethod,
		ConnectedAt: time.Now(),
		conn:        conn,
	}
	c.Subscribe(params.Events)
	return c
}

// Send writes one frame. Writes are serialized per connection.
func (c *Client) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return c.conn.WriteJSON(f)
}

// Subscribe replaces the set of events the client receives. An empty list
// subscribes to everything.
func (c *Client) Subscribe(events []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(events) == 0 {
		c.events = nil
		return
	}
	c.events = slices.Compact(slices.Sorted(slices.Values(events)))
}

// Subscriptions returns the events the client receives.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.events == nil {
		return slices.Clone(Events)
	}
	return slices.Clone(c.events)
}

// Wants reports whether event should be delivered to the client.
func (c *Client) Wants(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.events == nil {
		return true
	}
	_, found := slices.BinarySearch(c.events, event)
	return found
}

func (c *Client) readFrame() (Frame, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Close closes the connection. Later sends fail with ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// clientSet tracks connected clients for broadcasts.
type clientSet struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *logging.Logger
}

func newClientSet(log *logging.Logger) *clientSet {
	return &clientSet{clients: make(map[string]*Client), log: log}
}

func (s *clientSet) add(c *Client) {
	s.mu.Lock()
	s.clients[c.ConnID] = c
	s.mu.Unlock()
	s.log.Info().
		Str("connId", c.ConnID).
		Str("client", c.Info.Name).
		Strs("events", c.Subscriptions()).
		Msg("client connected")
}

func (s *clientSet) remove(connID string) {
	s.mu.Lock()
	_, ok := s.clients[connID]
	delete(s.clients, connID)
	s.mu.Unlock()
	if ok {
		s.log.Info().Str("connId", connID).Msg("client disconnected")
	}
}

func (s *clientSet) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// broadcast sends f to every client subscribed to its event and returns
// how many received it.
func (s *clientSet) broadcast(f Frame) int {
	s.mu.RLock()
	targets := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		if c.Wants(f.Event) {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if err := c.Send(f); err != nil {
			s.log.Warn().Err(err).Str("connId", c.ConnID).Str("event", f.Event).Msg("event send failed")
			continue
		}
		sent++
	}
	return sent
}

func (s *clientSet) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		_ = c.Close()
		delete(s.clients, id)
	}
}
