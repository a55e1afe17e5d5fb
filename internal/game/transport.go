package game

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/loadstone/internal/domain"
)

// Transport is the wire connection to the game server.
type Transport interface {
	Send(ctx context.Context, p domain.Packet) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

const (
	writeTimeout = 10 * time.Second
	maxFrameSize = 1 << 20
)

// WSTransport speaks JSON frames over a WebSocket.
type WSTransport struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// Dial connects to the game server at url.
func Dial(ctx context.Context, url string, header http.Header) (*WSTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxFrameSize)
	return &WSTransport{conn: conn}, nil
}

// Send writes p as one JSON text frame.
func (t *WSTransport) Send(_ context.Context, p domain.Packet) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteJSON(p)
}

// Receive blocks for the next inbound frame. Cancelling ctx closes the
// connection to unblock the read.
func (t *WSTransport) Receive(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { _ = t.conn.Close() })
	defer stop()
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return data, nil
}

func (t *WSTransport) Close() error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return t.conn.Close()
}
