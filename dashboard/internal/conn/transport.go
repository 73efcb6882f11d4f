package conn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Close codes used by the manager.
const (
	CloseNormalClosure = websocket.CloseNormalClosure
	CloseAbnormal      = websocket.CloseAbnormalClosure
)

// Transport is one open message-oriented connection.
// WriteMessage and Close must be safe to call concurrently with each other;
// ReadMessage is only called from the manager's reader goroutine.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close(code int, reason string) error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// CloseCode extracts the WebSocket close code from a read error.
// Errors without a close frame report 1006 (abnormal closure).
func CloseCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CloseAbnormal
}

// WebSocketDialer dials gorilla/websocket connections.
type WebSocketDialer struct {
	dialer *websocket.Dialer
	header http.Header
}

// NewWebSocketDialer creates a dialer. header is sent with the handshake
// (e.g. Authorization) and may be nil.
func NewWebSocketDialer(handshakeTimeout time.Duration, header http.Header) *WebSocketDialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &WebSocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		header: header,
	}
}

// Dial opens a WebSocket connection.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, d.header)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, fmt.Errorf("handshake rejected: %s", resp.Status)
		}
		return nil, err
	}
	return &wsTransport{conn: conn}, nil
}

// wsTransport serializes writes; gorilla connections allow one concurrent
// writer and one concurrent reader.
type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	return t.conn.Close()
}
