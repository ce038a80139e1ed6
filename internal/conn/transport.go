package conn

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport opens authenticated connections to the event server.
type Transport interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// Conn is one open transport. ReadMessage is only ever called from a single
// goroutine; WriteMessage and Close may be called concurrently with it.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(frame []byte) error
	Close() error
}

type WebSocketTransport struct {
	url              string
	dialer           *websocket.Dialer
	headers          http.Header
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	pingInterval     time.Duration
	pongWait         time.Duration
	logger           *slog.Logger
}

type WebSocketOption func(*WebSocketTransport)

func WithHeaders(headers http.Header) WebSocketOption {
	return func(t *WebSocketTransport) {
		for k, v := range headers {
			t.headers[k] = v
		}
	}
}

func WithHandshakeTimeout(d time.Duration) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.handshakeTimeout = d
	}
}

// WithKeepAlive sets the client ping interval and how long the read side
// waits for any frame or pong before declaring the transport dead.
func WithKeepAlive(pingInterval, pongWait time.Duration) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.pingInterval = pingInterval
		t.pongWait = pongWait
	}
}

func WithTransportLogger(logger *slog.Logger) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.logger = logger
	}
}

func NewWebSocketTransport(rawURL string, opts ...WebSocketOption) *WebSocketTransport {
	t := &WebSocketTransport{
		url:              rawURL,
		dialer:           websocket.DefaultDialer,
		headers:          make(http.Header),
		handshakeTimeout: 10 * time.Second,
		writeTimeout:     10 * time.Second,
		pingInterval:     25 * time.Second,
		pongWait:         60 * time.Second,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Endpoint returns the websocket URL dialed for token.
func (t *WebSocketTransport) Endpoint(token string) (string, error) {
	u, err := url.Parse(t.url)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *WebSocketTransport) Dial(ctx context.Context, token string) (Conn, error) {
	endpoint, err := t.Endpoint(token)
	if err != nil {
		return nil, err
	}
	header := t.headers.Clone()
	header.Set("Authorization", "Bearer "+token)

	dialer := *t.dialer
	dialer.HandshakeTimeout = t.handshakeTimeout

	ws, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	t.logger.Debug("transport: connected", "host", ws.RemoteAddr().String())
	return newWSConn(ws, t.writeTimeout, t.pingInterval, t.pongWait), nil
}

type wsConn struct {
	ws           *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	pongWait     time.Duration
	done         chan struct{}
	closeOnce    sync.Once
}

func newWSConn(ws *websocket.Conn, writeTimeout, pingInterval, pongWait time.Duration) *wsConn {
	c := &wsConn{
		ws:           ws,
		writeTimeout: writeTimeout,
		pongWait:     pongWait,
		done:         make(chan struct{}),
	}
	if pongWait > 0 {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
	}
	if pingInterval > 0 {
		go c.pingLoop(pingInterval)
	}
	return c
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		select {
		case <-c.done:
			return nil, ErrConnClosed
		default:
		}
		return nil, err
	}
	if c.pongWait > 0 {
		c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
	}
	return data, nil
}

func (c *wsConn) WriteMessage(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
