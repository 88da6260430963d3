package realtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	ws "github.com/coder/websocket"
)

const readLimit = 1 << 20

// Dialer opens a transport connection authenticated with token.
type Dialer interface {
	Dial(ctx context.Context, url, token string) (Conn, error)
}

// Conn is one open transport connection carrying text frames.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// WebSocketDialer dials with github.com/coder/websocket.
type WebSocketDialer struct {
	HTTPClient       *http.Client
	HandshakeTimeout time.Duration
}

func (d WebSocketDialer) Dial(ctx context.Context, url, token string) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, resp, err := ws.Dial(ctx, url, &ws.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: http.Header{"Authorization": {"Bearer " + token}},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(readLimit)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *ws.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		if ws.CloseStatus(err) == ws.StatusPolicyViolation {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, ws.MessageText, data)
}

func (c *wsConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *wsConn) Close() error {
	return c.conn.Close(ws.StatusNormalClosure, "")
}
