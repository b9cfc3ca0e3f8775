package network

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cbodonnell/tandem/pkg/messages"
	"nhooyr.io/websocket"
)

// Conn is one open, ordered, reliable connection to the relay.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, target string) (Conn, error)
}

// WSDialer dials websocket connections.
type WSDialer struct {
	// Binary sends frames as binary messages, for binary codecs
	Binary     bool
	Header     http.Header
	HTTPClient *http.Client
}

func (d *WSDialer) Dial(ctx context.Context, target string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPHeader: d.Header,
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", target, err)
	}
	conn.SetReadLimit(messages.MaxMessageSize)
	return &wsConn{
		conn:   conn,
		binary: d.Binary,
	}, nil
}

type wsConn struct {
	conn   *websocket.Conn
	binary bool
}

func (c *wsConn) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) != -1 {
			return nil, fmt.Errorf("%w: %v", &ErrConnectionClosedByServer{}, err)
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) WriteMessage(ctx context.Context, data []byte) error {
	typ := websocket.MessageText
	if c.binary {
		typ = websocket.MessageBinary
	}
	return c.conn.Write(ctx, typ, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}
