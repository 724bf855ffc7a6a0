// Package transport owns the network connection to the remote renderer. One
// frame per binary websocket message; the websocket connection preserves
// message ordering, so frame N is fully written before frame N+1 begins.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"vdstream/internal/grid"
	"vdstream/internal/wire"
)

// Error is a connection-level failure. It marks the connection dead; retry,
// backoff, and reconnection belong to the session loop, which knows the
// staleness budget.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Conn is an established connection to a remote renderer. A Conn is used
// from a single session goroutine; it is not safe for concurrent Sends.
type Conn interface {
	// Send transmits one frame. On failure the connection is dead and
	// every later Send fails fast.
	Send(frame *grid.Grid) error
	Close() error
}

// Dialer establishes connections to a remote renderer endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// WebsocketDialer dials ws:// frame endpoints.
type WebsocketDialer struct {
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

// Dial connects to endpoint, bounded by the connect timeout and ctx.
func (d *WebsocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	wsd := websocket.Dialer{HandshakeTimeout: d.ConnectTimeout}
	c, _, err := wsd.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, &Error{Op: "connect", Err: err}
	}
	return &wsConn{conn: c, writeTimeout: d.WriteTimeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	dead         bool
}

func (c *wsConn) Send(frame *grid.Grid) error {
	if c.dead {
		return &Error{Op: "send", Err: fmt.Errorf("connection is dead")}
	}
	msg, err := wire.Encode(frame)
	if err != nil {
		return err
	}
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			c.dead = true
			return &Error{Op: "send", Err: err}
		}
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		c.dead = true
		c.conn.Close()
		return &Error{Op: "send", Err: err}
	}
	return nil
}

func (c *wsConn) Close() error {
	c.dead = true
	return c.conn.Close()
}
