package notify

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn is an open push connection delivering text frames.
type Conn interface {
	// ReadMessage blocks for the next text frame. Control frames are handled
	// internally; a close frame or transport failure returns an error.
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens push connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials RFC 6455 WebSocket endpoints.
type WSDialer struct {
	// Timeout bounds the TCP connect and upgrade handshake.
	Timeout time.Duration
}

// Dial connects to url and performs the WebSocket upgrade.
func (d WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := ws.Dialer{Timeout: d.Timeout}
	conn, br, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &wsConn{conn: conn}
	if br != nil {
		c.rw = struct {
			io.Reader
			io.Writer
		}{br, conn}
	} else {
		c.rw = conn
	}
	return c, nil
}

type wsConn struct {
	conn      net.Conn
	rw        io.ReadWriter
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	data, err := wsutil.ReadServerText(c.rw)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return data, nil
}

// Close sends a normal closure frame and closes the socket.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
