package media

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Send after the connection has been closed.
var ErrClosed = errors.New("media connection closed")

// Conn wraps the caller WebSocket. Writes are serialized; Receive must only be
// called from one goroutine.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed core.Fuse
}

// NewConn wraps ws. A non-positive maxMessageSize leaves the read limit unset.
func NewConn(ws *websocket.Conn, writeTimeout time.Duration, maxMessageSize int64) *Conn {
	if maxMessageSize > 0 {
		ws.SetReadLimit(maxMessageSize)
	}
	return &Conn{
		ws:           ws,
		writeTimeout: writeTimeout,
	}
}

// Receive blocks until the next text frame arrives.
func (c *Conn) Receive() ([]byte, error) {
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage {
			return data, nil
		}
	}
}

// Send writes one text frame.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.IsBroken() {
		return ErrClosed
	}
	if c.writeTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write media frame: %w", err)
	}
	return nil
}

// Close sends a close frame and closes the socket. Subsequent calls are no-ops.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed.IsBroken() {
		c.mu.Unlock()
		return nil
	}
	c.closed.Break()
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.mu.Unlock()

	return c.ws.Close()
}
