package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/gorilla/websocket"
)

// Config holds the connection settings for the model endpoint.
type Config struct {
	URL            string
	APIKey         string
	Model          string
	Temperature    float64
	WriteTimeout   time.Duration
	MaxMessageSize int64
	Mock           bool
}

// Client is a WebSocket connection to the realtime model.
type Client struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closed    core.Fuse
	closeOnce sync.Once
	closeErr  error
}

// Dial opens the model connection with a bearer credential.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	endpoint, err := endpointURL(cfg)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime model: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial realtime model: %w", err)
	}
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:         conn,
		writeTimeout: cfg.WriteTimeout,
	}, nil
}

func endpointURL(cfg Config) (string, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid realtime url: %w", err)
	}
	q := u.Query()
	if cfg.Model != "" {
		q.Set("model", cfg.Model)
	}
	if cfg.Temperature != 0 {
		q.Set("temperature", strconv.FormatFloat(cfg.Temperature, 'f', -1, 64))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Receive blocks until the next text event arrives.
func (c *Client) Receive() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.closed.Break()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("read realtime event: %w", err)
		}
		if messageType == websocket.TextMessage {
			return data, nil
		}
	}
}

// Send writes one event.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.IsBroken() {
		return ErrClosed
	}
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write realtime event: %w", err)
	}
	return nil
}

// IsOpen reports whether the connection is still usable.
func (c *Client) IsOpen() bool {
	return !c.closed.IsBroken()
}

// Close sends a close frame and closes the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.closed.IsBroken() {
		c.closed.Break()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}
	c.mu.Unlock()

	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
