package rpc

import (
	"context"
	"fmt"
	"net"
	"net/rpc/jsonrpc"
	"net/url"
	"strings"
	"time"

	"github.com/xiaot623/gogo/callrelay/internal/domain"
	"github.com/xiaot623/gogo/callrelay/internal/hub"
)

// Client calls the Relay RPC service. Each call uses its own connection.
type Client struct {
	addr        string
	dialTimeout time.Duration
	callTimeout time.Duration
}

// NewClient creates a client for addr, which may be host:port or a URL.
func NewClient(addr string) *Client {
	return &Client{
		addr:        resolveRPCAddr(addr),
		dialTimeout: 5 * time.Second,
		callTimeout: callTimeout,
	}
}

// ActiveSessions lists live calls.
func (c *Client) ActiveSessions(ctx context.Context) ([]hub.LiveSession, error) {
	var resp ActiveSessionsResponse
	if err := c.call(ctx, "Relay.ActiveSessions", &ActiveSessionsRequest{}, &resp); err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return resp.Sessions, nil
}

// GetCall loads a recorded call; it returns nil when the call is unknown.
func (c *Client) GetCall(ctx context.Context, sessionID string) (*domain.CallSummary, error) {
	var resp GetCallResponse
	if err := c.call(ctx, "Relay.GetCall", &GetCallRequest{SessionID: sessionID}, &resp); err != nil {
		return nil, fmt.Errorf("get call %s: %w", sessionID, err)
	}
	if !resp.Found {
		return nil, nil
	}
	return resp.Call, nil
}

// Hangup ends a live call and reports whether it matched.
func (c *Client) Hangup(ctx context.Context, id string) (bool, error) {
	var resp HangupResponse
	if err := c.call(ctx, "Relay.Hangup", &HangupRequest{ID: id}, &resp); err != nil {
		return false, fmt.Errorf("hangup %s: %w", id, err)
	}
	return resp.OK, nil
}

func (c *Client) call(ctx context.Context, method string, args, reply interface{}) error {
	if c.addr == "" {
		return fmt.Errorf("rpc address is not configured")
	}
	conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if c.callTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.callTimeout))
	}

	client := jsonrpc.NewClient(conn)
	call := client.Go(method, args, reply, nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-call.Done:
		return call.Error
	}
}

func resolveRPCAddr(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "://") {
		parsed, err := url.Parse(raw)
		if err == nil && parsed.Host != "" {
			return parsed.Host
		}
	}
	return raw
}
