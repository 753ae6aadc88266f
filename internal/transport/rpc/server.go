// Package rpc exposes live and recorded calls over JSON-RPC.
package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xiaot623/gogo/callrelay/internal/domain"
	"github.com/xiaot623/gogo/callrelay/internal/hub"
)

const callTimeout = 5 * time.Second

// CallReader loads recorded call summaries.
type CallReader interface {
	GetCall(ctx context.Context, sessionID string) (*domain.CallSummary, error)
}

// Server serves the Relay RPC service.
type Server struct {
	mu        sync.Mutex
	listener  net.Listener
	rpcServer *rpc.Server
	log       logrus.FieldLogger
	done      chan struct{}
}

// NewServer creates a new relay RPC server.
func NewServer(h *hub.Hub, calls CallReader, log logrus.FieldLogger) (*Server, error) {
	rpcServer := rpc.NewServer()
	handler := &Handler{hub: h, calls: calls, log: log}
	if err := rpcServer.RegisterName("Relay", handler); err != nil {
		return nil, err
	}

	return &Server{
		rpcServer: rpcServer,
		log:       log,
		done:      make(chan struct{}),
	}, nil
}

// Start begins accepting RPC connections on the given address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			s.log.WithError(err).Warn("RPC accept error")
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	if err := ln.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements the Relay RPC methods.
type Handler struct {
	hub   *hub.Hub
	calls CallReader
	log   logrus.FieldLogger
}

// ActiveSessionsRequest is empty; net/rpc requires an argument.
type ActiveSessionsRequest struct{}

// ActiveSessionsResponse lists live calls.
type ActiveSessionsResponse struct {
	Sessions []hub.LiveSession `json:"sessions"`
}

// ActiveSessions returns the calls currently being relayed.
func (h *Handler) ActiveSessions(req *ActiveSessionsRequest, resp *ActiveSessionsResponse) error {
	resp.Sessions = h.hub.Snapshot()
	return nil
}

// GetCallRequest names a recorded call.
type GetCallRequest struct {
	SessionID string `json:"session_id"`
}

// GetCallResponse carries a recorded call; Found is false when it is unknown.
type GetCallResponse struct {
	Found bool                `json:"found"`
	Call  *domain.CallSummary `json:"call,omitempty"`
}

// GetCall returns a recorded call summary.
func (h *Handler) GetCall(req *GetCallRequest, resp *GetCallResponse) error {
	if req == nil || req.SessionID == "" {
		return errors.New("session_id is required")
	}
	if h.calls == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	sum, err := h.calls.GetCall(ctx, req.SessionID)
	if err != nil {
		h.log.WithError(err).WithField("session_id", req.SessionID).Error("RPC GetCall failed")
		return err
	}
	resp.Found = sum != nil
	resp.Call = sum
	return nil
}

// HangupRequest names a live call by session ID or call SID.
type HangupRequest struct {
	ID string `json:"id"`
}

// HangupResponse reports whether a live call matched.
type HangupResponse struct {
	OK bool `json:"ok"`
}

// Hangup ends a live call.
func (h *Handler) Hangup(req *HangupRequest, resp *HangupResponse) error {
	if req == nil || req.ID == "" {
		return errors.New("id is required")
	}
	resp.OK = h.hub.Hangup(req.ID)
	if resp.OK {
		h.log.WithField("id", req.ID).Info("hangup requested over RPC")
	}
	return nil
}
