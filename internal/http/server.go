// Package http provides the internal HTTP server for operators.
package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/xiaot623/gogo/callrelay/internal/domain"
	"github.com/xiaot623/gogo/callrelay/internal/hub"
	"github.com/xiaot623/gogo/callrelay/internal/metrics"
)

const defaultListLimit = 50

// CallStore reads recorded call summaries.
type CallStore interface {
	Ping(ctx context.Context) error
	GetCall(ctx context.Context, sessionID string) (*domain.CallSummary, error)
	ListCalls(ctx context.Context, callSID string, limit int) ([]domain.CallSummary, error)
}

// Server is the internal HTTP server.
type Server struct {
	echo    *echo.Echo
	hub     *hub.Hub
	store   CallStore
	metrics *metrics.Metrics
	log     logrus.FieldLogger
}

// NewServer creates a new internal HTTP server.
func NewServer(h *hub.Hub, store CallStore, m *metrics.Metrics, log logrus.FieldLogger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		hub:     h,
		store:   store,
		metrics: m,
		log:     log,
	}

	// Register routes
	e.GET("/health", s.handleHealth)
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}
	e.GET("/calls", s.handleListCalls)
	e.GET("/calls/:session_id", s.handleGetCall)
	e.GET("/sessions", s.handleListSessions)
	e.DELETE("/sessions/:id", s.handleHangup)

	return s
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets the server be mounted in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := map[string]interface{}{
		"status":   "healthy",
		"sessions": s.hub.Count(),
	}
	if s.store != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.log.WithError(err).Warn("database ping failed")
			resp["status"] = "degraded"
			resp["database"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
		resp["database"] = "ok"
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetCall(c echo.Context) error {
	if s.store == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "call not found"})
	}
	sum, err := s.store.GetCall(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		s.log.WithError(err).Error("failed to load call")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load call"})
	}
	if sum == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "call not found"})
	}
	return c.JSON(http.StatusOK, sum)
}

// ListCallsResponse is the body of GET /calls.
type ListCallsResponse struct {
	Calls []domain.CallSummary `json:"calls"`
}

func (s *Server) handleListCalls(c echo.Context) error {
	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		}
		limit = n
	}

	resp := ListCallsResponse{Calls: []domain.CallSummary{}}
	if s.store == nil {
		return c.JSON(http.StatusOK, resp)
	}
	calls, err := s.store.ListCalls(c.Request().Context(), c.QueryParam("call_sid"), limit)
	if err != nil {
		s.log.WithError(err).Error("failed to list calls")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list calls"})
	}
	if calls != nil {
		resp.Calls = calls
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": s.hub.Snapshot(),
	})
}

func (s *Server) handleHangup(c echo.Context) error {
	id := c.Param("id")
	if !s.hub.Hangup(id) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	s.log.WithField("id", id).Info("hangup requested")
	return c.JSON(http.StatusAccepted, map[string]bool{"ok": true})
}
