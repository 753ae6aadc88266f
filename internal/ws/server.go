// Package ws accepts telephony media streams and runs one relay per connection.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/xiaot623/gogo/callrelay/internal/adapter/realtime"
	"github.com/xiaot623/gogo/callrelay/internal/config"
	"github.com/xiaot623/gogo/callrelay/internal/hub"
	"github.com/xiaot623/gogo/callrelay/internal/media"
	"github.com/xiaot623/gogo/callrelay/internal/metrics"
	"github.com/xiaot623/gogo/callrelay/internal/relay"
	store "github.com/xiaot623/gogo/callrelay/internal/repository"
	"github.com/xiaot623/gogo/callrelay/internal/session"
	"github.com/xiaot623/gogo/callrelay/internal/tools"
)

// DialFunc opens the model side of a call.
type DialFunc func(ctx context.Context, cfg realtime.Config, log logrus.FieldLogger) (realtime.Transport, error)

// Server handles media stream WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	script   *config.Script
	policy   tools.PolicyEvaluator
	recorder store.Recorder
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
	dial     DialFunc

	// ctx is the parent of every call; cancelling it ends them all.
	ctx context.Context
	wg  sync.WaitGroup
}

// Options carries the collaborators shared by every call.
type Options struct {
	Script   *config.Script
	Policy   tools.PolicyEvaluator
	Recorder store.Recorder
	Metrics  *metrics.Metrics
	Logger   logrus.FieldLogger
	// Dial defaults to realtime.NewTransport.
	Dial DialFunc
}

// NewServer creates a media stream server. Calls run under ctx.
func NewServer(ctx context.Context, cfg *config.Config, h *hub.Hub, opts Options) *Server {
	s := &Server{
		cfg:      cfg,
		hub:      h,
		script:   opts.Script,
		policy:   opts.Policy,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		dial:     opts.Dial,
		ctx:      ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Media streams come from the telephony provider, not browsers.
				return true
			},
		},
	}
	if s.dial == nil {
		s.dial = realtime.NewTransport
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	return s
}

// HandleMediaStream upgrades the request and relays the call in the background.
func (s *Server) HandleMediaStream(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.WithError(err).Warn("failed to upgrade media stream")
		return err
	}
	conn := media.NewConn(ws, s.cfg.WriteTimeout, s.cfg.MaxMessageSize)

	sess := session.New(time.Now())
	ctx, cancel := context.WithCancelCause(s.ctx)
	s.hub.Register(sess.ID, sess.StartedAt, func() { cancel(relay.ErrHangup) })

	log := s.log.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"remote":     c.RealIP(),
	})
	log.Info("client connected")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.hub.Unregister(sess.ID)
		defer cancel(nil)
		s.serve(ctx, conn, sess, log)
	}()
	return nil
}

func (s *Server) serve(ctx context.Context, conn *media.Conn, sess *session.Session, log logrus.FieldLogger) {
	model, err := s.dial(ctx, realtime.Config{
		URL:            s.cfg.RealtimeURL,
		APIKey:         s.cfg.OpenAIAPIKey,
		Model:          s.script.Model,
		Temperature:    s.script.Temperature,
		WriteTimeout:   s.cfg.WriteTimeout,
		MaxMessageSize: s.cfg.MaxMessageSize,
		Mock:           s.cfg.IsMock(),
	}, log)
	if err != nil {
		log.WithError(err).Error("failed to connect to realtime model")
		conn.Close()
		return
	}
	log.Info("connected to realtime model")

	engine, err := relay.New(relay.Dependencies{
		Caller:   conn,
		Model:    model,
		Script:   s.script,
		Policy:   s.policy,
		Recorder: s.recorder,
		Tracker:  s.hub,
		Metrics:  s.metrics,
		Logger:   log,
		Session:  sess,
		Options: relay.Options{
			ConfigGrace:   s.cfg.ConfigGrace,
			RecordTimeout: s.cfg.RecordTimeout,
			Prices: store.Prices{
				InputPerMTok:  s.cfg.PriceInputPerMTok,
				OutputPerMTok: s.cfg.PriceOutputPerMTok,
			},
		},
	})
	if err != nil {
		log.WithError(err).Error("failed to create relay")
		model.Close()
		conn.Close()
		return
	}

	if _, err := engine.Run(ctx); err != nil {
		log.WithError(err).Error("relay failed")
		return
	}
	log.Info("client disconnected")
}

// Wait blocks until every call has finished or ctx expires.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
