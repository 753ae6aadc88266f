package ws

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/callrelay/internal/adapter/realtime"
	"github.com/xiaot623/gogo/callrelay/internal/config"
	"github.com/xiaot623/gogo/callrelay/internal/domain"
	"github.com/xiaot623/gogo/callrelay/internal/hub"
	"github.com/xiaot623/gogo/callrelay/internal/relay"
)

type chanRecorder chan domain.CallSummary

func (r chanRecorder) RecordOutcome(ctx context.Context, sum domain.CallSummary) error {
	r <- sum
	return nil
}

type testEnv struct {
	hub      *hub.Hub
	server   *Server
	recorder chanRecorder
	logs     *logtest.Hook
	url      string
	cancel   context.CancelFunc
}

func newTestEnv(t *testing.T, dial DialFunc) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Mode:           config.ModeMock,
		ConfigGrace:    10 * time.Millisecond,
		RecordTimeout:  time.Second,
		WriteTimeout:   time.Second,
		MaxMessageSize: 1 << 20,
	}
	logger, hook := logtest.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	env := &testEnv{
		hub:      hub.NewHub(),
		recorder: make(chanRecorder, 4),
		logs:     hook,
		cancel:   cancel,
	}
	env.server = NewServer(ctx, cfg, env.hub, Options{
		Script:   config.DefaultScript(),
		Recorder: env.recorder,
		Logger:   logger,
		Dial:     dial,
	})

	e := echo.New()
	e.GET("/media-stream", env.server.HandleMediaStream)
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	env.url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/media-stream"
	return env
}

func (env *testEnv) connect(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(env.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (env *testEnv) summary(t *testing.T) domain.CallSummary {
	t.Helper()
	select {
	case sum := <-env.recorder:
		return sum
	case <-time.After(3 * time.Second):
		t.Fatal("no call summary recorded")
		return domain.CallSummary{}
	}
}

func sendStart(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{
		"event": "start",
		"start": map[string]any{"streamSid": "SD1", "callSid": "CA1"},
	}))
}

func TestMediaStreamRelaysMockModel(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.connect(t)

	sendStart(t, conn)
	for i := 0; i < 100; i++ {
		require.NoError(t, conn.WriteJSON(map[string]any{
			"event": "media",
			"media": map[string]any{"timestamp": i * 20, "payload": "//////////8="},
		}))
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "media", frame["event"])
	assert.Equal(t, "SD1", frame["streamSid"])
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "mark", frame["event"])

	live, ok := env.hub.Get("CA1")
	require.True(t, ok)
	assert.Equal(t, "SD1", live.StreamSID)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	sum := env.summary(t)
	assert.Equal(t, "CA1", sum.CallSID)
	assert.Equal(t, live.SessionID, sum.SessionID)
	assert.Equal(t, relay.EndCallerClosed, sum.EndReason)
	assert.Eventually(t, func() bool { return env.hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestMediaStreamRelayLogsCarryConnectionFields(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.connect(t)

	sendStart(t, conn)
	assert.Eventually(t, func() bool {
		_, ok := env.hub.Get("CA1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	conn.Close()
	sum := env.summary(t)

	var started *logrus.Entry
	for _, entry := range env.logs.AllEntries() {
		if entry.Message == "incoming stream started" {
			started = entry
		}
	}
	require.NotNil(t, started)
	assert.Equal(t, sum.SessionID, started.Data["session_id"])
	assert.Contains(t, started.Data, "remote")
	assert.Equal(t, "CA1", started.Data["call_sid"])
}

func TestMediaStreamClosesCallerWhenDialFails(t *testing.T) {
	dial := func(ctx context.Context, cfg realtime.Config, log logrus.FieldLogger) (realtime.Transport, error) {
		return nil, errors.New("handshake refused")
	}
	env := newTestEnv(t, dial)
	conn := env.connect(t)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Eventually(t, func() bool { return env.hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, env.recorder)
}

func TestMediaStreamHangup(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.connect(t)
	sendStart(t, conn)

	require.Eventually(t, func() bool {
		_, ok := env.hub.Get("CA1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, env.hub.Hangup("CA1"))

	sum := env.summary(t)
	assert.Equal(t, relay.EndHangup, sum.EndReason)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func TestWaitReturnsAfterShutdown(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.connect(t)
	sendStart(t, conn)
	require.Eventually(t, func() bool { return env.hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	env.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, env.server.Wait(ctx))
	assert.Equal(t, relay.EndShutdown, env.summary(t).EndReason)
}
