package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/xiaot623/gogo/callrelay/internal/config"
	"github.com/xiaot623/gogo/callrelay/internal/domain"
	"github.com/xiaot623/gogo/callrelay/internal/hub"
	"github.com/xiaot623/gogo/callrelay/internal/metrics"
	"github.com/xiaot623/gogo/callrelay/internal/testutil"
)

func newTestServer(t *testing.T) (*Server, *hub.Hub) {
	t.Helper()
	db := testutil.NewTestSQLiteStore(t)
	ctx := context.Background()
	for _, sum := range []domain.CallSummary{
		testutil.SampleSummary("sess_a", "CA1"),
		testutil.SampleSummary("sess_b", "CA2"),
	} {
		if err := db.SaveCall(ctx, &sum, 0.028); err != nil {
			t.Fatalf("SaveCall failed: %v", err)
		}
	}
	logger, _ := logtest.NewNullLogger()
	h := hub.NewHub()
	return NewServer(h, db, metrics.New(""), logger), h
}

func do(t *testing.T, handler http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, h := newTestServer(t)
	h.Register("sess_live", time.Now(), func() {})

	rec := do(t, s, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" || body["sessions"] != float64(1) || body["database"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

type failingStore struct{ CallStore }

func (failingStore) Ping(ctx context.Context) error { return errors.New("database is locked") }

func TestHealthDegradedWhenDatabaseFails(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	s := NewServer(hub.NewHub(), failingStore{}, nil, logger)

	rec := do(t, s, http.MethodGet, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestGetCall(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/calls/sess_a")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		SessionID       string `json:"session_id"`
		DurationSeconds int64  `json:"duration_seconds"`
		Outcome         struct {
			Category string `json:"resultado"`
		} `json:"outcome"`
		ToolCallLog []domain.ToolCall `json:"tool_call_log"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.SessionID != "sess_a" || body.DurationSeconds != 95 || body.Outcome.Category != "recado_deixado" {
		t.Fatalf("unexpected call: %+v", body)
	}
	if len(body.ToolCallLog) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(body.ToolCallLog))
	}

	rec = do(t, s, http.MethodGet, "/calls/missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListCalls(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/calls?call_sid=CA2")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body ListCallsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Calls) != 1 || body.Calls[0].SessionID != "sess_b" {
		t.Fatalf("unexpected calls: %+v", body.Calls)
	}

	rec = do(t, s, http.MethodGet, "/calls?limit=1")
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Calls) != 1 {
		t.Fatalf("expected limit to apply, got %d calls", len(body.Calls))
	}

	rec = do(t, s, http.MethodGet, "/calls?limit=abc")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/calls?call_sid=CA9")
	if !strings.Contains(rec.Body.String(), `"calls":[]`) {
		t.Fatalf("expected empty list, got %s", rec.Body.String())
	}
}

func TestSessionsAndHangup(t *testing.T) {
	s, h := newTestServer(t)
	hungUp := make(chan struct{}, 1)
	h.Register("sess_live", time.Now(), func() { hungUp <- struct{}{} })
	h.BindStream("sess_live", "SD1", "CA7")

	rec := do(t, s, http.MethodGet, "/sessions")
	if !strings.Contains(rec.Body.String(), `"call_sid":"CA7"`) {
		t.Fatalf("expected live session, got %s", rec.Body.String())
	}

	rec = do(t, s, http.MethodDelete, "/sessions/CA7")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	select {
	case <-hungUp:
	default:
		t.Fatal("cancel was not invoked")
	}

	rec = do(t, s, http.MethodDelete, "/sessions/nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	s.metrics.BargeIn()

	rec := do(t, s, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "callrelay_barge_ins_total 1") {
		t.Fatalf("metric missing from exposition:\n%s", rec.Body.String())
	}
}

func TestIncomingCallTwiML(t *testing.T) {
	script := config.DefaultScript()
	s := NewPublicServer(&config.Config{}, script, func(c echo.Context) error { return nil })

	req := httptest.NewRequest(http.MethodPost, "/incoming-call", nil)
	req.Host = "relay.example.com"
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("unexpected content type %q", ct)
	}
	want := `<Response>` +
		`<Say voice="Polly.Camila" language="pt-BR">Olá! Aguarde enquanto conectamos você com nosso assistente virtual da Ólos.</Say>` +
		`<Pause length="1"></Pause>` +
		`<Say voice="Polly.Camila" language="pt-BR">Pode falar!</Say>` +
		`<Connect><Stream url="wss://relay.example.com/media-stream"></Stream></Connect>` +
		`</Response>`
	if !strings.HasSuffix(rec.Body.String(), want) {
		t.Fatalf("unexpected TwiML:\n%s", rec.Body.String())
	}
}

func TestIncomingCallUsesPublicHost(t *testing.T) {
	s := NewPublicServer(&config.Config{PublicHost: "calls.example.org"}, config.DefaultScript(), func(c echo.Context) error { return nil })

	rec := do(t, s, http.MethodGet, "/incoming-call")
	if !strings.Contains(rec.Body.String(), `url="wss://calls.example.org/media-stream"`) {
		t.Fatalf("public host not used:\n%s", rec.Body.String())
	}
}

func TestRootMessage(t *testing.T) {
	s := NewPublicServer(&config.Config{}, config.DefaultScript(), func(c echo.Context) error { return nil })

	rec := do(t, s, http.MethodGet, "/")
	if !strings.Contains(rec.Body.String(), "Media Stream Server is running") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}
