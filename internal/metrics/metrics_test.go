package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metric
				}
			}
			if metric.GetCounter() != nil {
				return metric.GetCounter().GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	return 0
}

func TestSessionLifecycle(t *testing.T) {
	m := New("")
	m.SessionStarted()
	m.SessionStarted()
	assert.Equal(t, 2.0, counterValue(t, m, "callrelay_sessions_active", nil))

	m.SessionEnded("caller_closed", 30*time.Second)
	assert.Equal(t, 1.0, counterValue(t, m, "callrelay_sessions_active", nil))
	assert.Equal(t, 1.0, counterValue(t, m, "callrelay_sessions_total", map[string]string{"end_reason": "caller_closed"}))
}

func TestCounters(t *testing.T) {
	m := New("test")
	m.Malformed(SideCaller)
	m.Malformed(SideCaller)
	m.Malformed(SideModel)
	m.BargeIn()
	m.ToolCall("registrar_resultado_chamada", "SUCCEEDED")
	m.Tokens(100, 50, 0.002)
	m.Dropped("model_closed")
	m.Frame(SideCaller, "in")
	m.RecordFailed()

	assert.Equal(t, 2.0, counterValue(t, m, "test_malformed_frames_total", map[string]string{"side": "caller"}))
	assert.Equal(t, 1.0, counterValue(t, m, "test_malformed_frames_total", map[string]string{"side": "model"}))
	assert.Equal(t, 1.0, counterValue(t, m, "test_barge_ins_total", nil))
	assert.Equal(t, 100.0, counterValue(t, m, "test_tokens_total", map[string]string{"direction": "input"}))
	assert.InDelta(t, 0.002, counterValue(t, m, "test_cost_usd_total", nil), 1e-9)
	assert.Equal(t, 1.0, counterValue(t, m, "test_dropped_frames_total", map[string]string{"reason": "model_closed"}))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted()
		m.SessionEnded("x", time.Second)
		m.Frame(SideModel, "out")
		m.Malformed(SideModel)
		m.Dropped("x")
		m.BargeIn()
		m.ToolCall("t", "FAILED")
		m.Tokens(1, 1, 1)
		m.RecordFailed()
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New("")
	m.BargeIn()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "callrelay_barge_ins_total 1")
}
