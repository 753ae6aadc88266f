// Package metrics holds the Prometheus metrics of the relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sides of a relay session.
const (
	SideCaller = "caller"
	SideModel  = "model"
)

// Metrics holds all Prometheus metrics for the relay. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	FramesTotal     *prometheus.CounterVec
	MalformedFrames *prometheus.CounterVec
	DroppedFrames   *prometheus.CounterVec

	BargeInsTotal  prometheus.Counter
	ToolCallsTotal *prometheus.CounterVec

	TokensTotal  *prometheus.CounterVec
	CostUSDTotal prometheus.Counter

	RecordFailures prometheus.Counter
}

// New creates a Metrics instance with all metrics registered on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "callrelay"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of calls currently relayed",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of finished calls by end reason",
		}, []string{"end_reason"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Call duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames relayed by side and direction",
		}, []string{"side", "direction"}),
		MalformedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_frames_total",
			Help:      "Inbound frames dropped because they could not be parsed",
		}, []string{"side"}),
		DroppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Frames not forwarded by reason",
		}, []string{"reason"}),
		BargeInsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Model turns cut short by caller speech",
		}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Model function calls by tool and status",
		}, []string{"tool", "status"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Model tokens by direction",
		}, []string{"direction"}),
		CostUSDTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Estimated model cost in USD",
		}),
		RecordFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_failures_total",
			Help:      "Call summaries that could not be recorded",
		}),
	}

	registry.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.SessionDuration,
		m.FramesTotal,
		m.MalformedFrames,
		m.DroppedFrames,
		m.BargeInsTotal,
		m.ToolCallsTotal,
		m.TokensTotal,
		m.CostUSDTotal,
		m.RecordFailures,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionStarted records a call being accepted.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// SessionEnded records a call ending.
func (m *Metrics) SessionEnded(reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// Frame records one relayed frame.
func (m *Metrics) Frame(side, direction string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(side, direction).Inc()
}

// Malformed records an unparseable inbound frame.
func (m *Metrics) Malformed(side string) {
	if m == nil {
		return
	}
	m.MalformedFrames.WithLabelValues(side).Inc()
}

// Dropped records a frame that was not forwarded.
func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.DroppedFrames.WithLabelValues(reason).Inc()
}

// BargeIn records a model turn cut short.
func (m *Metrics) BargeIn() {
	if m == nil {
		return
	}
	m.BargeInsTotal.Inc()
}

// ToolCall records a resolved function call.
func (m *Metrics) ToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
}

// Tokens records token usage and its estimated cost.
func (m *Metrics) Tokens(input, output int64, costUSD float64) {
	if m == nil {
		return
	}
	if input > 0 {
		m.TokensTotal.WithLabelValues("input").Add(float64(input))
	}
	if output > 0 {
		m.TokensTotal.WithLabelValues("output").Add(float64(output))
	}
	if costUSD > 0 {
		m.CostUSDTotal.Add(costUSD)
	}
}

// RecordFailed records a call summary that could not be stored.
func (m *Metrics) RecordFailed() {
	if m == nil {
		return
	}
	m.RecordFailures.Inc()
}
