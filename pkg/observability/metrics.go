package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. Every
// method is safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	Turns          *prometheus.CounterVec
	ModelErrors    *prometheus.CounterVec
	ToolCalls      *prometheus.CounterVec
	StoreDegraded  *prometheus.CounterVec
	StoreErrors    *prometheus.CounterVec
	AnswerLatency  prometheus.Histogram
	ActiveSessions prometheus.Gauge
}

// NewMetrics registers instruments on a registry owned by the returned value,
// so several instances can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by result.",
		}, []string{"result"}),
		ModelErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_errors_total",
			Help:      "Model invocation failures by provider and reason.",
		}, []string{"provider", "reason"}),
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		StoreDegraded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_degraded_queries_total",
			Help:      "Session store reads served by the fallback scan, by operation.",
		}, []string{"operation"}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Session store failures by operation.",
		}, []string{"operation"}),
		AnswerLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_latency_seconds",
			Help:      "Wall clock time of one answer orchestration.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60},
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_ws_sessions",
			Help:      "Number of open websocket chat sessions.",
		}),
	}
}

func (m *Metrics) ObserveTurn(result string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveModelError(provider, reason string) {
	if m == nil {
		return
	}
	m.ModelErrors.WithLabelValues(provider, reason).Inc()
}

func (m *Metrics) ObserveToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) ObserveStoreDegraded(operation string) {
	if m == nil {
		return
	}
	m.StoreDegraded.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveStoreError(operation string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveAnswerLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.AnswerLatency.Observe(d.Seconds())
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
