package observability_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/topperstoolkit/doubts/pkg/observability"
)

func TestMetricsCounters(t *testing.T) {
	m := observability.NewMetrics("test")
	m.ObserveTurn("answered")
	m.ObserveTurn("answered")
	m.ObserveTurn("fallback")
	m.ObserveModelError("gemini", "timeout")
	m.ObserveToolCall("offer_platform_info", "hit")
	m.ObserveStoreDegraded("read_visible")
	m.ObserveStoreError("append")
	m.ObserveAnswerLatency(1500 * time.Millisecond)
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	gt.Equal(t, testutil.ToFloat64(m.Turns.WithLabelValues("answered")), 2.0)
	gt.Equal(t, testutil.ToFloat64(m.Turns.WithLabelValues("fallback")), 1.0)
	gt.Equal(t, testutil.ToFloat64(m.ModelErrors.WithLabelValues("gemini", "timeout")), 1.0)
	gt.Equal(t, testutil.ToFloat64(m.StoreDegraded.WithLabelValues("read_visible")), 1.0)
	gt.Equal(t, testutil.ToFloat64(m.ActiveSessions), 1.0)
}

func TestMetricsIndependentRegistries(t *testing.T) {
	a := observability.NewMetrics("doubts")
	b := observability.NewMetrics("doubts")
	a.ObserveTurn("answered")
	gt.Equal(t, testutil.ToFloat64(b.Turns.WithLabelValues("answered")), 0.0)
}

func TestMetricsNilSafe(t *testing.T) {
	var m *observability.Metrics
	m.ObserveTurn("answered")
	m.ObserveModelError("gemini", "provider")
	m.ObserveStoreDegraded("read_visible")
	m.SessionOpened()
	gt.V(t, m.Handler()).NotNil()
}

func TestMetricsHandler(t *testing.T) {
	m := observability.NewMetrics("doubts")
	m.ObserveTurn("answered")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	gt.NoError(t, err)
	gt.S(t, string(body)).Contains(`doubts_turns_total{result="answered"} 1`)
}
