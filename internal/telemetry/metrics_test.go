package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Observe(t *testing.T) {
	m := NewMetrics()

	m.ObserveEvent("workflow.started", "order")
	m.ObserveEvent("workflow.started", "order")
	m.ObserveActionFailure("order", "charge")
	m.ObserveCycle("completed", 20*time.Millisecond)
	m.SetFailedInstances(3)

	if got := testutil.ToFloat64(m.Events.WithLabelValues("workflow.started", "order")); got != 2 {
		t.Errorf("events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ActionFailures.WithLabelValues("order", "charge")); got != 1 {
		t.Errorf("action failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Cycles.WithLabelValues("completed")); got != 1 {
		t.Errorf("cycles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FailedInstances); got != 3 {
		t.Errorf("failed instances = %v, want 3", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveEvent("x", "y")
	m.ObserveCycle("completed", time.Second)
	m.SetFailedInstances(1)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveCycle("waiting", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `flowy_cycles_total{outcome="waiting"} 1`) {
		t.Errorf("metrics output missing cycle counter:\n%s", body)
	}
}
