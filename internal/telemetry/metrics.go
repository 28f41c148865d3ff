package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flowy"

// Metrics: Prometheus метрики движка.
type Metrics struct {
	registry *prometheus.Registry

	// Events: события жизненного цикла по типу и определению.
	Events *prometheus.CounterVec

	// Cycles: вызовы Proceed по результату.
	Cycles *prometheus.CounterVec

	// CycleDuration: длительность Proceed.
	CycleDuration *prometheus.HistogramVec

	// ActionFailures: упавшие действия по определению и шагу.
	ActionFailures *prometheus.CounterVec

	// FailedInstances: FAILED экземпляры, доступные для восстановления
	// (по данным последнего прохода sweeper).
	FailedInstances prometheus.Gauge

	// InFlight: экземпляры, обрабатываемые воркером прямо сейчас.
	InFlight prometheus.Gauge
}

// NewMetrics создаёт метрики в собственном реестре.
// Реестр также содержит стандартные метрики Go и процесса.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Workflow lifecycle events by type.",
		}, []string{"type", "definition"}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Execution cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one execution cycle.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		ActionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_failures_total",
			Help:      "Failed action invocations.",
		}, []string{"definition", "step"}),
		FailedInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "failed_instances",
			Help:      "FAILED instances eligible for recovery.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances_in_flight",
			Help:      "Instances currently processed by this worker.",
		}),
	}

	reg.MustRegister(
		m.Events,
		m.Cycles,
		m.CycleDuration,
		m.ActionFailures,
		m.FailedInstances,
		m.InFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveEvent учитывает событие жизненного цикла.
func (m *Metrics) ObserveEvent(eventType, definitionID string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(eventType, definitionID).Inc()
}

// ObserveActionFailure учитывает сбой действия.
func (m *Metrics) ObserveActionFailure(definitionID, stepID string) {
	if m == nil {
		return
	}
	m.ActionFailures.WithLabelValues(definitionID, stepID).Inc()
}

// ObserveCycle учитывает завершённый цикл.
func (m *Metrics) ObserveCycle(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(outcome).Inc()
	m.CycleDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// SetFailedInstances обновляет число FAILED экземпляров.
func (m *Metrics) SetFailedInstances(n int) {
	if m == nil {
		return
	}
	m.FailedInstances.Set(float64(n))
}

// Registry возвращает реестр метрик.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler возвращает HTTP handler для /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
