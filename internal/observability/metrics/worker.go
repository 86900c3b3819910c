package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
)

type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	eventsTotal     *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	eventsInFlight  prometheus.Gauge
	indexedSections *prometheus.GaugeVec
	breakerState    *prometheus.GaugeVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "tenant_events_total",
			Help:      "Processed tenant events by kind and status.",
		},
		[]string{"service", "kind", "status"},
	)
	eventDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "tenant_event_duration_seconds",
			Help:      "Tenant event processing duration in seconds by kind.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "kind"},
	)
	eventsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "tenant_events_in_flight",
			Help:      "Number of tenant events being processed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	indexedSections := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "indexed_sections",
			Help:      "Sections in the last index rebuild per tenant.",
		},
		[]string{"service", "tenant"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per operation (0 closed, 1 half-open, 2 open).",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(eventsTotal, eventDuration, eventsInFlight, indexedSections, breakerState)

	return &WorkerMetrics{
		registry:        registry,
		service:         service,
		eventsTotal:     eventsTotal,
		eventDuration:   eventDuration,
		eventsInFlight:  eventsInFlight,
		indexedSections: indexedSections,
		breakerState:    breakerState,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartEvent() {
	m.eventsInFlight.Inc()
}

func (m *WorkerMetrics) FinishEvent(kind domain.EventKind, duration time.Duration, err error) {
	m.eventsInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.eventsTotal.WithLabelValues(m.service, string(kind), status).Inc()
	m.eventDuration.WithLabelValues(m.service, string(kind)).Observe(duration.Seconds())
}

func (m *WorkerMetrics) SetIndexedSections(tenantID string, count int) {
	m.indexedSections.WithLabelValues(m.service, tenantID).Set(float64(count))
}

func (m *WorkerMetrics) ObserveBreaker(operation string, _, to gobreaker.State) {
	m.breakerState.WithLabelValues(m.service, operation).Set(float64(to))
}
