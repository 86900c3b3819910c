package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
)

const namespace = "tenant_rag"

// HTTPServerMetrics serves /metrics for the api and records answer pipeline
// outcomes. It implements ports.ResolutionMetrics.
type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
	rejectedTotal   *prometheus.CounterVec

	answersTotal        *prometheus.CounterVec
	answerRSQ           *prometheus.HistogramVec
	routeTotal          *prometheus.CounterVec
	generationFallbacks *prometheus.CounterVec
	copyPasteTotal      *prometheus.CounterVec
	engineBuildsTotal   *prometheus.CounterVec
	engineBuildDuration *prometheus.HistogramVec
	breakerState        *prometheus.GaugeVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	rejectedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rejected_total",
			Help:      "Requests rejected by traffic control.",
		},
		[]string{"service", "reason"},
	)
	answersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "answer",
			Name:      "total",
			Help:      "Resolved answers by mode.",
		},
		[]string{"service", "mode"},
	)
	answerRSQ := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "answer",
			Name:      "rsq",
			Help:      "Retrieval signal quality of resolved answers.",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
		[]string{"service"},
	)
	routeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "routes_total",
			Help:      "Model routing decisions by requested and selected tier.",
		},
		[]string{"service", "requested", "selected", "model"},
	)
	generationFallbacks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "fallbacks_total",
			Help:      "Fallback model attempts by failure reason.",
		},
		[]string{"service", "reason"},
	)
	copyPasteTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "copy_paste_total",
			Help:      "Generated answers replaced because they copied the context.",
		},
		[]string{"service"},
	)
	engineBuildsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "engine_builds_total",
			Help:      "Tenant engine builds by status.",
		},
		[]string{"service", "status"},
	)
	engineBuildDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "engine_build_duration_seconds",
			Help:      "Tenant engine build duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
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

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		rejectedTotal,
		answersTotal,
		answerRSQ,
		routeTotal,
		generationFallbacks,
		copyPasteTotal,
		engineBuildsTotal,
		engineBuildDuration,
		breakerState,
	)

	return &HTTPServerMetrics{
		registry:            registry,
		service:             service,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		rejectedTotal:       rejectedTotal,
		answersTotal:        answersTotal,
		answerRSQ:           answerRSQ,
		routeTotal:          routeTotal,
		generationFallbacks: generationFallbacks,
		copyPasteTotal:      copyPasteTotal,
		engineBuildsTotal:   engineBuildsTotal,
		engineBuildDuration: engineBuildDuration,
		breakerState:        breakerState,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	rest, ok := strings.CutPrefix(path, "/v1/tenants/")
	if !ok {
		return path
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case len(parts) == 1:
		return "/v1/tenants/{tenant}"
	case len(parts) == 2:
		return "/v1/tenants/{tenant}/" + parts[1]
	case len(parts) == 3 && parts[1] == "documents":
		return "/v1/tenants/{tenant}/documents/{document_id}"
	default:
		return "/v1/tenants/other"
	}
}

func (m *HTTPServerMetrics) RecordRejected(reason string) {
	m.rejectedTotal.WithLabelValues(m.service, reason).Inc()
}

func (m *HTTPServerMetrics) RecordAnswer(mode domain.Mode, rsq float64) {
	label := string(mode)
	if label == "" {
		label = "unknown"
	}
	m.answersTotal.WithLabelValues(m.service, label).Inc()
	m.answerRSQ.WithLabelValues(m.service).Observe(rsq)
}

func (m *HTTPServerMetrics) RecordRoute(requested, selected domain.Tier, model string) {
	m.routeTotal.WithLabelValues(m.service, string(requested), string(selected), model).Inc()
}

func (m *HTTPServerMetrics) RecordGenerationFallback(reason string) {
	m.generationFallbacks.WithLabelValues(m.service, reason).Inc()
}

func (m *HTTPServerMetrics) RecordCopyPaste() {
	m.copyPasteTotal.WithLabelValues(m.service).Inc()
}

func (m *HTTPServerMetrics) RecordEngineBuild(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.engineBuildsTotal.WithLabelValues(m.service, status).Inc()
	m.engineBuildDuration.WithLabelValues(m.service).Observe(duration.Seconds())
}

// ObserveBreaker matches resilience.StateObserver.
func (m *HTTPServerMetrics) ObserveBreaker(operation string, _, to gobreaker.State) {
	m.breakerState.WithLabelValues(m.service, operation).Set(float64(to))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
