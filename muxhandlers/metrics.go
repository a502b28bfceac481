package muxhandlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vitalvas/relay/mux"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute labels requests that matched no pattern-bearing route.
const unmatchedRoute = "unmatched"

// MetricsConfig configures the Metrics middleware.
type MetricsConfig struct {
	// Registerer receives the collectors. Defaults to
	// prometheus.DefaultRegisterer. Collectors already registered by an
	// earlier call are reused, so several pipelines can share them.
	Registerer prometheus.Registerer

	// Namespace and Subsystem prefix the metric names.
	Namespace string
	Subsystem string

	// Buckets are the request duration histogram buckets, in seconds.
	// Defaults to prometheus.DefBuckets.
	Buckets []float64
}

type httpMetrics struct {
	inflight prometheus.Gauge
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	size     *prometheus.HistogramVec
}

// MetricsMiddleware returns a step that records Prometheus metrics for
// every request passing through it:
//
//   - http_requests_total{method,route,status}
//   - http_request_duration_seconds{method,route}
//   - http_response_size_bytes{method,route}
//   - http_inflight_requests
//
// route is the matched route pattern (Context.Route), or "unmatched", so
// label cardinality stays bounded by the route table. Durations carry the
// trace ID as exemplar when a sampled span is active.
func MetricsMiddleware(cfg MetricsConfig) (mux.Handler, error) {
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	m := &httpMetrics{}
	var err error

	m.inflight, err = registerCollector(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "http_inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	}))
	if err != nil {
		return nil, err
	}

	m.requests, err = registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"}))
	if err != nil {
		return nil, err
	}

	m.duration, err = registerCollector(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "http_request_duration_seconds",
		Help:      "Request latency by method and route.",
		Buckets:   buckets,
	}, []string{"method", "route"}))
	if err != nil {
		return nil, err
	}

	m.size, err = registerCollector(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "http_response_size_bytes",
		Help:      "Response size by method and route.",
		Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
	}, []string{"method", "route"}))
	if err != nil {
		return nil, err
	}

	return mux.HandlerFunc(m.serve), nil
}

func (m *httpMetrics) serve(c *mux.Context) mux.Result {
	m.inflight.Inc()
	defer m.inflight.Dec()

	res := c.Next()

	method := methodLabel(c.Request.Method)

	route := c.Route()
	if route == "" {
		route = unmatchedRoute
	}

	status := strconv.Itoa(outcomeStatus(c, res))
	m.requests.WithLabelValues(method, route, status).Inc()

	elapsed := time.Since(c.Started()).Seconds()
	obs := m.duration.WithLabelValues(method, route)

	sc := trace.SpanContextFromContext(c.Request.Context())
	if eo, ok := obs.(prometheus.ExemplarObserver); ok && sc.IsValid() && sc.IsSampled() {
		eo.ObserveWithExemplar(elapsed, prometheus.Labels{"trace_id": sc.TraceID().String()})
	} else {
		obs.Observe(elapsed)
	}

	m.size.WithLabelValues(method, route).Observe(float64(c.ResponseSize()))

	return res
}

// registerCollector registers col, or returns the collector of the same
// description registered before.
func registerCollector[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}

		var zero T
		return zero, fmt.Errorf("metrics: register collector: %w", err)
	}

	return col, nil
}

// methodLabel folds non-standard methods into one label value.
func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodConnect,
		http.MethodOptions, http.MethodTrace:
		return method
	}

	return "OTHER"
}
