// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the service's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bookstore",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookstore",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bookstore",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookstore",
			Subsystem: "ratelimit",
			Name:      "rejected_total",
			Help:      "Requests rejected by a rate limit rule.",
		},
		[]string{"scope"},
	)

	authFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookstore",
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Rejected authentication and authorization attempts.",
		},
		[]string{"reason"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		rateLimited,
		authFailures,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registered collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler records request counts and latency per route.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		route := Route(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordRateLimited counts a request rejected under scope.
func RecordRateLimited(scope string) {
	if scope == "" {
		scope = "unknown"
	}
	rateLimited.WithLabelValues(scope).Inc()
}

// RecordAuthFailure counts a rejected credential or permission check.
func RecordAuthFailure(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	authFailures.WithLabelValues(reason).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Route collapses ids in a request path so label cardinality stays bounded.
func Route(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "books":
		switch {
		case len(parts) == 1:
			return "/books"
		case len(parts) == 2 && parts[1] == "bulk":
			return "/books/bulk"
		case len(parts) == 2:
			return "/books/:id"
		case len(parts) == 3 && parts[2] == "image":
			return "/books/:id/image"
		}
	case "cart":
		switch len(parts) {
		case 1:
			return "/cart"
		case 2:
			return "/cart/:id"
		}
	case "admin":
		switch {
		case len(parts) == 2:
			return "/admin/" + parts[1]
		case len(parts) == 4 && parts[1] == "users":
			return "/admin/users/:username/" + parts[3]
		}
	case "images":
		return "/images"
	case "healthz", "register", "login", "categories", "search", "users":
		return "/" + trimmed
	}
	return "other"
}
