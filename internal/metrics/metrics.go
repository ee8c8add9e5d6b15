package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "craveverse",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craveverse",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "craveverse",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	economyOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craveverse",
			Subsystem: "economy",
			Name:      "operations_total",
			Help:      "Economy operations by outcome code.",
		},
		[]string{"op", "outcome"},
	)

	economyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "craveverse",
			Subsystem: "economy",
			Name:      "operation_duration_seconds",
			Help:      "Duration of economy operations including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"op"},
	)

	coinsSpent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "craveverse",
			Subsystem: "economy",
			Name:      "coins_spent_total",
			Help:      "CraveCoins debited by committed purchases.",
		},
	)

	streakDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craveverse",
			Subsystem: "streak",
			Name:      "decisions_total",
			Help:      "Streak controller decisions.",
		},
		[]string{"decision"},
	)

	telemetryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "craveverse",
			Subsystem: "telemetry",
			Name:      "write_failures_total",
			Help:      "Best-effort activity log writes that failed.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		economyOps,
		economyDuration,
		coinsSpent,
		streakDecisions,
		telemetryFailures,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// Requests are labelled by chi route pattern so unmatched paths share one series.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordOperation records one economy operation. outcome is "ok" or the
// failure code surfaced to the caller.
func RecordOperation(op, outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	economyOps.WithLabelValues(op, outcome).Inc()
	economyDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func RecordSpend(coins int64) {
	if coins > 0 {
		coinsSpent.Add(float64(coins))
	}
}

func RecordStreakDecision(decision string) {
	streakDecisions.WithLabelValues(decision).Inc()
}

func RecordTelemetryFailure() {
	telemetryFailures.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
