// Package metrics owns the prometheus registry shared by both binaries.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ChainSubmissions,
		ChainConfirmationSeconds,
		MirrorWrites,
		MirrorReachable,
		BusDeliveries,
	)
}

var HTTPRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	},
	[]string{"handler", "method", "status"},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"handler", "method"},
)

// ChainSubmissions counts ledger submissions by method and outcome kind.
var ChainSubmissions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tracker_chain_submissions_total",
		Help: "Ledger transaction submissions by outcome",
	},
	[]string{"method", "outcome"},
)

var ChainConfirmationSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "tracker_chain_confirmation_seconds",
		Help:    "Time from submission to terminal receipt",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 180},
	},
	[]string{"method"},
)

// MirrorWrites counts mirror synchronizer writes by event and outcome (ok | skipped | diverged).
var MirrorWrites = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tracker_mirror_writes_total",
		Help: "Mirror synchronizer writes by outcome",
	},
	[]string{"event", "outcome"},
)

var MirrorReachable = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "tracker_mirror_reachable",
		Help: "1 when the last mirror probe succeeded",
	},
)

var BusDeliveries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tracker_bus_deliveries_total",
		Help: "Event bus handler invocations by event and result",
	},
	[]string{"event", "result"},
)

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// InstrumentHandler records request count and latency under handlerName.
func InstrumentHandler(handlerName string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(wrapped, r)

		duration := time.Since(startTime).Seconds()
		HTTPRequestDuration.WithLabelValues(handlerName, r.Method).Observe(duration)
		HTTPRequestsTotal.WithLabelValues(handlerName, r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
