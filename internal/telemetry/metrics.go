package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ryandielhenn/zephyrquorum/pkg/quorum"
)

var (
	Registry = prometheus.NewRegistry()

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrquorum",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zephyrquorum",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			// 1ms .. ~4s.
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrquorum",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
		[]string{"op"},
	)

	// ---- Quorum ----
	VotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrquorum",
			Name:      "votes_total",
			Help:      "Quorum votes by verdict and reason.",
		},
		[]string{"outcome", "reason"},
	)

	VoteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "zephyrquorum",
			Name:      "vote_duration_seconds",
			Help:      "Wall time of quorum votes, fast paths included.",
			// 1ms .. ~8s, enough to see votes that run into the discovery window.
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrquorum",
			Name:      "probes_total",
			Help:      "Peer probes by result.",
		},
		[]string{"result"},
	)

	ElectorateSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zephyrquorum",
			Name:      "electorate_size",
			Help:      "Number of members polled by the most recent vote that polled any.",
		},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrquorum",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "zephyrquorum",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		RequestsTotal, RequestDuration, InFlight,
		VotesTotal, VoteDuration, ProbesTotal, ElectorateSize,
		buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// ---- Quorum instrumentation ----

var _ quorum.Metrics = QuorumMetrics{}

// QuorumMetrics records engine observations in the package collectors.
type QuorumMetrics struct{}

func (QuorumMetrics) ObserveVote(r quorum.Result) {
	VotesTotal.WithLabelValues(r.Outcome(), string(r.Reason)).Inc()
	VoteDuration.Observe(r.Duration.Seconds())
	// Fast paths poll nobody; keep the last real electorate.
	if r.Electorate > 0 {
		ElectorateSize.Set(float64(r.Electorate))
	}
}

func (QuorumMetrics) ObserveProbe(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	ProbesTotal.WithLabelValues(result).Inc()
}

// ---- Middleware instrumentation ----

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
// Example:
//
//	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(n.Info)))
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		InFlight.WithLabelValues(op).Inc()
		defer InFlight.WithLabelValues(op).Dec()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
