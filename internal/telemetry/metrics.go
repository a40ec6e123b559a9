package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrring",
			Name:      "messages_received_total",
			Help:      "Ring messages received, by kind.",
		},
		[]string{"kind"},
	)

	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrring",
			Name:      "messages_sent_total",
			Help:      "Ring messages sent, by kind and result.",
		},
		[]string{"kind", "result"},
	)

	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrring",
			Name:      "messages_dropped_total",
			Help:      "Inbound messages no handler accepted, by kind.",
		},
		[]string{"kind"},
	)

	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zephyrring",
			Name:      "handler_duration_seconds",
			Help:      "Latency of inbound message handlers.",
			// 50us .. ~400ms
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
		},
		[]string{"kind"},
	)

	HandlerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrring",
			Name:      "handler_errors_total",
			Help:      "Inbound message handlers that returned an error.",
		},
		[]string{"kind"},
	)

	InFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zephyrring",
			Name:      "in_flight_handlers",
			Help:      "Message handlers currently running.",
		},
	)

	RingMembers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zephyrring",
			Name:      "ring_members",
			Help:      "Identifiers admitted by the root directory.",
		},
	)

	JoinAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrring",
			Name:      "join_attempts_total",
			Help:      "Join requests sent to the root, by outcome.",
		},
		[]string{"outcome"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrring",
			Name:      "admin_requests_total",
			Help:      "Total number of admin HTTP requests.",
		},
		[]string{"op", "status"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrring",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "zephyrring",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		MessagesReceived, MessagesSent, MessagesDropped,
		HandlerDuration, HandlerErrors, InFlight,
		RingMembers, JoinAttempts, RequestsTotal,
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

// ObserveHandler runs a message handler and records its latency and outcome
// under kind.
func ObserveHandler(kind string, handle func() error) error {
	start := time.Now()
	InFlight.Inc()
	defer InFlight.Dec()

	MessagesReceived.WithLabelValues(kind).Inc()
	err := handle()
	if err != nil {
		HandlerErrors.WithLabelValues(kind).Inc()
	}
	HandlerDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	return err
}

// ObserveSend counts an outbound message.
func ObserveSend(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	MessagesSent.WithLabelValues(kind, result).Inc()
}

// ---- Admin HTTP instrumentation ----

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an admin http.Handler to count requests under the provided "op" label.
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
	})
}
