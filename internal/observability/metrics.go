package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dsctl",
			Subsystem: "protocol",
			Name:      "frames_received_total",
			Help:      "Inbound frames by message kind.",
		},
		[]string{"kind"},
	)
	decodeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dsctl",
			Subsystem: "protocol",
			Name:      "decode_failures_total",
			Help:      "Datagrams that failed to decode.",
		},
	)
	commandsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dsctl",
			Subsystem: "station",
			Name:      "commands_applied_total",
			Help:      "Commands applied to the safety state machine.",
		},
		[]string{"command", "actor", "success"},
	)
	commandsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dsctl",
			Subsystem: "station",
			Name:      "commands_rejected_total",
			Help:      "Commands rejected before reaching the state machine.",
		},
		[]string{"reason"},
	)
	watchdogEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dsctl",
			Subsystem: "station",
			Name:      "watchdog_evictions_total",
			Help:      "Sessions evicted for heartbeat loss.",
		},
	)
	watchdogDisables = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dsctl",
			Subsystem: "station",
			Name:      "watchdog_disables_total",
			Help:      "Fail-safe DISABLEs forced by the watchdog.",
		},
	)
	statusBroadcasts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dsctl",
			Subsystem: "station",
			Name:      "status_broadcasts_total",
			Help:      "STATUS broadcasts sent to all sessions.",
		},
	)
	connectedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dsctl",
			Subsystem: "station",
			Name:      "connected_clients",
			Help:      "Registered sessions right now.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dsctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total monitor HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dsctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Monitor HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesReceived, decodeFailures,
			commandsApplied, commandsRejected,
			watchdogEvictions, watchdogDisables,
			statusBroadcasts, connectedClients,
			httpRequests, httpDuration,
		)
	})
}

func RecordFrame(kind string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(kind).Inc()
}

func RecordDecodeFailure() {
	RegisterMetrics()
	decodeFailures.Inc()
}

func RecordCommand(command, actor string, success bool) {
	RegisterMetrics()
	commandsApplied.WithLabelValues(command, actor, strconv.FormatBool(success)).Inc()
}

func RecordCommandRejected(reason string) {
	RegisterMetrics()
	commandsRejected.WithLabelValues(reason).Inc()
}

func RecordWatchdogEvictions(n int) {
	RegisterMetrics()
	watchdogEvictions.Add(float64(n))
}

func RecordWatchdogDisable() {
	RegisterMetrics()
	watchdogDisables.Inc()
}

func RecordBroadcast() {
	RegisterMetrics()
	statusBroadcasts.Inc()
}

func SetConnectedClients(n int) {
	RegisterMetrics()
	connectedClients.Set(float64(n))
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
