package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agrilink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agrilink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	linkAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agrilink",
			Subsystem: "link",
			Name:      "send_attempts_total",
			Help:      "Radio send attempts by outcome.",
		},
		[]string{"outcome"},
	)
	linkSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agrilink",
			Subsystem: "link",
			Name:      "sends_total",
			Help:      "Radio sends after retries by result.",
		},
		[]string{"result"},
	)
	linkSendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "agrilink",
			Subsystem: "link",
			Name:      "send_duration_seconds",
			Help:      "Radio send duration including retries.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)
	transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agrilink",
			Subsystem: "transfer",
			Name:      "sessions_total",
			Help:      "Transfer sessions by terminal state.",
		},
		[]string{"side", "outcome"},
	)
	transferPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agrilink",
			Subsystem: "transfer",
			Name:      "packets_total",
			Help:      "Transfer packets by side and result.",
		},
		[]string{"side", "result"},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agrilink",
			Subsystem: "frame",
			Name:      "frames_total",
			Help:      "Text frames by class and result.",
		},
		[]string{"channel", "tag", "result"},
	)
	records = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agrilink",
			Subsystem: "normalize",
			Name:      "records_total",
			Help:      "Normalized records by class and result.",
		},
		[]string{"class", "result"},
	)
	busQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agrilink",
			Subsystem: "bus",
			Name:      "queue_depth",
			Help:      "Records waiting for the bus consumer.",
		},
	)
	busQueueFull = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "agrilink",
			Subsystem: "bus",
			Name:      "queue_full_total",
			Help:      "Bus records rejected because the queue was full.",
		},
	)
	relayPosts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agrilink",
			Subsystem: "relay",
			Name:      "posts_total",
			Help:      "HTTP relay posts by endpoint and result.",
		},
		[]string{"endpoint", "result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			linkAttempts, linkSends, linkSendDuration,
			transfers, transferPackets,
			frames, records,
			busQueueDepth, busQueueFull,
			relayPosts,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSendAttempt(outcome string) {
	RegisterMetrics()
	linkAttempts.WithLabelValues(outcome).Inc()
}

func RecordSend(success bool, duration time.Duration) {
	RegisterMetrics()
	result := "ok"
	if !success {
		result = "exhausted"
	}
	linkSends.WithLabelValues(result).Inc()
	linkSendDuration.Observe(duration.Seconds())
}

func RecordTransfer(side, outcome string) {
	RegisterMetrics()
	transfers.WithLabelValues(side, outcome).Inc()
}

func RecordTransferPacket(side, result string) {
	RegisterMetrics()
	transferPackets.WithLabelValues(side, result).Inc()
}

func RecordFrame(channel, tag, result string) {
	RegisterMetrics()
	frames.WithLabelValues(channel, tag, result).Inc()
}

func RecordNormalize(class, result string) {
	RegisterMetrics()
	records.WithLabelValues(class, result).Inc()
}

func SetBusQueueDepth(n int) {
	RegisterMetrics()
	busQueueDepth.Set(float64(n))
}

func RecordBusQueueFull() {
	RegisterMetrics()
	busQueueFull.Inc()
}

func RecordRelayPost(endpoint string, success bool) {
	RegisterMetrics()
	relayPosts.WithLabelValues(endpoint, strconv.FormatBool(success)).Inc()
}
