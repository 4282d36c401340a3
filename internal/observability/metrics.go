package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tclink"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "farm",
			Name:      "frames_total",
			Help:      "Validated frames by virtual channel, type and FARM-1 outcome.",
		},
		[]string{"vcid", "type", "outcome"},
	)
	frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "errors_total",
			Help:      "Frames dropped before FARM-1 processing.",
		},
		[]string{"reason"},
	)
	ignoredFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "ignored_total",
			Help:      "Frames addressed to a virtual channel this receiver does not own.",
		},
	)
	reassemblyErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "map",
			Name:      "reassembly_errors_total",
			Help:      "Packet extraction failures after frame acceptance.",
		},
		[]string{"vcid", "map_id", "reason"},
	)
	packetsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "packets_total",
			Help:      "Space packets handed to their destination.",
		},
		[]string{"destination"},
	)
	packetBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "packet_bytes",
			Help:      "Size of delivered space packets.",
			Buckets:   prometheus.ExponentialBuckets(8, 2, 10),
		},
	)
	clcwWord = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "farm",
			Name:      "clcw",
			Help:      "Last reported Communications Link Control Word.",
		},
	)
	connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "connections",
			Help:      "Open frame ingest connections.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			framesTotal, frameErrors, ignoredFrames, reassemblyErrors,
			packetsDelivered, packetBytes, clcwWord, connections,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrame(vcid uint8, frameType, outcome string) {
	RegisterMetrics()
	framesTotal.WithLabelValues(strconv.Itoa(int(vcid)), frameType, outcome).Inc()
}

func RecordFrameError(reason string) {
	RegisterMetrics()
	frameErrors.WithLabelValues(reason).Inc()
}

func RecordIgnoredFrame() {
	RegisterMetrics()
	ignoredFrames.Inc()
}

func RecordReassemblyError(vcid, mapID uint8, reason string) {
	RegisterMetrics()
	reassemblyErrors.WithLabelValues(strconv.Itoa(int(vcid)), strconv.Itoa(int(mapID)), reason).Inc()
}

func RecordPacketDelivered(destination string, size int) {
	RegisterMetrics()
	packetsDelivered.WithLabelValues(destination).Inc()
	packetBytes.Observe(float64(size))
}

func SetCLCW(word uint32) {
	RegisterMetrics()
	clcwWord.Set(float64(word))
}

func ConnectionOpened() {
	RegisterMetrics()
	connections.Inc()
}

func ConnectionClosed() {
	RegisterMetrics()
	connections.Dec()
}
