package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	chunksRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scantap",
			Subsystem: "acquire",
			Name:      "chunks_total",
			Help:      "Transport chunks consumed.",
		},
		[]string{"instrument"},
	)
	bytesRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scantap",
			Subsystem: "acquire",
			Name:      "bytes_read_total",
			Help:      "Transport bytes consumed.",
		},
		[]string{"instrument"},
	)
	scansCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scantap",
			Subsystem: "acquire",
			Name:      "scans_total",
			Help:      "Completed scans.",
		},
		[]string{"instrument"},
	)
	checkpointsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scantap",
			Subsystem: "acquire",
			Name:      "checkpoints_total",
			Help:      "Checkpoint lines appended to the sink.",
		},
		[]string{"instrument"},
	)
	protocolWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scantap",
			Subsystem: "acquire",
			Name:      "protocol_warnings_total",
			Help:      "Non-fatal protocol conditions, by kind.",
		},
		[]string{"instrument", "kind"},
	)
	reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scantap",
			Subsystem: "acquire",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts against the instrument.",
		},
		[]string{"instrument"},
	)
	sessionUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "scantap",
			Subsystem: "acquire",
			Name:      "session_up",
			Help:      "1 while an acquisition session is running.",
		},
		[]string{"instrument"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scantap",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"instrument", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scantap",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"instrument", "method", "path", "status"},
	)
)

// Warning kinds for RecordProtocolWarning.
const (
	WarnTerminatorMismatch = "terminator_mismatch"
	WarnLeadInDiscard      = "leadin_discard"
	WarnGapBytes           = "gap_bytes"
	WarnDroppedFrame       = "dropped_frame"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			chunksRead, bytesRead, scansCompleted, checkpointsWritten,
			protocolWarnings, reconnects, sessionUp,
			httpRequests, httpDuration,
		)
	})
}

func RecordChunk(instrument string, bytes int) {
	RegisterMetrics()
	chunksRead.WithLabelValues(instrument).Inc()
	bytesRead.WithLabelValues(instrument).Add(float64(bytes))
}

func RecordScan(instrument string) {
	RegisterMetrics()
	scansCompleted.WithLabelValues(instrument).Inc()
}

func RecordCheckpoint(instrument string) {
	RegisterMetrics()
	checkpointsWritten.WithLabelValues(instrument).Inc()
}

func RecordProtocolWarning(instrument, kind string, n uint64) {
	RegisterMetrics()
	protocolWarnings.WithLabelValues(instrument, kind).Add(float64(n))
}

func RecordReconnect(instrument string) {
	RegisterMetrics()
	reconnects.WithLabelValues(instrument).Inc()
}

func SetSessionUp(instrument string, up bool) {
	RegisterMetrics()
	v := 0.0
	if up {
		v = 1.0
	}
	sessionUp.WithLabelValues(instrument).Set(v)
}

func RecordHTTPRequest(instrument, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(instrument, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(instrument, method, path, statusLabel).Observe(duration.Seconds())
}
