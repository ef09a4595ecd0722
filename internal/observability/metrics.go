package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	dataObjects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgemsg",
			Subsystem: "data",
			Name:      "objects_total",
			Help:      "Edge data objects by lifecycle operation.",
		},
		[]string{"op"},
	)
	metadataDecodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgemsg",
			Subsystem: "metadata",
			Name:      "decode_failures_total",
			Help:      "Metadata blobs rejected during decode.",
		},
		[]string{"reason"},
	)
	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgemsg",
			Subsystem: "event",
			Name:      "dispatched_total",
			Help:      "Events delivered to application callbacks.",
		},
		[]string{"kind", "success"},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgemsg",
			Subsystem: "wire",
			Name:      "frames_total",
			Help:      "Frames encoded or decoded by message type.",
		},
		[]string{"direction", "type"},
	)
	frameBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgemsg",
			Subsystem: "wire",
			Name:      "frame_payload_bytes",
			Help:      "Frame payload size in bytes.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		},
		[]string{"direction"},
	)
)

// RegisterMetrics registers the collectors with the default registry once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(dataObjects, metadataDecodeFailures, events, frames, frameBytes)
	})
}

// Collectors returns every collector so callers can register them with a
// private registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{dataObjects, metadataDecodeFailures, events, frames, frameBytes}
}

func RecordDataObject(op string) {
	dataObjects.WithLabelValues(op).Inc()
}

func RecordMetadataDecodeFailure(reason string) {
	metadataDecodeFailures.WithLabelValues(reason).Inc()
}

func RecordEvent(kind string, success bool) {
	label := "false"
	if success {
		label = "true"
	}
	events.WithLabelValues(kind, label).Inc()
}

func RecordFrame(direction, messageType string, payloadLen int) {
	frames.WithLabelValues(direction, messageType).Inc()
	frameBytes.WithLabelValues(direction).Observe(float64(payloadLen))
}
