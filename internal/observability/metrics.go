package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beast_bridge",
			Name:      "frames_total",
			Help:      "Beast frames cut from the stream.",
		},
		[]string{"source"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beast_bridge",
			Name:      "decode_errors_total",
			Help:      "Inbound chunks whose remaining frames were skipped after a decode error.",
		},
		[]string{"source"},
	)
	bytesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beast_bridge",
			Name:      "bytes_dropped_total",
			Help:      "Bytes discarded because no frame could be synchronized.",
		},
		[]string{"source"},
	)
	reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beast_bridge",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts scheduled after a source closed.",
		},
		[]string{"source"},
	)
	aircraftTracked = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "beast_bridge",
			Name:      "aircraft_tracked",
			Help:      "Aircraft currently held in a source store.",
		},
		[]string{"source"},
	)
	aircraftEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beast_bridge",
			Name:      "aircraft_evicted_total",
			Help:      "Aircraft removed by the eviction sweep.",
		},
		[]string{"source"},
	)
	hubClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "beast_bridge",
			Subsystem: "hub",
			Name:      "clients",
			Help:      "Connected subscribers.",
		},
	)
	hubRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "beast_bridge",
			Subsystem: "hub",
			Name:      "rejected_total",
			Help:      "Subscribers turned away at capacity.",
		},
	)
	hubMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beast_bridge",
			Subsystem: "hub",
			Name:      "messages_total",
			Help:      "Messages queued to subscribers by type.",
		},
		[]string{"type"},
	)
	hubSendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "beast_bridge",
			Subsystem: "hub",
			Name:      "send_failures_total",
			Help:      "Subscribers dropped after a failed or backed-up send.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesTotal, decodeErrors, bytesDropped, reconnects,
			aircraftTracked, aircraftEvicted,
			hubClients, hubRejected, hubMessages, hubSendFailures,
		)
	})
}

// Handler serves the default registry
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordFrames(source string, n int) {
	if n > 0 {
		framesTotal.WithLabelValues(source).Add(float64(n))
	}
}

func RecordDecodeError(source string) {
	decodeErrors.WithLabelValues(source).Inc()
}

func RecordBytesDropped(source string, n uint64) {
	if n > 0 {
		bytesDropped.WithLabelValues(source).Add(float64(n))
	}
}

func RecordReconnect(source string) {
	reconnects.WithLabelValues(source).Inc()
}

func SetAircraftTracked(source string, n int) {
	aircraftTracked.WithLabelValues(source).Set(float64(n))
}

func RecordEvicted(source string, n int) {
	if n > 0 {
		aircraftEvicted.WithLabelValues(source).Add(float64(n))
	}
}

func SetHubClients(n int) {
	hubClients.Set(float64(n))
}

func RecordHubRejected() {
	hubRejected.Inc()
}

func RecordHubMessage(msgType string) {
	hubMessages.WithLabelValues(msgType).Inc()
}

func RecordHubSendFailure() {
	hubSendFailures.Inc()
}
