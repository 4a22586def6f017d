package httpkey

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "crypt4gh"
	subsystem = "keyserver"
)

// Metrics holds the Prometheus instrumentation of a key server.
type Metrics struct {
	// Requests counts requests by outcome: ok, bad_method, bad_path,
	// unknown_key, ecdh_failed, rate_limited.
	Requests *prometheus.CounterVec

	// ECDHDuration observes the latency of the backend ECDH computation,
	// which for agent- or network-backed keys includes their round-trip.
	ECDHDuration prometheus.Histogram

	// InFlight gauges requests currently being served.
	InFlight prometheus.Gauge
}

// NewMetrics creates and registers the key server metrics with the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Key protocol requests by outcome.",
		}, []string{"outcome"}),
		ECDHDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ecdh_duration_seconds",
			Help:      "Latency of backend ECDH computations.",
			Buckets:   prometheus.DefBuckets,
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_in_flight",
			Help:      "Requests currently being served.",
		}),
	}
}
