// Package metrics provides Prometheus metrics for udpgroup.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "udpgroup"
)

// Metrics contains all Prometheus metrics for a group.
type Metrics struct {
	// Inbound metrics
	DatagramsReceived  prometheus.Counter
	BytesReceived      prometheus.Counter
	DatagramsUnmatched prometheus.Counter
	DatagramSize       prometheus.Histogram
	SocketReadErrors   prometheus.Counter

	// Delivery metrics
	Deliveries    *prometheus.CounterVec
	DeliveryDrops *prometheus.CounterVec

	// Registry metrics
	PathwaysRegistered prometheus.Gauge
	PathwaysAmbiguous  prometheus.Counter

	// Outbound metrics
	DatagramsSent       *prometheus.CounterVec
	BytesSent           *prometheus.CounterVec
	FallbackResolutions prometheus.Counter
	SendFailures        *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		// Inbound metrics
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "Total datagrams read from the group socket",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total payload bytes read from the group socket",
		}),
		DatagramsUnmatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_unmatched_total",
			Help:      "Datagrams whose sender matched no pathway",
		}),
		DatagramSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "datagram_size_bytes",
			Help:      "Size of received datagrams",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 7),
		}),
		SocketReadErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_read_errors_total",
			Help:      "Socket read failures other than close",
		}),

		// Delivery metrics
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Datagrams delivered to pathway channels",
		}, []string{"pathway"}),
		DeliveryDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_drops_total",
			Help:      "Datagrams dropped by pathway channels (full queue, rate limit, or closed)",
		}, []string{"pathway"}),

		// Registry metrics
		PathwaysRegistered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pathways_registered",
			Help:      "Number of registered pathways",
		}),
		PathwaysAmbiguous: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pathways_ambiguous_total",
			Help:      "Registrations that joined an existing key",
		}),

		// Outbound metrics
		DatagramsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_sent_total",
			Help:      "Datagrams handed to the socket by send mode",
		}, []string{"mode"}),
		BytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Payload bytes handed to the socket by send mode",
		}, []string{"mode"}),
		FallbackResolutions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_resolutions_total",
			Help:      "Positional sends resolved through a pathway identifier",
		}),
		SendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Failed sends by reason",
		}, []string{"reason"}),
	}

	return m
}

// RecordDatagramReceived records a datagram read from the socket and the
// number of channels it matched.
func (m *Metrics) RecordDatagramReceived(bytes, matched int) {
	m.DatagramsReceived.Inc()
	m.BytesReceived.Add(float64(bytes))
	m.DatagramSize.Observe(float64(bytes))
	if matched == 0 {
		m.DatagramsUnmatched.Inc()
	}
}

// RecordDelivery records one copy of a datagram written to a pathway.
func (m *Metrics) RecordDelivery(pathway string, accepted bool) {
	if accepted {
		m.Deliveries.WithLabelValues(pathway).Inc()
	} else {
		m.DeliveryDrops.WithLabelValues(pathway).Inc()
	}
}

// RecordReadError records a socket read failure.
func (m *Metrics) RecordReadError() {
	m.SocketReadErrors.Inc()
}

// RecordPathwayCreated records a pathway registration.
func (m *Metrics) RecordPathwayCreated() {
	m.PathwaysRegistered.Inc()
}

// RecordPathwayAmbiguous records a registration that joined an existing key.
func (m *Metrics) RecordPathwayAmbiguous() {
	m.PathwaysAmbiguous.Inc()
}

// RecordSend records a datagram handed to the socket.
func (m *Metrics) RecordSend(mode string, bytes int) {
	m.DatagramsSent.WithLabelValues(mode).Inc()
	m.BytesSent.WithLabelValues(mode).Add(float64(bytes))
}

// RecordFallback records a positional send resolved as a pathway.
func (m *Metrics) RecordFallback() {
	m.FallbackResolutions.Inc()
}

// RecordSendFailure records a failed send.
func (m *Metrics) RecordSendFailure(reason string) {
	m.SendFailures.WithLabelValues(reason).Inc()
}
