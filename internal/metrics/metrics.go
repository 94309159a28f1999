package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pumprelay"

// Drop reasons for CommandsDropped.
const (
	DropNotConnected = "not_connected"
	DropNoHandle     = "no_handle"
	DropSendFailed   = "send_failed"
)

// Metrics holds the relay's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	CommandsSent     prometheus.Counter
	CommandsDropped  *prometheus.CounterVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	CacheBusts       prometheus.Counter
	EventsForwarded  *prometheus.CounterVec
	RequestsRejected prometheus.Counter
	ConnectAttempts  prometheus.Counter
	ConnectionState  prometheus.Gauge
	PublishFailures  prometheus.Counter
	PublishesDropped prometheus.Counter
	QueueDepth       prometheus.Gauge
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CommandsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "commands_sent_total",
			Help: "Commands handed to the pump session.",
		}),
		CommandsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "commands_dropped_total",
			Help: "Commands dropped instead of being sent, by reason.",
		}, []string{"reason"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_hits_total",
			Help: "Cached reads answered from the response cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_misses_total",
			Help: "Cached reads that fell through to the pump.",
		}),
		CacheBusts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_busts_total",
			Help: "Cache entries removed by bust-cache requests.",
		}),
		EventsForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_forwarded_total",
			Help: "Events handed to the host transport, by topic.",
		}, []string{"topic"}),
		RequestsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_rejected_total",
			Help: "Inbound requests rejected because their payload did not decode.",
		}),
		ConnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connect_attempts_total",
			Help: "Scan attempts made by the pump session.",
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connection_state",
			Help: "Current connection state (0 uninitialized, 1 scanning, 2 connected, 3 disconnected, 4 critical error).",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "transport_publish_failures_total",
			Help: "Per-node message deliveries that failed.",
		}),
		PublishesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "transport_publishes_dropped_total",
			Help: "Outbound messages dropped because the send queue was full.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "worker_queue_depth",
			Help: "Items waiting in the command worker queue.",
		}),
	}
	m.registry.MustRegister(
		m.CommandsSent, m.CommandsDropped, m.CacheHits, m.CacheMisses, m.CacheBusts,
		m.EventsForwarded, m.RequestsRejected, m.ConnectAttempts, m.ConnectionState,
		m.PublishFailures, m.PublishesDropped, m.QueueDepth,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CommandSent() {
	if m != nil {
		m.CommandsSent.Inc()
	}
}

func (m *Metrics) CommandDropped(reason string) {
	if m != nil {
		m.CommandsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) CacheBust() {
	if m != nil {
		m.CacheBusts.Inc()
	}
}

func (m *Metrics) EventForwarded(topic string) {
	if m != nil {
		m.EventsForwarded.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) RequestRejected() {
	if m != nil {
		m.RequestsRejected.Inc()
	}
}

func (m *Metrics) ConnectAttempt() {
	if m != nil {
		m.ConnectAttempts.Inc()
	}
}

func (m *Metrics) SetConnectionState(state int) {
	if m != nil {
		m.ConnectionState.Set(float64(state))
	}
}

func (m *Metrics) PublishFailed() {
	if m != nil {
		m.PublishFailures.Inc()
	}
}

func (m *Metrics) PublishDropped() {
	if m != nil {
		m.PublishesDropped.Inc()
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}
