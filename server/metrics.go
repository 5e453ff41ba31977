package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Route labels for requests that never reached a handler chain.
const (
	unknownRouteLabel = "<unknown>"
	invalidRouteLabel = "<invalid>"
)

// Metrics holds the server's Prometheus collectors on a private registry, so
// several servers can live in one process. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	faults      *prometheus.CounterVec
	broadcasts  *prometheus.CounterVec
	connections prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "especial"
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "requests_total",
				Help:      "Requests dispatched by route and response status.",
			},
			[]string{"route", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Time spent running a request's handler chain.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		faults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "faults_total",
				Help:      "Handler chains aborted by an error or panic.",
			},
			[]string{"route"},
		),
		broadcasts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "broadcast",
				Name:      "messages_total",
				Help:      "Broadcast deliveries by result.",
			},
			[]string{"result"},
		),
		connections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "connections",
				Help:      "Currently open connections.",
			},
		),
	}
	m.registry.MustRegister(m.requests, m.duration, m.faults, m.broadcasts, m.connections)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) requestDone(route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, status).Inc()
	if d > 0 {
		m.duration.WithLabelValues(route).Observe(d.Seconds())
	}
}

func (m *Metrics) fault(route string) {
	if m == nil {
		return
	}
	m.faults.WithLabelValues(route).Inc()
}

func (m *Metrics) broadcastDelivered() {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues("delivered").Inc()
}

func (m *Metrics) broadcastFailed() {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues("failed").Inc()
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}
