// Package metrics defines the Prometheus metrics of a broker. Metrics are
// created per registry so several brokers can live in one process.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spacebrew"

// Metrics holds every metric of one broker. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Clients     prometheus.Gauge
	Routes      prometheus.Gauge
	Connections prometheus.Gauge
	Admins      prometheus.Gauge

	MessagesPublished  prometheus.Counter
	Deliveries         prometheus.Counter
	DeliveryFailures   prometheus.Counter
	AdminNotifications prometheus.Counter
	AdminFailures      prometheus.Counter

	// Transport metrics
	TransportConnections *prometheus.GaugeVec
	InvalidMessages      *prometheus.CounterVec

	// API metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
}

// New creates the metrics and registers them with a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates the metrics and registers them with reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clients_total",
			Help:      "Number of registered clients",
		}),
		Routes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "routes_total",
			Help:      "Number of registered routes",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Number of live publisher to subscriber connections",
		}),
		Admins: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "admins_total",
			Help:      "Number of registered admins",
		}),
		MessagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Total number of messages published by clients",
		}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Total number of messages handed to subscriber callbacks",
		}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Total number of subscriber callbacks that failed",
		}),
		AdminNotifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_notifications_total",
			Help:      "Total number of notifications handed to admin sinks",
		}),
		AdminFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_notification_failures_total",
			Help:      "Total number of admin sink notifications that failed",
		}),
		TransportConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_connections",
			Help:      "Open transport connections by transport",
		}, []string{"transport"}),
		InvalidMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_messages_total",
			Help:      "Inbound messages dropped as invalid, by transport",
		}, []string{"transport"}),
		APIRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total number of API requests by method and status",
		}, []string{"method", "status"}),
		APIRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		m.Clients,
		m.Routes,
		m.Connections,
		m.Admins,
		m.MessagesPublished,
		m.Deliveries,
		m.DeliveryFailures,
		m.AdminNotifications,
		m.AdminFailures,
		m.TransportConnections,
		m.InvalidMessages,
		m.APIRequestsTotal,
		m.APIRequestDuration,
	)
	return m
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetTopology records the current registry sizes.
func (m *Metrics) SetTopology(clients, routes, connections, admins int) {
	if m == nil {
		return
	}
	m.Clients.Set(float64(clients))
	m.Routes.Set(float64(routes))
	m.Connections.Set(float64(connections))
	m.Admins.Set(float64(admins))
}

// Published counts one published message.
func (m *Metrics) Published() {
	if m == nil {
		return
	}
	m.MessagesPublished.Inc()
}

// Delivered counts one subscriber delivery and whether it failed.
func (m *Metrics) Delivered(err error) {
	if m == nil {
		return
	}
	m.Deliveries.Inc()
	if err != nil {
		m.DeliveryFailures.Inc()
	}
}

// Notified counts one admin notification and whether it failed.
func (m *Metrics) Notified(err error) {
	if m == nil {
		return
	}
	m.AdminNotifications.Inc()
	if err != nil {
		m.AdminFailures.Inc()
	}
}

// TransportOpened tracks a new connection on transport.
func (m *Metrics) TransportOpened(transport string) {
	if m == nil {
		return
	}
	m.TransportConnections.WithLabelValues(transport).Inc()
}

// TransportClosed tracks a closed connection on transport.
func (m *Metrics) TransportClosed(transport string) {
	if m == nil {
		return
	}
	m.TransportConnections.WithLabelValues(transport).Dec()
}

// InvalidMessage counts an inbound message dropped by transport.
func (m *Metrics) InvalidMessage(transport string) {
	if m == nil {
		return
	}
	m.InvalidMessages.WithLabelValues(transport).Inc()
}

// ObserveRequest records one API request.
func (m *Metrics) ObserveRequest(method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.APIRequestsTotal.WithLabelValues(method, status).Inc()
	m.APIRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// Timer measures the duration of an operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in h.
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}
