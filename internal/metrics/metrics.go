// Package metrics exposes Prometheus collectors for the live feed.
package metrics

import (
	"net/http"

	"github.com/goevery/livefeed/internal/broadcaster"
	"github.com/goevery/livefeed/internal/notification"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livefeed"

type Metrics struct {
	registry *prometheus.Registry

	announcements    *prometheus.CounterVec
	deliveries       prometheus.Counter
	deliveryFailures prometheus.Counter
	connections      *prometheus.CounterVec
	disconnections   *prometheus.CounterVec
	rejections       *prometheus.CounterVec
}

// New builds a private registry with runtime collectors and a gauge that
// reads the live connection count from the broadcast registry.
func New(registry broadcaster.Registry) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		announcements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_total",
			Help:      "Announcements broadcast, by event type.",
		}, []string{"type"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Payloads handed to a connection channel.",
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Channel writes that failed and removed the connection.",
		}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_opened_total",
			Help:      "Stream connections opened, by transport.",
		}, []string{"transport"}),
		disconnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Stream connections closed, by transport.",
		}, []string{"transport"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Stream connections refused by the connection limiter, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.announcements,
		m.deliveries,
		m.deliveryFailures,
		m.connections,
		m.disconnections,
		m.rejections,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Connections currently registered for fan-out.",
		}, func() float64 {
			return float64(registry.Len())
		}),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) ObserveAnnouncement(eventType notification.Type, delivery broadcaster.Delivery) {
	m.announcements.WithLabelValues(string(eventType)).Inc()
	m.deliveries.Add(float64(delivery.Recipients))
	m.deliveryFailures.Add(float64(delivery.Failed))
}

func (m *Metrics) ConnectionOpened(transport string) {
	m.connections.WithLabelValues(transport).Inc()
}

func (m *Metrics) ConnectionClosed(transport string) {
	m.disconnections.WithLabelValues(transport).Inc()
}

func (m *Metrics) ConnectionRejected(reason string) {
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
