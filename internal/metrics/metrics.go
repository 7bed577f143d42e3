// Package metrics holds the Prometheus collectors shared by the API and the projector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shop"

type Metrics struct {
	UseCaseRequests *prometheus.CounterVec   // usecase_requests_total{use_case,outcome}
	UseCaseDuration *prometheus.HistogramVec // usecase_duration_seconds{use_case}
	HTTPRequests    *prometheus.CounterVec   // http_requests_total{method,route,status}
	HTTPDuration    *prometheus.HistogramVec // http_request_duration_seconds{method,route}
	StockDecrements prometheus.Counter       // stock_units_decremented_total
	EventsPublished *prometheus.CounterVec   // events_published_total{event_type,outcome}
	EventsConsumed  *prometheus.CounterVec   // events_consumed_total{event_type,outcome}
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UseCaseRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "orders", Name: "usecase_requests_total",
			Help: "Order use case invocations by outcome.",
		}, []string{"use_case", "outcome"}),
		UseCaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "orders", Name: "usecase_duration_seconds",
			Help: "Order use case latency.", Buckets: prometheus.DefBuckets,
		}, []string{"use_case"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help: "HTTP request latency.", Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		StockDecrements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "inventory", Name: "stock_units_decremented_total",
			Help: "Units removed from product stock by paid orders.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "published_total",
			Help: "Lifecycle events handed to the producer.",
		}, []string{"event_type", "outcome"}),
		EventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "consumed_total",
			Help: "Lifecycle events handled by consumers.",
		}, []string{"event_type", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.UseCaseRequests, m.UseCaseDuration,
			m.HTTPRequests, m.HTTPDuration,
			m.StockDecrements, m.EventsPublished, m.EventsConsumed,
		)
	}
	return m
}

// The helpers below are nil-safe so callers can run without metrics.

func (m *Metrics) ObserveUseCase(useCase, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.UseCaseRequests.WithLabelValues(useCase, outcome).Inc()
	m.UseCaseDuration.WithLabelValues(useCase).Observe(d.Seconds())
}

func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) StockDecremented(units int) {
	if m == nil {
		return
	}
	m.StockDecrements.Add(float64(units))
}

func (m *Metrics) EventPublished(eventType, outcome string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) EventConsumed(eventType, outcome string) {
	if m == nil {
		return
	}
	m.EventsConsumed.WithLabelValues(eventType, outcome).Inc()
}
