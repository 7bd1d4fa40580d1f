// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package bridge

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bridge's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	tickets        *prometheus.CounterVec
	confirmLatency *prometheus.HistogramVec
	pageConns      prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apbridge",
				Subsystem: "page",
				Name:      "requests_total",
				Help:      "Page requests by method and outcome code.",
			},
			[]string{"method", "outcome"},
		),
		tickets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apbridge",
				Subsystem: "confirm",
				Name:      "tickets_total",
				Help:      "Confirmation tickets by kind and resolution.",
			},
			[]string{"kind", "resolution"},
		),
		confirmLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "apbridge",
				Subsystem: "confirm",
				Name:      "wait_seconds",
				Help:      "Time a ticket waited for a human decision.",
				Buckets:   prometheus.ExponentialBuckets(0.25, 2, 11), // 250ms to ~4m
			},
			[]string{"kind"},
		),
		pageConns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "apbridge",
				Subsystem: "page",
				Name:      "websocket_connections",
				Help:      "Open page WebSocket connections.",
			},
		),
	}
	m.registry.MustRegister(m.requests, m.tickets, m.confirmLatency, m.pageConns)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (used by tests).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest counts one terminal page response. outcome is "ok" or an error code.
func (m *Metrics) ObserveRequest(method, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
}

// TrackPending exports the number of outstanding tickets as reported by fn.
func (m *Metrics) TrackPending(fn func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "apbridge",
			Subsystem: "confirm",
			Name:      "pending_tickets",
			Help:      "Tickets awaiting a decision.",
		},
		func() float64 { return float64(fn()) },
	))
}

// ObserveTicket records a ticket's terminal state and how long it waited.
func (m *Metrics) ObserveTicket(kind, resolution string, waited time.Duration) {
	if m == nil {
		return
	}
	m.tickets.WithLabelValues(kind, resolution).Inc()
	m.confirmLatency.WithLabelValues(kind).Observe(waited.Seconds())
}

// PageConnOpened tracks a WebSocket page connection.
func (m *Metrics) PageConnOpened() {
	if m == nil {
		return
	}
	m.pageConns.Inc()
}

// PageConnClosed tracks a closed WebSocket page connection.
func (m *Metrics) PageConnClosed() {
	if m == nil {
		return
	}
	m.pageConns.Dec()
}
