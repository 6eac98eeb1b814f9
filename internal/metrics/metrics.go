// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dionysus"

// Metrics holds the collectors for upstream calls and the state holders.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	UpstreamRequests *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	UpstreamInFlight *prometheus.GaugeVec

	LibrarySyncs *prometheus.CounterVec
	LibraryItems prometheus.Gauge
	SourceAdds   *prometheus.CounterVec
	CacheLookups *prometheus.CounterVec
	TokenRefresh *prometheus.CounterVec
}

// New creates and registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Requests sent to upstream services by status code and method.",
		}, []string{"service", "code", "method"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Latency of upstream requests.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"service"}),
		UpstreamInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "in_flight_requests",
			Help:      "Upstream requests currently in flight.",
		}, []string{"service"}),
		LibrarySyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "library",
			Name:      "syncs_total",
			Help:      "Library loads by result.",
		}, []string{"result"}),
		LibraryItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "library",
			Name:      "items",
			Help:      "Torrents in the debrid library after the last load.",
		}),
		SourceAdds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sources",
			Name:      "adds_total",
			Help:      "Add-to-debrid attempts by result.",
		}, []string{"result"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by cache name and result.",
		}, []string{"cache", "result"}),
		TokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trakt",
			Name:      "token_refresh_total",
			Help:      "Tracker token refreshes by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.UpstreamInFlight,
		m.LibrarySyncs,
		m.LibraryItems,
		m.SourceAdds,
		m.CacheLookups,
		m.TokenRefresh,
	)

	return m
}

// Transport wraps next so every request is counted under service.
func (m *Metrics) Transport(service string, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	if m == nil {
		return next
	}

	labels := prometheus.Labels{"service": service}
	return promhttp.InstrumentRoundTripperInFlight(
		m.UpstreamInFlight.With(labels),
		promhttp.InstrumentRoundTripperCounter(
			m.UpstreamRequests.MustCurryWith(labels),
			promhttp.InstrumentRoundTripperDuration(
				m.UpstreamDuration.MustCurryWith(labels),
				next,
			),
		),
	)
}

// HTTPClient returns a copy of base (or a default client) using an instrumented transport.
func (m *Metrics) HTTPClient(service string, base *http.Client) *http.Client {
	client := &http.Client{}
	if base != nil {
		*client = *base
	}
	client.Transport = m.Transport(service, client.Transport)
	return client
}

func (m *Metrics) LibrarySync(result string, items int) {
	if m == nil {
		return
	}
	m.LibrarySyncs.WithLabelValues(result).Inc()
	m.LibraryItems.Set(float64(items))
}

func (m *Metrics) SourceAdd(result string) {
	if m == nil {
		return
	}
	m.SourceAdds.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) TokenRefreshed(result string) {
	if m == nil {
		return
	}
	m.TokenRefresh.WithLabelValues(result).Inc()
}
