// Package metrics holds the Prometheus collectors for the fax and gating
// paths. Collectors are registered on an explicit registry so tests can
// build isolated instances.
package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oppdash"

type Metrics struct {
	Preflights      *prometheus.CounterVec
	Sends           *prometheus.CounterVec
	GateDecisions   *prometheus.CounterVec
	StatusUpdates   *prometheus.CounterVec
	SendLatency     prometheus.Histogram
	DocumentPages   prometheus.Histogram
	ArchiveFailures prometheus.Counter
	HTTPRequests    *prometheus.HistogramVec
	Panics          prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Preflights: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fax_preflight_total",
			Help:      "Fax preflight checks by outcome (ready, blocked).",
		}, []string{"outcome"}),
		Sends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fax_send_total",
			Help:      "Fax send attempts by result.",
		}, []string{"result"}),
		GateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prescriber_gate_decisions_total",
			Help:      "Server-side prescriber volume gate decisions.",
		}, []string{"decision"}),
		StatusUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunity_status_updates_total",
			Help:      "Committed opportunity status changes by target status.",
		}, []string{"status"}),
		SendLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fax_transmit_seconds",
			Help:      "Latency of the fax gateway call.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 9),
		}),
		DocumentPages: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fax_document_pages",
			Help:      "Pages per transmitted document.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8},
		}),
		ArchiveFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fax_archive_failures_total",
			Help:      "Transmitted faxes that could not be archived.",
		}),
		HTTPRequests: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_seconds",
			Help:      "API request latency by route and status class.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
		Panics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_panics_total",
			Help:      "Handler panics caught by the recovery middleware.",
		}),
	}
}

// Handler exposes the registry on /metrics.
func Handler(g prometheus.Gatherer) echo.HandlerFunc {
	h := promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	return echo.WrapHandler(h)
}

// Nop returns collectors bound to a throwaway registry.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
