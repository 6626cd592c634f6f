package guildpost

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics holds guildpost's operational counters. Each peer owns its
// own instance and registry, so tests can spin up many peers in one
// process without duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	EventsPublished *prometheus.CounterVec
	EventsApplied   *prometheus.CounterVec
	EventsMalformed prometheus.Counter
	RateLimited     *prometheus.CounterVec
	Elections       *prometheus.CounterVec
	AuditEntries    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guildpost_events_published_total",
				Help: "Events published to the shared log",
			},
			[]string{"type"},
		),
		EventsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guildpost_events_applied_total",
				Help: "Remote events applied by the sync loop",
			},
			[]string{"type"},
		),
		EventsMalformed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "guildpost_events_malformed_total",
				Help: "Event records dropped as unreadable or invalid",
			},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guildpost_rate_limited_total",
				Help: "Side effects refused by the rate limiter",
			},
			[]string{"window"}, // minute, hour, day, duplicate
		),
		Elections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guildpost_elections_total",
				Help: "Designated-sender election outcomes",
			},
			[]string{"outcome"}, // won, lost
		),
		AuditEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guildpost_audit_entries_total",
				Help: "Audit trail appends",
			},
			[]string{"outcome"}, // success, failure
		),
	}
	m.registry.MustRegister(
		m.EventsPublished,
		m.EventsApplied,
		m.EventsMalformed,
		m.RateLimited,
		m.Elections,
		m.AuditEntries,
	)
	return m
}

// Serve exposes /metrics on addr. Diagnostics only; peers never talk to
// each other over this.
func (m *Metrics) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logrus.Warnf("metrics: listener on %s stopped: %v", addr, err)
		}
	}()
	logrus.Infof("📊 metrics listening on %s", addr)
}

// The inc helpers are nil-safe so components can carry an optional
// *Metrics without guarding every call site.

func (m *Metrics) incPublished(eventType string) {
	if m != nil {
		m.EventsPublished.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) incApplied(eventType string) {
	if m != nil {
		m.EventsApplied.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) incMalformed() {
	if m != nil {
		m.EventsMalformed.Inc()
	}
}

func (m *Metrics) incRateLimited(window string) {
	if m != nil {
		m.RateLimited.WithLabelValues(window).Inc()
	}
}

func (m *Metrics) incElection(won bool) {
	if m == nil {
		return
	}
	if won {
		m.Elections.WithLabelValues("won").Inc()
	} else {
		m.Elections.WithLabelValues("lost").Inc()
	}
}

func (m *Metrics) incAudit(success bool) {
	if m == nil {
		return
	}
	if success {
		m.AuditEntries.WithLabelValues("success").Inc()
	} else {
		m.AuditEntries.WithLabelValues("failure").Inc()
	}
}
