package pubpreview

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the preview pipeline collectors. Each App registers its own
// set on its own registry.
type Metrics struct {
	// PreviewRequests counts handled requests by route, agent, tier and status.
	PreviewRequests *prometheus.CounterVec

	// TierAttempts counts resolution attempts per tier and outcome
	// ("hit", "miss", "invalid", "error").
	TierAttempts *prometheus.CounterVec

	// TierDuration measures how long each tier took to answer.
	TierDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PreviewRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "preview_requests_total",
				Help: "Total number of preview route requests",
			},
			[]string{"route", "agent", "tier", "status"},
		),
		TierAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "preview_tier_attempts_total",
				Help: "Content resolution attempts by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),
		TierDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "preview_tier_duration_seconds",
				Help:    "Content resolution latency by tier",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
			},
			[]string{"tier"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.PreviewRequests, m.TierAttempts, m.TierDuration)
	}
	return m
}

// RecordTier records one tier attempt.
func (m *Metrics) RecordTier(tier Tier, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TierAttempts.WithLabelValues(string(tier), outcome).Inc()
	m.TierDuration.WithLabelValues(string(tier)).Observe(d.Seconds())
}

// RecordRequest records one handled preview request.
func (m *Metrics) RecordRequest(route, agent string, tier Tier, status string) {
	if m == nil {
		return
	}
	m.PreviewRequests.WithLabelValues(route, agent, string(tier), status).Inc()
}
