package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeNeedsReauth = "needs_reauth"
	OutcomeSkipped     = "skipped"
)

// Metrics counts integration lifecycle outcomes per provider.
type Metrics struct {
	registry *prometheus.Registry

	authentications *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	publishes       *prometheus.CounterVec
	stateMismatches *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		authentications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "integration_authentications_total",
			Help: "OAuth callbacks that reached the token exchange, by provider and outcome",
		}, []string{"provider", "outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "integration_token_refreshes_total",
			Help: "Token refresh attempts by provider and outcome",
		}, []string{"provider", "outcome"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "integration_publishes_total",
			Help: "Post publish attempts by provider and outcome",
		}, []string{"provider", "outcome"}),
		stateMismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "integration_oauth_state_mismatches_total",
			Help: "OAuth callbacks rejected because the returned state did not match",
		}, []string{"provider"}),
	}

	m.registry.MustRegister(m.authentications, m.refreshes, m.publishes, m.stateMismatches)
	return m
}

func (m *Metrics) ObserveAuthentication(provider, outcome string) {
	m.authentications.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ObserveRefresh(provider, outcome string) {
	m.refreshes.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ObservePublish(provider, outcome string) {
	m.publishes.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ObserveStateMismatch(provider string) {
	m.stateMismatches.WithLabelValues(provider).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
