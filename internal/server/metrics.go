package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "shortsai"

// Session check outcomes
const (
	OutcomeMissing   = "missing"
	OutcomeInvalid   = "invalid"
	OutcomeConfirmed = "confirmed"
	OutcomeFailOpen  = "fail_open"
	OutcomeTokenOnly = "token_only"
)

// Metrics holds the auth counters exported on /metrics
type Metrics struct {
	sessionChecks  *prometheus.CounterVec
	logins         *prometheus.CounterVec
	driveCallbacks *prometheus.CounterVec
	gatherer       prometheus.Gatherer
}

// NewMetrics registers the auth counters with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		sessionChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "auth_session_checks_total",
			Help:      "Session gate decisions by outcome",
		}, []string{"outcome"}),

		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "auth_logins_total",
			Help:      "Session login attempts by result",
		}, []string{"result"}),

		driveCallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "drive_oauth_callbacks_total",
			Help:      "Google Drive OAuth callbacks by result",
		}, []string{"result"}),

		gatherer: reg,
	}
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) sessionCheck(outcome string) {
	if m != nil {
		m.sessionChecks.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) login(result string) {
	if m != nil {
		m.logins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) driveCallback(result string) {
	if m != nil {
		m.driveCallbacks.WithLabelValues(result).Inc()
	}
}
