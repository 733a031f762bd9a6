package authflow

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"oidcflow/pkg/oauth"
)

const metricsNamespace = "oidcflow"

// Outcome label values.
const (
	outcomeSuccess     = "success"
	outcomeFailure     = "failure"
	outcomeCancelled   = "cancelled"
	outcomeRejected    = "rejected"
)

// Metrics counts flows, refreshes and token endpoint calls. The counters are
// registered on the registerer passed to NewMetrics, so a process can keep
// them private or expose them.
type Metrics struct {
	flows         *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	tokenRequests *prometheus.CounterVec
}

// NewMetrics creates and registers the counters on reg. A nil reg leaves
// them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		flows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "flows_total",
			Help:      "Interactive and device flows by kind and outcome.",
		}, []string{"flow", "outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "token_refreshes_total",
			Help:      "Refresh token grants by outcome.",
		}, []string{"outcome"}),
		tokenRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "token_requests_total",
			Help:      "Token endpoint requests by grant type and outcome.",
		}, []string{"grant_type", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.flows, m.refreshes, m.tokenRequests)
	}
	return m
}

func (m *Metrics) observeFlow(flow string, err error) {
	m.flows.WithLabelValues(flow, outcomeFor(err)).Inc()
}

func (m *Metrics) observeTokenRequest(grantType string, err error) {
	outcome := outcomeFor(err)
	m.tokenRequests.WithLabelValues(grantType, outcome).Inc()
	if grantType == oauth.GrantTypeRefreshToken {
		m.refreshes.WithLabelValues(outcome).Inc()
	}
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case isCancellation(err):
		return outcomeCancelled
	case oauth.InvalidatesAuthorization(err):
		return outcomeRejected
	default:
		return outcomeFailure
	}
}

var (
	errUserCancelled    = &oauth.Error{Domain: oauth.DomainGeneral, Code: oauth.CodeUserCanceledAuthorizationFlow}
	errProgramCancelled = &oauth.Error{Domain: oauth.DomainGeneral, Code: oauth.CodeProgramCanceledAuthorizationFlow}
)

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, errUserCancelled) ||
		errors.Is(err, errProgramCancelled)
}
