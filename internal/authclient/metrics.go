package authclient

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	tokenAcquisitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authclient_token_acquisitions_total",
			Help: "CSRF token acquisitions by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	csrfRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authclient_csrf_retries_total",
		Help: "Mutating requests retried once after a stale-token rejection.",
	})

	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authclient_sends_total",
			Help: "Requests sent through the authenticated sender by method and status class.",
		},
		[]string{"method", "class"},
	)

	probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authclient_session_probes_total",
			Help: "Session probe outcomes.",
		},
		[]string{"result"},
	)

	metricsOnce sync.Once
)

// registerClientMetrics registers the collectors in the default registry the
// first time any pipeline component is constructed.
func registerClientMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(tokenAcquisitions, csrfRetries, sendsTotal, probesTotal)
	})
}
