package account

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// token request results
const (
	resultCached      = "cached"
	resultRefreshed   = "refreshed"
	resultReauthorize = "reauthorize"
	resultLocked      = "locked"
	resultError       = "error"
)

type metrics struct {
	tokenRequests   *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	apiRetries      prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		tokenRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oidcaccount",
			Name:      "token_requests_total",
			Help:      "Token reads by result.",
		}, []string{"result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "oidcaccount",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of refresh token exchanges.",
			Buckets:   prometheus.DefBuckets,
		}),
		apiRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oidcaccount",
			Name:      "api_retries_total",
			Help:      "API calls retried after the token was invalidated.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	var err error
	if m.tokenRequests, err = register(reg, m.tokenRequests); err != nil {
		return nil, err
	}
	if m.refreshDuration, err = register(reg, m.refreshDuration); err != nil {
		return nil, err
	}
	if m.apiRetries, err = register(reg, m.apiRetries); err != nil {
		return nil, err
	}
	return m, nil
}

// register returns the collector already registered under the same
// descriptor when there is one, so several managers can share a registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
