// Package metrics exports cache outcomes as Prometheus counters, fed by the
// diagnostics channel.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joinava/cache"
)

// Collector counts wrapper outcomes per cache name.
type Collector struct {
	requests *prometheus.CounterVec
	token    string
}

// NewCollector registers the outcome counter with the registerer and
// subscribes to the diagnostics channel. Call Close to detach.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Requests handled by cache wrappers, by cache name and outcome.",
		}, []string{"cache", "outcome"}),
	}
	if err := reg.Register(c.requests); err != nil {
		return nil, err
	}
	c.token = cache.Subscribe(func(d cache.Diagnostic) {
		c.requests.WithLabelValues(d.CacheName, string(d.Outcome)).Inc()
	})
	return c, nil
}

// Close unsubscribes from the diagnostics channel.
func (c *Collector) Close() {
	cache.Unsubscribe(c.token)
}
