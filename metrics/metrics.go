// Package metrics exports rate limit decisions to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/toolink/ratelimit/limiter"
)

// Outcome label values.
const (
	OutcomeAdmitted = "admitted"
	OutcomeRejected = "rejected"
	OutcomeSkipped  = "skipped"
)

var _ limiter.Observer = (*Collector)(nil)

// Collector counts admission outcomes per resource.
type Collector struct {
	decisions *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limit decisions by resource and outcome.",
		}, []string{"resource", "outcome"}),
	}
	if err := reg.Register(c.decisions); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Collector) Admitted(resource string) {
	c.decisions.WithLabelValues(resource, OutcomeAdmitted).Inc()
}

func (c *Collector) Rejected(resource string) {
	c.decisions.WithLabelValues(resource, OutcomeRejected).Inc()
}

func (c *Collector) Skipped(resource string) {
	c.decisions.WithLabelValues(resource, OutcomeSkipped).Inc()
}
