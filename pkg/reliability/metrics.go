package reliability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors updated by a Monitor.
type Metrics struct {
	Pending    prometheus.Gauge
	Confirmed  prometheus.Counter
	Expired    prometheus.Counter
	Unexpected prometheus.Counter
}

// NewMetrics creates the monitor collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "as2",
			Subsystem: "mdn",
			Name:      "pending",
			Help:      "Outbound messages awaiting an asynchronous MDN.",
		}),
		Confirmed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "as2",
			Subsystem: "mdn",
			Name:      "confirmed_total",
			Help:      "Pending messages confirmed by a matching MDN.",
		}),
		Expired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "as2",
			Subsystem: "mdn",
			Name:      "expired_total",
			Help:      "Pending messages whose confirmation window elapsed.",
		}),
		Unexpected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "as2",
			Subsystem: "mdn",
			Name:      "unexpected_total",
			Help:      "MDNs that matched no pending message.",
		}),
	}
}
