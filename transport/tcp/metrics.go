package tcp

import (
	E "github.com/sagernet/sing-iostream/common/exceptions"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	accepted prometheus.Counter
	rejected prometheus.Counter
	closed   prometheus.Counter
	active   prometheus.Gauge
	received prometheus.Counter
	sent     prometheus.Counter
}

func newMetrics(registerer prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "iostream",
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted and registered connections",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "iostream",
			Name:      "connections_rejected_total",
			Help:      "Total number of connections refused by the limit or failed accepts",
		}),
		closed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "iostream",
			Name:      "connections_closed_total",
			Help:      "Total number of registered connections that were closed",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "iostream",
			Name:      "connections_active",
			Help:      "Number of registered connections",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "iostream",
			Name:      "received_bytes_total",
			Help:      "Total bytes received by closed connections",
		}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "iostream",
			Name:      "sent_bytes_total",
			Help:      "Total bytes flushed by closed connections",
		}),
	}
	for _, collector := range []prometheus.Collector{m.accepted, m.rejected, m.closed, m.active, m.received, m.sent} {
		if err := registerer.Register(collector); err != nil {
			return nil, E.Cause(err, "register metrics")
		}
	}
	return m, nil
}
