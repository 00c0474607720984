package filter

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	decisions *prometheus.CounterVec
	flows     prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "altrii",
			Subsystem: "filter",
			Name:      "decisions_total",
			Help:      "Connection verdicts by verdict and reason.",
		}, []string{"verdict", "reason"}),
		flows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "altrii",
			Subsystem: "filter",
			Name:      "tracked_flows",
			Help:      "Flows currently held in the flow table.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.decisions, m.flows} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
