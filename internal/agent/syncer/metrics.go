package syncer

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	passes      *prometheus.CounterVec
	lastSuccess prometheus.Gauge
	rejections  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "altrii",
			Subsystem: "sync",
			Name:      "passes_total",
			Help:      "Sync passes by result.",
		}, []string{"result"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "altrii",
			Subsystem: "sync",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last pass that reached the server.",
		}),
		rejections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "altrii",
			Subsystem: "sync",
			Name:      "consecutive_rejections",
			Help:      "Server rejections since the last successful pass.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.passes, m.lastSuccess, m.rejections} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
