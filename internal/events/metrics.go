package events

import "github.com/prometheus/client_golang/prometheus"

var (
	persisted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "idvrelay",
		Subsystem: "events",
		Name:      "persisted_total",
		Help:      "Webhook events written to the store, by result.",
	}, []string{"result"})

	dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "idvrelay",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Webhook events dropped because a sink buffer was full.",
	}, []string{"sink"})

	subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "idvrelay",
		Subsystem: "events",
		Name:      "subscribers",
		Help:      "Live event stream subscribers.",
	})
)

func init() {
	prometheus.MustRegister(persisted, dropped, subscribers)
}
