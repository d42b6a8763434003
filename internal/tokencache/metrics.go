package tokencache

import "github.com/prometheus/client_golang/prometheus"

var (
	lookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "idvrelay",
		Subsystem: "token_cache",
		Name:      "lookups_total",
		Help:      "Token cache lookups by result (hit or miss).",
	}, []string{"result"})

	exchanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "idvrelay",
		Subsystem: "token_cache",
		Name:      "exchanges_total",
		Help:      "Outbound client-credentials exchanges by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(lookups, exchanges)
}
