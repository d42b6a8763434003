package provider

import "github.com/prometheus/client_golang/prometheus"

var upstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "idvrelay",
	Subsystem: "provider",
	Name:      "requests_total",
	Help:      "Outbound provider calls by operation and status class.",
}, []string{"operation", "status"})

func init() {
	prometheus.MustRegister(upstreamRequests)
}
