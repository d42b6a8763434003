package middleware

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "idvrelay",
	Name:      "http_request_duration_seconds",
	Help:      "Latency of relay HTTP requests by route and status.",
	Buckets:   prometheus.DefBuckets,
},
	[]string{"route", "status"},
)

func init() {
	prometheus.MustRegister(requestDuration)
}

// Timed records request latency under the given route label.
func Timed(route string, next http.Handler) http.Handler {
	observer := requestDuration.MustCurryWith(prometheus.Labels{"route": route})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := newStatusRecorder(w)
		timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
			observer.WithLabelValues(strconv.Itoa(rec.status)).Observe(v)
		}))
		defer timer.ObserveDuration()
		next.ServeHTTP(rec, r)
	})
}
