package webhook

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var verifications = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "idvrelay",
	Subsystem: "webhook",
	Name:      "verifications_total",
	Help:      "Inbound webhook decisions by outcome.",
},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(verifications)
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrMissingSignature):
		return "missing_signature"
	case errors.Is(err, ErrTimestampExpired):
		return "expired"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrMalformedRequest):
		return "malformed"
	default:
		return "error"
	}
}
