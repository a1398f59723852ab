package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the OTP lifecycle. Labels carry the outcome category only,
// never the identifier.
var (
	CodesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_codes_issued_total",
		Help: "One-time codes issued, by purpose and outcome.",
	}, []string{"purpose", "outcome"})

	CodesVerified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_codes_verified_total",
		Help: "Verification attempts, by outcome.",
	}, []string{"outcome"})

	CodesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "otp_codes_swept_total",
		Help: "Expired unconsumed codes removed by the cleanup sweeper.",
	})
)
