package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(codeVerifications, codeWrites)
}

var (
	codeVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "code_verifications_total",
			Help: "Access code verifications by result (valid, owner, exhausted, unknown, empty).",
		},
		[]string{"result"},
	)

	codeWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "code_writes_total",
			Help: "Access code registrations and top-ups by operation and policy.",
		},
		[]string{"op", "policy"},
	)
)

func CodeVerified(result string) {
	codeVerifications.WithLabelValues(norm(result)).Inc()
}

func CodeWritten(op, policy string) {
	codeWrites.WithLabelValues(norm(op), norm(policy)).Inc()
}
