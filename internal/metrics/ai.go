package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(visionCallsLatencyMs, visionCallErrors, visionRetries)
}

var (
	visionCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vision_calls_latency_ms",
			Help:    "Vision provider call latency distribution in milliseconds.",
			Buckets: []float64{250, 500, 1000, 2000, 4000, 8000, 16000, 32000, 60000},
		},
		[]string{"provider", "model", "success"},
	)

	visionCallErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_call_errors_total",
			Help: "Failed vision provider calls by error kind.",
		},
		[]string{"provider", "kind"},
	)

	visionRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_call_retries_total",
			Help: "Retries of transient vision provider failures.",
		},
		[]string{"provider"},
	)
)

func ObserveVisionCall(provider, model string, elapsed time.Duration, success bool) {
	visionCallsLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(elapsed.Milliseconds()))
}

func VisionCallFailed(provider, kind string) {
	visionCallErrors.WithLabelValues(norm(provider), norm(kind)).Inc()
}

func VisionCallRetried(provider string) {
	visionRetries.WithLabelValues(norm(provider)).Inc()
}
