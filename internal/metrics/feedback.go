package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(evaluationsTotal, reportsExported, feedbackEntries)
}

var (
	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evaluations_total",
			Help: "Evaluation requests by outcome (ok, advisory, error).",
		},
		[]string{"outcome"},
	)

	reportsExported = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reports_exported_total",
			Help: "PDF report exports by result.",
		},
		[]string{"result"},
	)

	feedbackEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feedback_entries_appended_total",
			Help: "Entries appended to the feedback log.",
		},
	)
)

func EvaluationFinished(outcome string) {
	evaluationsTotal.WithLabelValues(norm(outcome)).Inc()
}

func ReportExported(result string) {
	reportsExported.WithLabelValues(norm(result)).Inc()
}

func FeedbackAppended() {
	feedbackEntries.Inc()
}
