package service

import "github.com/prometheus/client_golang/prometheus"

// Completion sources, also used as metric labels and event sources.
const (
	SourceSubmit   = "submit"
	SourcePoll     = "poll"
	SourceCallback = "callback"
)

// Poll attempt outcomes.
const (
	pollPending = "pending"
	pollDone    = "done"
	pollError   = "error"
)

// Callback outcomes.
const (
	callbackApplied   = "applied"
	callbackMalformed = "malformed"
	callbackFailed    = "failed"
)

var (
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judgebridge_submissions_total",
			Help: "Total number of submissions forwarded to the engine.",
		},
		[]string{"notify_mode", "result"},
	)

	completionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judgebridge_task_completions_total",
			Help: "Tasks moved to DONE, by the path that completed them.",
		},
		[]string{"source"},
	)

	pollAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judgebridge_poll_attempts_total",
			Help: "Engine status fetches made by pollers.",
		},
		[]string{"outcome"},
	)

	callbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judgebridge_callbacks_total",
			Help: "Inbound engine callbacks.",
		},
		[]string{"outcome"},
	)

	activePollers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "judgebridge_active_pollers",
			Help: "Number of pollers currently running.",
		},
	)
)

func init() {
	prometheus.MustRegister(submissionsTotal)
	prometheus.MustRegister(completionsTotal)
	prometheus.MustRegister(pollAttemptsTotal)
	prometheus.MustRegister(callbacksTotal)
	prometheus.MustRegister(activePollers)

	for _, source := range []string{SourceSubmit, SourcePoll, SourceCallback} {
		completionsTotal.WithLabelValues(source)
	}
	for _, outcome := range []string{pollPending, pollDone, pollError} {
		pollAttemptsTotal.WithLabelValues(outcome)
	}
	for _, outcome := range []string{callbackApplied, callbackMalformed, callbackFailed} {
		callbacksTotal.WithLabelValues(outcome)
	}
}
