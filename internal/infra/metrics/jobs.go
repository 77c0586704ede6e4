package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(dispatchAttemptsTotal, dispatchLatency, jobsFinishedTotal, quotaConsumedTotal) }

var dispatchAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "prospect_dispatch_attempts_total",
		Help: "Pipeline start calls, labeled by outcome.",
	},
	[]string{"outcome"}, // 'ok', 'retry', 'exhausted', 'permanent'
)

var dispatchLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "prospect_dispatch_latency_seconds",
		Help:    "Time from claiming a job to the pipeline acknowledging start.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 180},
	},
)

var jobsFinishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "prospect_jobs_finished_total",
		Help: "Prospecting jobs reaching a terminal status.",
	},
	[]string{"status"}, // 'completed', 'failed'
)

var quotaConsumedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "prospect_quota_consumed_total",
		Help: "Quota units consumed, labeled by plan.",
	},
	[]string{"plan"},
)

func IncDispatchAttempt(outcome string) {
	dispatchAttemptsTotal.WithLabelValues(norm(outcome)).Inc()
}

func ObserveDispatchLatency(d time.Duration) {
	dispatchLatency.Observe(d.Seconds())
}

func IncJobFinished(status string) {
	jobsFinishedTotal.WithLabelValues(norm(status)).Inc()
}

func AddQuotaConsumed(plan string, n int64) {
	if n <= 0 {
		return
	}
	quotaConsumedTotal.WithLabelValues(norm(plan)).Add(float64(n))
}
