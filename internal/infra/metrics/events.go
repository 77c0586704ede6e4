package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(eventsTotal) }

var eventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "prospect_pipeline_events_total",
		Help: "Pipeline events handled, labeled by event type and outcome.",
	},
	[]string{"event_type", "outcome"}, // outcome='applied'|'late'|'orphan'|'failed'|'malformed'
)

func IncEvent(eventType, outcome string) {
	if eventType == "" {
		eventType = "unknown"
	}
	eventsTotal.WithLabelValues(norm(eventType), norm(outcome)).Inc()
}
