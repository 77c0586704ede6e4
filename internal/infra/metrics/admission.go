package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(admissionsTotal, staleMarkersCleared) }

var admissionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "prospect_admissions_total",
		Help: "Admission decisions, labeled by result and rejection reason.",
	},
	[]string{"result", "reason"}, // result='accepted'|'rejected'
)

var staleMarkersCleared = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "prospect_stale_active_jobs_cleared_total",
		Help: "Active job markers cleared because the job was already terminal or its lease expired.",
	},
	[]string{"source"}, // 'admission', 'reaper'
)

func IncAdmission(result, reason string) {
	admissionsTotal.WithLabelValues(norm(result), norm(reason)).Inc()
}

func IncStaleMarkerCleared(source string) {
	staleMarkersCleared.WithLabelValues(norm(source)).Inc()
}
