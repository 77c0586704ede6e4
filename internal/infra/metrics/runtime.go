package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(buildInfo, dbConns, dbAcquireWaits, cacheRequestsTotal)
}

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "prospect_build_info",
		Help: "Always 1; labels carry the running build.",
	},
	[]string{"version", "commit", "go_version"},
)

var dbConns = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "prospect_db_connections",
		Help: "Postgres pool connections by state.",
	},
	[]string{"state"}, // 'total', 'idle', 'acquired', 'max'
)

var dbAcquireWaits = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "prospect_db_empty_acquires",
		Help: "Cumulative acquires that had to wait for a free connection.",
	},
)

var cacheRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "prospect_cache_requests_total",
		Help: "Cache lookups by cache name and result.",
	},
	[]string{"cache", "result"}, // result='hit'|'miss'|'error'
)

func SetBuildInfo(version, commit string) {
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

// DBPoolStats is a point-in-time view of the connection pool.
type DBPoolStats struct {
	Total, Idle, Acquired, Max int32
	EmptyAcquires              int64
}

func SetDBPoolStats(s DBPoolStats) {
	dbConns.WithLabelValues("total").Set(float64(s.Total))
	dbConns.WithLabelValues("idle").Set(float64(s.Idle))
	dbConns.WithLabelValues("acquired").Set(float64(s.Acquired))
	dbConns.WithLabelValues("max").Set(float64(s.Max))
	dbAcquireWaits.Set(float64(s.EmptyAcquires))
}

func IncCacheRequest(cacheName, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(result)).Inc()
}
