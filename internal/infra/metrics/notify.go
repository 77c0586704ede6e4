package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(notificationsTotal, wsClients) }

var notificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "prospect_notifications_total",
		Help: "Client notifications per kind and delivery result.",
	},
	[]string{"kind", "result"}, // result='delivered'|'dropped'|'no_clients'
)

var wsClients = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "prospect_ws_clients",
		Help: "Currently connected websocket clients.",
	},
)

func IncNotification(kind, result string) {
	notificationsTotal.WithLabelValues(norm(kind), norm(result)).Inc()
}

func SetWSClients(n int) { wsClients.Set(float64(n)) }
