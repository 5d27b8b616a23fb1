package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connections_active",
			Help: "Number of live real-time connections",
		},
	)

	RoomsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_rooms_active",
			Help: "Number of rooms with at least one member",
		},
	)

	Events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Inbound relay events by kind",
		},
		[]string{"event"},
	)

	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_sends_total",
			Help: "send_message outcomes",
		},
		[]string{"result"}, // broadcast|invalid|not_joined|persist_error|empty_result
	)

	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Per-member broadcast deliveries",
		},
		[]string{"result"}, // ok|failed
	)

	HistoryLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_history_loads_total",
			Help: "History loads by result",
		},
		[]string{"result"}, // ok|error
	)
)

// Init registers metrics with the default Prometheus registry.
// Call once from main.
func Init() {
	prometheus.MustRegister(ConnectionsActive)
	prometheus.MustRegister(RoomsActive)
	prometheus.MustRegister(Events)
	prometheus.MustRegister(Sends)
	prometheus.MustRegister(Deliveries)
	prometheus.MustRegister(HistoryLoads)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
