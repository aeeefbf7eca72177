package server

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatd_connected_sessions",
		Help: "Number of currently authenticated sessions",
	})

	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatd_events_total",
		Help: "Total events received by type",
	}, []string{"type"})

	FanoutDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatd_fanout_seconds",
		Help:    "Time to fan an event out to its recipients",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(ConnectedSessions)
	prometheus.MustRegister(EventsTotal)
	prometheus.MustRegister(FanoutDuration)
}
