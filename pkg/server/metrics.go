package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pairwise",
		Name:      "connections",
		Help:      "Number of live client sockets.",
	})
	metricRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pairwise",
		Name:      "rooms",
		Help:      "Number of active rooms.",
	})
	metricWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pairwise",
		Name:      "queue_waiting",
		Help:      "Number of clients waiting for a partner.",
	})
	metricMatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pairwise",
		Name:      "matches_total",
		Help:      "Total number of made pairings.",
	})
	metricRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pairwise",
		Name:      "messages_relayed_total",
		Help:      "Total number of relayed partner messages.",
	})
)
