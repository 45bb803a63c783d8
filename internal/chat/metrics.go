package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "chat",
		Name:      "connections_active",
		Help:      "Number of open WebSocket connections.",
	})

	metricUsersOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "chat",
		Name:      "users_online",
		Help:      "Number of distinct users with at least one connection.",
	})

	metricMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "chat",
		Name:      "messages_total",
		Help:      "Messages persisted and fanned out, by scope.",
	}, []string{"scope"})

	metricDeliveriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "chat",
		Name:      "deliveries_dropped_total",
		Help:      "Outbound events dropped because a connection could not accept them.",
	})
)
