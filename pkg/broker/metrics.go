package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "assist"

var (
	sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "broker", Name: "sessions",
		Help: "Number of active sessions.",
	})
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "broker", Name: "connections",
		Help: "Number of open websocket connections.",
	})
	relayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "broker", Name: "relayed_messages_total",
		Help: "Negotiation messages forwarded between the peers.",
	}, []string{"type"})
	protocolErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "broker", Name: "protocol_errors_total",
		Help: "Error messages sent back to the clients.",
	})
	supersededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "broker", Name: "superseded_total",
		Help: "Connections replaced by a newer connection with the same role.",
	})
	expiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "broker", Name: "expired_sessions_total",
		Help: "Sessions removed by the reaper.",
	})
	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "broker", Name: "dropped_connections_total",
		Help: "Connections closed for missing a liveness ping.",
	})
)
