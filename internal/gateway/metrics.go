package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pointdeck_connections_open",
		Help: "Currently open websocket connections.",
	})
	metricMessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pointdeck_messages_received_total",
		Help: "Inbound wire messages accepted for processing.",
	})
	metricBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pointdeck_broadcasts_total",
		Help: "Room update broadcasts fanned out.",
	})
	metricProtocolRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pointdeck_protocol_rejections_total",
		Help: "Connections closed for protocol violations, by reason.",
	}, []string{"reason"})
	metricRoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pointdeck_rooms_created_total",
		Help: "Rooms created through POST /room.",
	})
	metricRoomsRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pointdeck_rooms_rate_limited_total",
		Help: "Room creations rejected by admission control.",
	})
	metricHeartbeatUnstable = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pointdeck_heartbeat_unstable_total",
		Help: "Connections force-closed after consecutive missed heartbeats.",
	})
)
