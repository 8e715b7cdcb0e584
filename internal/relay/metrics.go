package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "casedesk_relay_active_connections",
			Help: "Open user sockets on this relay instance",
		},
	)

	framesPushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casedesk_relay_frames_pushed_total",
			Help: "Frames delivered to user sockets, by kind",
		},
		[]string{"kind"},
	)

	framesUndelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "casedesk_relay_frames_undelivered_total",
			Help: "Frames for users with no open socket or a full send buffer",
		},
	)

	inboundRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "casedesk_relay_inbound_rate_limited_total",
			Help: "Client frames rejected by the per-connection rate limiter",
		},
	)
)
