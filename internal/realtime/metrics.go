package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casedesk_realtime_frames_received_total",
			Help: "Inbound frames parsed and dispatched, by kind",
		},
		[]string{"kind"},
	)

	framesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casedesk_realtime_frames_dropped_total",
			Help: "Inbound frames dropped at the parse boundary",
		},
		[]string{"reason"},
	)

	listenerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casedesk_realtime_listener_failures_total",
			Help: "Listener invocations that returned an error or panicked",
		},
		[]string{"kind"},
	)

	sendDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casedesk_realtime_send_dropped_total",
			Help: "Outbound frames not delivered because the channel was not open or the write failed",
		},
		[]string{"kind"},
	)

	reconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "casedesk_realtime_reconnect_attempts_total",
			Help: "Automatic reconnect attempts scheduled",
		},
	)

	connectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "casedesk_realtime_connection_state",
			Help: "Connection state: 0 idle, 1 connecting, 2 connected",
		},
	)
)
