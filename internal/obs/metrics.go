package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions         = promauto.NewGauge(prometheus.GaugeOpts{Name: "tunnelx_active_sessions", Help: "Live VPN sessions"})
	SessionStartsTotal     = promauto.NewCounter(prometheus.CounterOpts{Name: "tunnelx_session_starts_total", Help: "Accepted session start requests"})
	SessionsClosedTotal    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tunnelx_sessions_closed_total", Help: "Sessions closed by reason"}, []string{"reason"})
	PollsTotal             = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tunnelx_polls_total", Help: "Telemetry polls by result"}, []string{"result"})
	EventsBroadcastTotal   = promauto.NewCounter(prometheus.CounterOpts{Name: "tunnelx_events_broadcast_total", Help: "Events fanned out to observers"})
	EventsDroppedTotal     = promauto.NewCounter(prometheus.CounterOpts{Name: "tunnelx_events_dropped_total", Help: "Events dropped for slow observers"})
	RouteInstallsTotal     = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tunnelx_route_installs_total", Help: "Split-tunnel route installs by result"}, []string{"result"})
	SessionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "tunnelx_session_duration_seconds", Help: "Session lifetime seconds", Buckets: prometheus.ExponentialBuckets(1, 2, 16)})
)
