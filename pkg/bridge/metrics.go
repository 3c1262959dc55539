package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts bridge activity. Each server owns its registry so several
// instances can live in one process.
type Metrics struct {
	SessionsStarted prometheus.Counter
	ActiveSessions  prometheus.Gauge
	FramesIn        *prometheus.CounterVec
	EventsDropped   prometheus.Counter
	SessionErrors   prometheus.Counter
}

// NewMetrics registers the bridge metric set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "iris_bridge_sessions_started_total",
			Help: "Live sessions accepted after handshake",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "iris_bridge_active_sessions",
			Help: "Live sessions currently connected",
		}),
		FramesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iris_bridge_frames_in_total",
			Help: "Client frames received by kind",
		}, []string{"kind"}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "iris_bridge_events_dropped_total",
			Help: "Server frames dropped under write backpressure",
		}),
		SessionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "iris_bridge_session_errors_total",
			Help: "Session errors relayed to clients",
		}),
	}
}
