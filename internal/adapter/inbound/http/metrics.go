package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics recorded by the HTTP transport.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	SSEStreams      prometheus.Gauge
	BridgeCommands  *prometheus.CounterVec
}

// NewMetrics creates and registers all transport metrics with the registry.
// sessionCount feeds the active_sessions gauge; nil disables it.
func NewMetrics(reg prometheus.Registerer, sessionCount func() int) *Metrics {
	if sessionCount != nil {
		promauto.With(reg).NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "openmcpd",
				Name:      "active_sessions",
				Help:      "Number of active sessions",
			},
			func() float64 { return float64(sessionCount()) },
		)
	}
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "openmcpd",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "openmcpd",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		SSEStreams: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "openmcpd",
				Name:      "sse_streams",
				Help:      "Number of open SSE streams",
			},
		),
		BridgeCommands: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "openmcpd",
				Name:      "bridge_commands_total",
				Help:      "Total browser bridge commands by outcome",
			},
			[]string{"action", "outcome"}, // outcome=ok/error/timeout/disconnected
		),
	}
}
