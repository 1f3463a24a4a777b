package metric

import "github.com/prometheus/client_golang/prometheus"

// CoreMetrics holds the platform metrics every gateway instance exposes.
// Component-specific metrics are registered separately through the Registrar
// interface.
type CoreMetrics struct {
	// RequestsTotal counts handled HTTP requests by method and outcome
	RequestsTotal *prometheus.CounterVec

	// RequestDuration observes end-to-end request latency by outcome
	RequestDuration *prometheus.HistogramVec

	// ExecutionDuration observes backend statement latency by sql type and status
	ExecutionDuration *prometheus.HistogramVec

	// ReloadsTotal counts routing-table reloads by result
	ReloadsTotal *prometheus.CounterVec

	// EndpointsActive tracks the endpoint count of the published routing table
	EndpointsActive prometheus.Gauge
}

func newCoreMetrics() *CoreMetrics {
	return &CoreMetrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "querygate_requests_total",
			Help: "Total HTTP requests handled by the gateway",
		}, []string{"method", "outcome"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "querygate_request_duration_seconds",
			Help:    "End-to-end request processing latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"outcome"}),
		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "querygate_sql_execution_duration_seconds",
			Help:    "Backend statement execution latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"sql_type", "status"}),
		ReloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "querygate_config_reloads_total",
			Help: "Routing-table reload attempts by result",
		}, []string{"result"}),
		EndpointsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "querygate_endpoints_active",
			Help: "Endpoint count of the currently published routing table",
		}),
	}
}

func (m *CoreMetrics) register(registry *prometheus.Registry) {
	registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ExecutionDuration,
		m.ReloadsTotal,
		m.EndpointsActive,
	)
}
