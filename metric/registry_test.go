package metric

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryRegistersCoreMetrics(t *testing.T) {
	registry := NewRegistry()
	require.NotNil(t, registry.Core)

	// Core metrics must be gatherable without touching them first.
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	registry.Core.EndpointsActive.Set(3)
	families, err = registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["querygate_endpoints_active"])
}

func TestRegisterCounterRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_component_ops_total",
		Help: "test counter",
	})
	require.NoError(t, registry.RegisterCounter("admission", "ops_total", counter))

	dup := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_component_ops_total",
		Help: "test counter",
	})
	err := registry.RegisterCounter("admission", "ops_total", dup)
	assert.Error(t, err)
}

func TestUnregisterAllowsReRegistration(t *testing.T) {
	registry := NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_active_permits",
		Help: "test gauge",
	})
	require.NoError(t, registry.RegisterGauge("admission", "active_permits", gauge))

	assert.True(t, registry.Unregister("admission", "active_permits"))
	assert.False(t, registry.Unregister("admission", "active_permits"))

	require.NoError(t, registry.RegisterGauge("admission", "active_permits", gauge))
}

func TestHandlerServesExposition(t *testing.T) {
	registry := NewRegistry()
	registry.Core.RequestsTotal.WithLabelValues("GET", "success").Inc()

	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "querygate_requests_total")
}
