package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Clickin/querygate/errors"
)

// Registrar defines the interface for registering component-specific metrics
type Registrar interface {
	RegisterCounter(component, name string, counter prometheus.Counter) error
	RegisterGauge(component, name string, gauge prometheus.Gauge) error
	RegisterHistogram(component, name string, histogram prometheus.Histogram) error
	RegisterCounterVec(component, name string, counterVec *prometheus.CounterVec) error
	RegisterHistogramVec(component, name string, histogramVec *prometheus.HistogramVec) error
	Unregister(component, name string) bool
}

// Registry manages the registration and lifecycle of gateway metrics
type Registry struct {
	prometheusRegistry *prometheus.Registry
	Core               *CoreMetrics
	registered         map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewRegistry creates a new metrics registry with core gateway metrics
// and Go runtime collectors.
func NewRegistry() *Registry {
	prometheusRegistry := prometheus.NewRegistry()

	registry := &Registry{
		prometheusRegistry: prometheusRegistry,
		registered:         make(map[string]prometheus.Collector),
	}

	registry.Core = newCoreMetrics()
	registry.Core.register(prometheusRegistry)

	registry.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// RegisterCounter registers a counter metric for a component
func (r *Registry) RegisterCounter(component, name string, counter prometheus.Counter) error {
	return r.register(component, name, counter, "RegisterCounter")
}

// RegisterGauge registers a gauge metric for a component
func (r *Registry) RegisterGauge(component, name string, gauge prometheus.Gauge) error {
	return r.register(component, name, gauge, "RegisterGauge")
}

// RegisterHistogram registers a histogram metric for a component
func (r *Registry) RegisterHistogram(component, name string, histogram prometheus.Histogram) error {
	return r.register(component, name, histogram, "RegisterHistogram")
}

// RegisterCounterVec registers a labeled counter metric for a component
func (r *Registry) RegisterCounterVec(component, name string, counterVec *prometheus.CounterVec) error {
	return r.register(component, name, counterVec, "RegisterCounterVec")
}

// RegisterHistogramVec registers a labeled histogram metric for a component
func (r *Registry) RegisterHistogramVec(component, name string, histogramVec *prometheus.HistogramVec) error {
	return r.register(component, name, histogramVec, "RegisterHistogramVec")
}

// Unregister removes a metric registered for a component. Returns true when
// the metric existed.
func (r *Registry) Unregister(component, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, name)
	collector, exists := r.registered[key]
	if !exists {
		return false
	}

	delete(r.registered, key)
	return r.prometheusRegistry.Unregister(collector)
}

func (r *Registry) register(component, name string, collector prometheus.Collector, method string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, name)

	if _, exists := r.registered[key]; exists {
		return errors.WrapKind(errors.BadRequest,
			fmt.Errorf("metric %s already registered for component %s", name, component),
			"Registry", method, "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapKind(errors.BadRequest, err, "Registry", method,
				fmt.Sprintf("prometheus conflict for metric %s", name))
		}
		return errors.WrapKind(errors.Internal, err, "Registry", method,
			"register collector with prometheus")
	}

	r.registered[key] = collector
	return nil
}
