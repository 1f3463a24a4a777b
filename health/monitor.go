package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Indicator reports the health of one subsystem.
type Indicator interface {
	Name() string
	Check(ctx context.Context) Status
}

// Monitor aggregates indicators into a single gateway status.
type Monitor struct {
	mu         sync.RWMutex
	indicators []Indicator
	timeout    time.Duration
	startedAt  time.Time
}

// NewMonitor creates a monitor. timeout bounds each indicator check.
func NewMonitor(timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Monitor{timeout: timeout, startedAt: time.Now()}
}

// Register adds an indicator.
func (m *Monitor) Register(indicator Indicator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indicators = append(m.indicators, indicator)
}

// Check runs every indicator and aggregates: unhealthy if any indicator is
// unhealthy.
func (m *Monitor) Check(ctx context.Context) Status {
	m.mu.RLock()
	indicators := make([]Indicator, len(m.indicators))
	copy(indicators, m.indicators)
	m.mu.RUnlock()

	overall := HealthyStatus("querygate", "all subsystems healthy").WithDetails(map[string]any{
		"uptime": time.Since(m.startedAt).Round(time.Second).String(),
	})

	for _, indicator := range indicators {
		checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
		sub := indicator.Check(checkCtx)
		cancel()

		overall.SubStatuses = append(overall.SubStatuses, sub)
		if !sub.Healthy {
			overall.Healthy = false
			overall.Status = "unhealthy"
			overall.Message = fmt.Sprintf("subsystem %s unhealthy", sub.Component)
		}
	}

	return overall
}

// Handler serves the aggregated status as JSON, 503 when unhealthy.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := m.Check(r.Context())

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if !status.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}

// IndicatorFunc adapts a function to the Indicator interface.
type IndicatorFunc struct {
	IndicatorName string
	CheckFunc     func(ctx context.Context) Status
}

// Name implements Indicator
func (f IndicatorFunc) Name() string { return f.IndicatorName }

// Check implements Indicator
func (f IndicatorFunc) Check(ctx context.Context) Status { return f.CheckFunc(ctx) }

// Pinger is the connectivity surface the database indicator checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseIndicator reports backend connectivity.
func DatabaseIndicator(pinger Pinger) Indicator {
	return IndicatorFunc{
		IndicatorName: "database",
		CheckFunc: func(ctx context.Context) Status {
			if err := pinger.Ping(ctx); err != nil {
				return UnhealthyStatus("database", err.Error())
			}
			return HealthyStatus("database", "backend reachable")
		},
	}
}

// EndpointCounter exposes the size of the published routing table.
type EndpointCounter interface {
	Count() int
}

// ConfigurationIndicator reports the state of the endpoint registry. An
// empty table is degraded rather than unhealthy: the gateway serves, it
// just routes nothing.
func ConfigurationIndicator(counter EndpointCounter) Indicator {
	return IndicatorFunc{
		IndicatorName: "configuration",
		CheckFunc: func(_ context.Context) Status {
			count := counter.Count()
			status := HealthyStatus("configuration", "endpoint configuration loaded").
				WithDetails(map[string]any{"endpoints": count})
			if count == 0 {
				status.Status = "degraded"
				status.Message = "no endpoints configured"
			}
			return status
		},
	}
}
