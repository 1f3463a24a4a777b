package admission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/Clickin/querygate/errors"
	"github.com/Clickin/querygate/metric"
)

// Permit represents one unit of admitted concurrency. Release returns the
// permit to the pool; releasing more than once is a no-op.
type Permit struct {
	release func()
	once    sync.Once
}

// Release returns the permit to the pool.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(p.release)
}

// Controller bounds concurrent backend execution with a fixed-capacity
// permit pool. Acquisition is FIFO-fair: a long waiter is not starved by
// later arrivals. Capacity is fixed at construction; a capacity change is
// a restart.
type Controller struct {
	sem            *semaphore.Weighted
	acquireTimeout time.Duration
	logger         *slog.Logger

	activePermits prometheus.Gauge
	rejectedTotal prometheus.Counter
	admittedTotal prometheus.Counter
}

// NewController creates a permit pool of the given capacity. Metrics are
// registered when a registrar is supplied.
func NewController(capacity int, acquireTimeout time.Duration, logger *slog.Logger, metrics metric.Registrar) (*Controller, error) {
	if capacity <= 0 {
		return nil, errors.Newf(errors.Internal, "admission capacity must be positive, got %d", capacity)
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		sem:            semaphore.NewWeighted(int64(capacity)),
		acquireTimeout: acquireTimeout,
		logger:         logger,
		activePermits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "querygate_admission_active_permits",
			Help: "Permits currently held by in-flight requests",
		}),
		admittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "querygate_admission_admitted_total",
			Help: "Requests admitted to execution",
		}),
		rejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "querygate_admission_rejected_total",
			Help: "Requests rejected because no permit became available in time",
		}),
	}

	if metrics != nil {
		if err := metrics.RegisterGauge("admission", "active_permits", c.activePermits); err != nil {
			return nil, err
		}
		if err := metrics.RegisterCounter("admission", "admitted_total", c.admittedTotal); err != nil {
			return nil, err
		}
		if err := metrics.RegisterCounter("admission", "rejected_total", c.rejectedTotal); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Admit blocks until a permit is available or the acquire timeout elapses.
// On timeout it returns an AdmissionRejected error; the caller translates
// that to a retryable rejection. The parent context cancels waiting early.
func (c *Controller) Admit(ctx context.Context) (*Permit, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, c.acquireTimeout)
	defer cancel()

	if err := c.sem.Acquire(acquireCtx, 1); err != nil {
		c.rejectedTotal.Inc()
		if ctx.Err() != nil {
			return nil, errors.WrapKind(errors.AdmissionRejected, ctx.Err(),
				"Controller", "Admit", "acquire permit")
		}
		c.logger.Debug("admission rejected, no permit within timeout",
			"timeout", c.acquireTimeout)
		return nil, errors.New(errors.AdmissionRejected, "no execution capacity available")
	}

	c.admittedTotal.Inc()
	c.activePermits.Inc()
	return &Permit{release: func() {
		c.sem.Release(1)
		c.activePermits.Dec()
	}}, nil
}

// TryAdmit acquires a permit without waiting. Used by background work that
// should yield to client traffic rather than queue behind it.
func (c *Controller) TryAdmit() (*Permit, bool) {
	if !c.sem.TryAcquire(1) {
		return nil, false
	}
	c.admittedTotal.Inc()
	c.activePermits.Inc()
	return &Permit{release: func() {
		c.sem.Release(1)
		c.activePermits.Dec()
	}}, true
}
