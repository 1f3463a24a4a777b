// Package worker provides a generic bounded worker pool. The gateway runs
// statement execution through it so backend work happens on a fixed set of
// goroutines rather than one per request.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Clickin/querygate/metric"
)

// Pool errors
var (
	ErrNilProcessor   = errors.New("worker: processor must not be nil")
	ErrNotStarted     = errors.New("worker: pool not started")
	ErrAlreadyStarted = errors.New("worker: pool already started")
	ErrStopped        = errors.New("worker: pool stopped")
	ErrQueueFull      = errors.New("worker: queue full")
	ErrStopTimeout    = errors.New("worker: stop timed out")
)

// Pool processes items of type T on a fixed number of workers behind a
// bounded queue. Submit never blocks: when the queue is full the item is
// rejected, which the gateway surfaces as capacity exhaustion.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	wg       sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	metrics *poolMetrics
}

type poolMetrics struct {
	queueDepth prometheus.Gauge
	submitted  prometheus.Counter
	rejected   prometheus.Counter
	duration   *prometheus.HistogramVec
}

// Option configures a Pool
type Option[T any] func(*Pool[T]) error

// WithMetrics registers queue and processing metrics under the given
// prefix.
func WithMetrics[T any](registrar metric.Registrar, prefix string) Option[T] {
	return func(p *Pool[T]) error {
		m := &poolMetrics{
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: prefix + "_queue_depth",
				Help: "Work items waiting in the pool queue",
			}),
			submitted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_submitted_total",
				Help: "Work items accepted into the queue",
			}),
			rejected: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_rejected_total",
				Help: "Work items rejected because the queue was full",
			}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    prefix + "_processing_duration_seconds",
				Help:    "Time spent processing work items",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			}, []string{"status"}),
		}
		if err := registrar.RegisterGauge("worker_pool", prefix+"_queue_depth", m.queueDepth); err != nil {
			return err
		}
		if err := registrar.RegisterCounter("worker_pool", prefix+"_submitted_total", m.submitted); err != nil {
			return err
		}
		if err := registrar.RegisterCounter("worker_pool", prefix+"_rejected_total", m.rejected); err != nil {
			return err
		}
		if err := registrar.RegisterHistogramVec("worker_pool", prefix+"_processing_duration_seconds", m.duration); err != nil {
			return err
		}
		p.metrics = m
		return nil
	}
}

// NewPool creates a pool with the given worker count and queue capacity.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) (*Pool[T], error) {
	if processor == nil {
		return nil, ErrNilProcessor
	}
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
	}
	for _, opt := range opts {
		if err := opt(pool); err != nil {
			return nil, err
		}
	}
	return pool, nil
}

// Start launches the workers. The context bounds their lifetime.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.started = true
	return nil
}

// Submit enqueues an item without blocking.
func (p *Pool[T]) Submit(item T) error {
	p.lifecycleMu.Lock()
	started, stopped := p.started, p.stopped
	p.lifecycleMu.Unlock()

	if !started {
		return ErrNotStarted
	}
	if stopped {
		return ErrStopped
	}

	select {
	case p.workChan <- item:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}
		return nil
	default:
		p.rejected.Add(1)
		if p.metrics != nil {
			p.metrics.rejected.Inc()
		}
		return ErrQueueFull
	}
}

// Stop closes the queue and waits up to timeout for in-flight work.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started || p.stopped {
		return nil
	}
	p.stopped = true
	close(p.workChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Rejected   int64 `json:"rejected"`
}

// Stats returns current pool counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Rejected:   p.rejected.Load(),
	}
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.workChan:
			if !ok {
				return
			}

			start := time.Now()
			err := p.processor(ctx, item)
			elapsed := time.Since(start)

			p.processed.Add(1)
			status := "success"
			if err != nil {
				p.failed.Add(1)
				status = "error"
			}
			if p.metrics != nil {
				p.metrics.duration.WithLabelValues(status).Observe(elapsed.Seconds())
				p.metrics.queueDepth.Set(float64(len(p.workChan)))
			}
		}
	}
}
