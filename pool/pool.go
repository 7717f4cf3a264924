// Package pool implements a fixed-size pool of expensive resources whose
// acquisition is guarded by a circuit breaker and observed by a monitor.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/browserpool/breaker"
	"github.com/use-agent/browserpool/models"
	"github.com/use-agent/browserpool/monitor"
)

var (
	// ErrPoolClosed is returned after CloseAll when StrictShutdown is set.
	ErrPoolClosed = errors.New("pool: closed")

	// ErrPoolExhausted is returned by TryAcquire when every resource is leased.
	ErrPoolExhausted = errors.New("pool: no resource available")
)

// Resource is the capability set every pooled resource provides.
type Resource interface {
	Initialize(ctx context.Context) error
	Close() error
	IsHealthy(ctx context.Context) bool
}

// Poolable constrains pool element types: resources usable as map keys,
// which in practice means pointer types.
type Poolable interface {
	comparable
	Resource
}

// Factory constructs a new, not yet initialized resource.
type Factory[T Poolable] func(ctx context.Context) (T, error)

// Config holds pool configuration. It is fixed at construction.
type Config struct {
	// MaxSize is the number of resources created by Initialize.
	MaxSize int // default: 3

	// Breaker tunes the circuit breaker guarding Acquire. Breaker.Timeout
	// bounds the construction of each resource.
	Breaker breaker.Config

	// StrictShutdown makes CloseAll final: waiting acquirers are woken with
	// ErrPoolClosed and the pool never re-initializes. When false the pool
	// re-creates its resources on the next Acquire or Stats.
	StrictShutdown bool

	// MetricsWindow is the averaging window reported by Stats.
	MetricsWindow time.Duration // default: 5m

	// AcquireTimeout bounds Acquire when the caller's context has no
	// deadline. Zero waits forever.
	AcquireTimeout time.Duration
}

type options struct {
	monitor *monitor.Monitor
}

// Option configures optional collaborators.
type Option func(*options)

// WithMonitor shares an existing monitor instead of creating one.
func WithMonitor(m *monitor.Monitor) Option {
	return func(o *options) { o.monitor = m }
}

// Pool hands out resources under mutual exclusion. It is safe for
// concurrent use. A leased resource is not protected by the pool; the
// caller owns it exclusively until Release.
type Pool[T Poolable] struct {
	cfg     Config
	factory Factory[T]
	breaker *breaker.CircuitBreaker
	monitor *monitor.Monitor

	// initMu serializes Initialize and CloseAll.
	initMu sync.Mutex

	mu          sync.Mutex
	total       []T
	members     map[T]struct{}
	acquired    map[T]struct{}
	available   chan T // FIFO, capacity MaxSize
	initialized bool
	closed      bool
	shutdown    chan struct{} // closed by a strict CloseAll
}

// New creates an uninitialized pool. Resources are created by Initialize,
// or lazily by the first Acquire or Stats.
func New[T Poolable](factory Factory[T], cfg Config, opts ...Option) *Pool[T] {
	if cfg.MaxSize < 1 {
		cfg.MaxSize = 3
	}
	if cfg.MetricsWindow <= 0 {
		cfg.MetricsWindow = monitor.DefaultWindow
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.monitor == nil {
		o.monitor = monitor.New()
	}

	bcfg := cfg.Breaker
	bcfg.IsFailure = countsAsFailure(cfg.Breaker.IsFailure)
	bcfg.OnStateChange = logStateChange(cfg.Breaker.OnStateChange)

	return &Pool[T]{
		cfg:       cfg,
		factory:   factory,
		breaker:   breaker.New(bcfg),
		monitor:   o.monitor,
		members:   make(map[T]struct{}),
		acquired:  make(map[T]struct{}),
		available: make(chan T, cfg.MaxSize),
		shutdown:  make(chan struct{}),
	}
}

// countsAsFailure keeps waiting-related outcomes away from the breaker:
// a caller giving up on a busy pool says nothing about resource health.
func countsAsFailure(next func(error) bool) func(error) bool {
	return func(err error) bool {
		switch models.CodeOf(err) {
		case models.ErrCodeInitFailed:
			return true
		case models.ErrCodeAcquireTimeout, models.ErrCodePoolExhausted, models.ErrCodePoolClosed:
			return false
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		if next != nil {
			return next(err)
		}
		return true
	}
}

func logStateChange(next func(from, to breaker.State)) func(from, to breaker.State) {
	return func(from, to breaker.State) {
		if to == breaker.StateOpen {
			slog.Warn("pool: circuit breaker opened", "from", from.String())
		} else {
			slog.Info("pool: circuit breaker state changed", "from", from.String(), "to", to.String())
		}
		if next != nil {
			next(from, to)
		}
	}
}

// Initialize creates MaxSize resources. It is a no-op when the pool is
// already initialized. Any factory or Initialize failure aborts, closes
// the resources created so far and returns a RESOURCE_INIT_FAILED error.
func (p *Pool[T]) Initialize(ctx context.Context) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	p.mu.Lock()
	closed, initialized := p.closed, p.initialized
	p.mu.Unlock()
	if closed {
		return closedError()
	}
	if initialized {
		return nil
	}

	slog.Info("pool: initializing", "size", p.cfg.MaxSize)

	created := make([]T, 0, p.cfg.MaxSize)
	for i := 0; i < p.cfg.MaxSize; i++ {
		r, err := p.createResource(ctx)
		if err != nil {
			p.discard(created)
			return models.NewPoolError(
				models.ErrCodeInitFailed,
				fmt.Sprintf("failed to initialize resource %d of %d", i+1, p.cfg.MaxSize),
				err,
			)
		}
		created = append(created, r)
		p.monitor.Register(r)
	}

	p.mu.Lock()
	for _, r := range created {
		p.total = append(p.total, r)
		p.members[r] = struct{}{}
		p.available <- r
	}
	p.initialized = true
	p.mu.Unlock()

	slog.Info("pool: initialized", "size", p.cfg.MaxSize)
	return nil
}

// createResource runs the factory and the resource's Initialize within the
// breaker's per-operation timeout.
func (p *Pool[T]) createResource(ctx context.Context) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, p.breaker.Config().Timeout)
	defer cancel()

	var zero T
	r, err := p.factory(ctx)
	if err != nil {
		return zero, fmt.Errorf("factory: %w", err)
	}
	if err := r.Initialize(ctx); err != nil {
		if closeErr := r.Close(); closeErr != nil {
			slog.Warn("pool: close after failed initialize", "error", closeErr)
		}
		return zero, fmt.Errorf("initialize: %w", err)
	}
	return r, nil
}

// discard tears down resources from an aborted Initialize.
func (p *Pool[T]) discard(created []T) {
	for _, r := range created {
		p.monitor.Unregister(r)
		if err := r.Close(); err != nil {
			slog.Error("pool: failed to close resource after aborted initialize",
				"code", models.ErrCodeCloseFailed,
				"error", err,
			)
		}
	}
}

func (p *Pool[T]) ensureInitialized(ctx context.Context) error {
	p.mu.Lock()
	closed, initialized := p.closed, p.initialized
	p.mu.Unlock()
	if closed {
		return closedError()
	}
	if initialized {
		return nil
	}

	// Creation is detached from the caller: each resource is bounded by the
	// breaker timeout instead, and a caller that stops waiting leaves the
	// initialization running for everyone queued behind it.
	done := make(chan error, 1)
	go func() {
		done <- p.Initialize(context.WithoutCancel(ctx))
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return models.NewPoolError(
			models.ErrCodeAcquireTimeout,
			"gave up waiting for pool initialization",
			ctx.Err(),
		)
	case <-p.shutdown:
		return closedError()
	}
}

// Acquire leases a resource, blocking until one is released when all are in
// use. ctx bounds the wait; without a deadline Config.AcquireTimeout applies,
// and when that is zero the wait is unbounded.
// Every call goes through the circuit breaker.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	if _, ok := ctx.Deadline(); !ok && p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	r, err := breaker.Do(ctx, p.breaker, p.acquireResource)
	if err != nil {
		return r, wrapBreakerError(err)
	}
	return r, nil
}

// TryAcquire is Acquire without waiting: when nothing is available it
// fails with a POOL_EXHAUSTED error wrapping ErrPoolExhausted.
func (p *Pool[T]) TryAcquire(ctx context.Context) (T, error) {
	r, err := breaker.Do(ctx, p.breaker, func(ctx context.Context) (T, error) {
		return p.take(ctx, false)
	})
	if err != nil {
		return r, wrapBreakerError(err)
	}
	return r, nil
}

func (p *Pool[T]) acquireResource(ctx context.Context) (T, error) {
	return p.take(ctx, true)
}

// take dequeues the next available resource. A resource that stopped being
// a member while in flight (CloseAll raced the dequeue) is dropped and the
// wait starts over.
func (p *Pool[T]) take(ctx context.Context, wait bool) (T, error) {
	var zero T
	for {
		if err := p.ensureInitialized(ctx); err != nil {
			return zero, err
		}

		var r T
		if wait {
			select {
			case r = <-p.available:
			case <-ctx.Done():
				return zero, models.NewPoolError(
					models.ErrCodeAcquireTimeout,
					"gave up waiting for a free resource",
					ctx.Err(),
				)
			case <-p.shutdown:
				return zero, closedError()
			}
		} else {
			select {
			case r = <-p.available:
			default:
				return zero, models.NewPoolError(models.ErrCodePoolExhausted, "all resources are in use", ErrPoolExhausted)
			}
		}

		p.mu.Lock()
		if _, ok := p.members[r]; !ok {
			p.mu.Unlock()
			continue
		}
		p.acquired[r] = struct{}{}
		avail, acquired := len(p.available), len(p.acquired)
		p.mu.Unlock()

		slog.Debug("pool: resource acquired", "available", avail, "acquired", acquired, "max", p.cfg.MaxSize)
		return r, nil
	}
}

func wrapBreakerError(err error) error {
	if errors.Is(err, breaker.ErrCircuitOpen) {
		return models.NewPoolError(models.ErrCodeCircuitOpen, "resource acquisition blocked by open circuit", err)
	}
	return err
}

func closedError() error {
	return models.NewPoolError(models.ErrCodePoolClosed, "pool has been shut down", ErrPoolClosed)
}

// Release returns r to the pool. Releasing a resource that is not currently
// leased, including a second release, is a logged no-op.
func (p *Pool[T]) Release(r T) {
	p.mu.Lock()
	if _, ok := p.acquired[r]; !ok {
		p.mu.Unlock()
		slog.Warn("pool: ignoring release of resource that is not acquired")
		return
	}
	delete(p.acquired, r)
	// Never blocks: available + acquired never exceeds MaxSize.
	p.available <- r
	avail, acquired := len(p.available), len(p.acquired)
	p.mu.Unlock()

	slog.Debug("pool: resource released", "available", avail, "acquired", acquired, "max", p.cfg.MaxSize)
}

// With acquires a resource, passes it to fn and releases it on every exit
// path, including a panic in fn.
func (p *Pool[T]) With(ctx context.Context, fn func(ctx context.Context, r T) error) error {
	r, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(r)
	return fn(ctx, r)
}

// Stats reports pool occupancy, breaker state and monitor metrics.
// An uninitialized pool is initialized first.
func (p *Pool[T]) Stats(ctx context.Context) (models.PoolStats, error) {
	if err := p.ensureInitialized(ctx); err != nil {
		return models.PoolStats{}, err
	}

	current := p.monitor.Current()
	average := p.monitor.Average(p.cfg.MetricsWindow)

	p.mu.Lock()
	stats := models.PoolStats{
		AvailableCount: len(p.available),
		AcquiredCount:  len(p.acquired),
		TotalCount:     len(p.total),
		MaxSize:        p.cfg.MaxSize,
	}
	p.mu.Unlock()

	stats.CircuitBreaker = p.breaker.Info()
	stats.MonitorMetrics = current
	stats.AverageMetrics = average
	return stats, nil
}

// CloseAll closes every resource, logging individual close failures, and
// empties the pool. Leased resources are closed too; releasing them later
// is a no-op.
func (p *Pool[T]) CloseAll() {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	slog.Info("pool: closing all resources")

	p.mu.Lock()
	resources := p.total
	p.total = nil
	p.members = make(map[T]struct{})
	p.acquired = make(map[T]struct{})
drain:
	for {
		select {
		case <-p.available:
		default:
			break drain
		}
	}
	p.initialized = false
	if p.cfg.StrictShutdown && !p.closed {
		p.closed = true
		close(p.shutdown)
	}
	p.mu.Unlock()

	for _, r := range resources {
		p.monitor.Unregister(r)
		if err := r.Close(); err != nil {
			slog.Error("pool: error closing resource",
				"code", models.ErrCodeCloseFailed,
				"error", err,
			)
		}
	}

	slog.Info("pool: all resources closed", "count", len(resources))
}

// Occupancy returns the current available and acquired counts without
// sampling the monitor.
func (p *Pool[T]) Occupancy() (available, acquired int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available), len(p.acquired)
}

// Initialized reports whether the pool currently holds its resources.
func (p *Pool[T]) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

// MaxSize returns the configured capacity.
func (p *Pool[T]) MaxSize() int {
	return p.cfg.MaxSize
}

// Breaker exposes the circuit breaker guarding Acquire.
func (p *Pool[T]) Breaker() *breaker.CircuitBreaker {
	return p.breaker
}

// Monitor exposes the resource monitor.
func (p *Pool[T]) Monitor() *monitor.Monitor {
	return p.monitor
}
