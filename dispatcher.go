package vkdispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/vkdispatch/internal/audit"
	"github.com/oriys/vkdispatch/internal/logging"
	"github.com/oriys/vkdispatch/internal/metrics"
	"github.com/oriys/vkdispatch/internal/queue"
)

// Dispatcher runs one worker per Credential, all pulling from one shared
// queue of submitted calls. It is the package's main entry point: build
// one with New, submit calls with Submit, and release its resources with
// Close once done.
type Dispatcher struct {
	queue    *queue.Queue[envelope]
	workers  []*worker
	inflight sync.WaitGroup
	loops    sync.WaitGroup
	cancel   context.CancelFunc
	closing  atomic.Bool

	metrics *metrics.Collector
	audit   *audit.Batcher
}

// Option configures a Dispatcher built by New.
type Option func(*dispatcherConfig)

type dispatcherConfig struct {
	metrics     *metrics.Collector
	auditSink   audit.Sink
	auditConfig audit.BatcherConfig
	tracing     bool
}

// WithMetrics registers a metrics.Collector the dispatcher updates as it
// runs.
func WithMetrics(c *metrics.Collector) Option {
	return func(cfg *dispatcherConfig) { cfg.metrics = c }
}

// WithAuditSink persists an outcome log of every dispatched call through
// sink, batched in the background so the hot path never waits on it.
func WithAuditSink(sink audit.Sink, batcherCfg audit.BatcherConfig) Option {
	return func(cfg *dispatcherConfig) {
		cfg.auditSink = sink
		cfg.auditConfig = batcherCfg
	}
}

// WithTracing turns on a span per dispatched group, reported through
// whatever global OpenTelemetry tracer provider is configured.
func WithTracing() Option {
	return func(cfg *dispatcherConfig) { cfg.tracing = true }
}

// New builds a Dispatcher with one worker per credential. It requires at
// least one credential: a dispatcher with no workers could never make
// progress on a Submit call.
func New(credentials []Credential, opts ...Option) (*Dispatcher, error) {
	if len(credentials) == 0 {
		return nil, ErrNoCredentials
	}

	cfg := &dispatcherConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	var auditBatcher *audit.Batcher
	if cfg.auditSink != nil {
		auditBatcher = audit.NewBatcher(cfg.auditSink, cfg.auditConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		queue:   queue.New[envelope](),
		cancel:  cancel,
		metrics: cfg.metrics,
		audit:   auditBatcher,
	}

	d.workers = make([]*worker, len(credentials))
	for i, cred := range credentials {
		w := &worker{
			index:    i,
			cred:     cred,
			queue:    d.queue,
			inflight: &d.inflight,
			metrics:  cfg.metrics,
			audit:    auditBatcher,
			tracing:  cfg.tracing,
		}
		d.workers[i] = w
		d.loops.Add(1)
		go func() {
			defer d.loops.Done()
			w.run(ctx)
		}()
	}

	logging.Op().Info("dispatcher started", "credentials", len(credentials))
	return d, nil
}

// Submit enqueues a method call and returns a Call whose Result will
// eventually carry its outcome. Submit itself never blocks on the
// network: it only fails synchronously if the dispatcher is closed.
func (d *Dispatcher) Submit(ctx context.Context, m Method) (*Call, error) {
	if d.closing.Load() {
		return nil, ErrClosed
	}

	sink := make(chan Outcome, 1)
	e := envelope{method: m, sink: sink, correlationID: uuid.NewString()}
	if err := d.queue.Send(e); err != nil {
		return nil, fmt.Errorf("vkdispatch: submit: %w", ErrClosed)
	}
	return &Call{sink: sink}, nil
}

// Close signals every worker to stop pulling new work, waits for each to
// observe that signal and exit its loop, then closes the queue. Any
// envelope still queued at that point never reached a worker, so its sink
// is closed with ErrClosed rather than silently dropped. Close then waits
// for HTTP round trips already launched to finish delivering their
// outcomes, up to ctx's deadline, and finally releases the audit batcher
// if one is configured.
func (d *Dispatcher) Close(ctx context.Context) error {
	if !d.closing.CompareAndSwap(false, true) {
		return nil
	}

	d.cancel()
	d.loops.Wait()

	for _, e := range d.queue.Close() {
		e.deliver(Outcome{Err: ErrClosed})
	}

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	if d.audit != nil {
		d.audit.Shutdown(5 * time.Second)
	}

	logging.Op().Info("dispatcher closed")
	return nil
}
