package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/oriys/vkdispatch/internal/logging"
)

const (
	defaultBatchSize     = 100
	defaultBufferSize    = 1000
	defaultFlushInterval = 500 * time.Millisecond
	defaultSaveTimeout   = 5 * time.Second
	defaultMaxRetries    = 3
	defaultRetryInterval = 100 * time.Millisecond
)

// BatcherConfig tunes Batcher's buffering and retry behavior. A zero value
// is valid: every field falls back to a sane default.
type BatcherConfig struct {
	BatchSize     int
	BufferSize    int
	FlushInterval time.Duration
	SaveTimeout   time.Duration
	MaxRetries    int
	RetryInterval time.Duration
}

// Batcher accepts Records on its hot path without ever blocking on the
// underlying Sink: records are buffered and flushed by a background
// goroutine, either once BatchSize records have accumulated or once
// FlushInterval has elapsed, whichever comes first.
type Batcher struct {
	sink          Sink
	logger        *slog.Logger
	records       chan *Record
	flushInterval time.Duration
	batchSize     int
	saveTimeout   time.Duration
	maxRetries    int
	retryInterval time.Duration
	done          chan struct{}
}

// NewBatcher starts a Batcher writing to sink. If sink is nil, records are
// discarded.
func NewBatcher(sink Sink, cfg BatcherConfig) *Batcher {
	if sink == nil {
		sink = NopSink{}
	}
	b := &Batcher{
		sink:          sink,
		logger:        logging.Op(),
		records:       make(chan *Record, orDefault(cfg.BufferSize, defaultBufferSize)),
		flushInterval: orDefaultDuration(cfg.FlushInterval, defaultFlushInterval),
		batchSize:     orDefault(cfg.BatchSize, defaultBatchSize),
		saveTimeout:   orDefaultDuration(cfg.SaveTimeout, defaultSaveTimeout),
		maxRetries:    orDefault(cfg.MaxRetries, defaultMaxRetries),
		retryInterval: orDefaultDuration(cfg.RetryInterval, defaultRetryInterval),
		done:          make(chan struct{}),
	}
	go b.run()
	return b
}

// Enqueue hands off a Record for eventual persistence. It never blocks: if
// the internal buffer is full, the record is dropped and logged.
func (b *Batcher) Enqueue(r *Record) {
	select {
	case b.records <- r:
	default:
		b.logger.Warn("dropping audit record due to full buffer", "id", r.CorrelationID, "method", r.Method)
	}
}

// Shutdown flushes any buffered records and stops the background
// goroutine, waiting up to timeout for it to finish.
func (b *Batcher) Shutdown(timeout time.Duration) {
	close(b.records)
	select {
	case <-b.done:
	case <-time.After(timeout):
		b.logger.Warn("timeout waiting for audit batcher shutdown", "timeout", timeout)
	}
	b.sink.Close()
}

func (b *Batcher) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	batch := make([]*Record, 0, b.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		var lastErr error
		for attempt := 0; attempt < b.maxRetries; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), b.saveTimeout)
			lastErr = b.sink.SaveBatch(ctx, batch)
			cancel()
			if lastErr == nil {
				break
			}
			b.logger.Warn("failed to persist audit records, retrying",
				"error", lastErr, "count", len(batch), "attempt", attempt+1)
			time.Sleep(time.Duration(1<<uint(attempt)) * b.retryInterval)
		}
		if lastErr != nil {
			b.logger.Error("permanently failed to persist audit records", "error", lastErr, "count", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case r, ok := <-b.records:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= b.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
