// Package audit records an outcome log of dispatched calls to durable
// storage: one row per method call, independent of whether it travelled
// alone or folded into an execute batch. It is entirely optional; nothing
// in the dispatch path depends on it succeeding.
package audit

import (
	"context"
	"time"
)

// Record is one call's audit entry. CorrelationID is the UUID assigned to
// the envelope at submission time and doubles as the row's primary key,
// since no call produces more than one record.
type Record struct {
	CorrelationID   string
	CredentialIndex int
	Method          string
	GroupSize       int
	Success         bool
	ErrorKind       string
	ErrorCode       int
	ErrorMessage    string
	LatencyMs       int64
	CreatedAt       time.Time
}

// Sink persists Records. SaveBatch is the primary entry point; Save is a
// convenience for single records. Close releases any held resources.
type Sink interface {
	Save(ctx context.Context, r *Record) error
	SaveBatch(ctx context.Context, records []*Record) error
	Close() error
}

// NopSink discards every record. It is the default when no sink is
// configured, so callers of the batcher never need to nil-check.
type NopSink struct{}

func (NopSink) Save(context.Context, *Record) error             { return nil }
func (NopSink) SaveBatch(context.Context, []*Record) error       { return nil }
func (NopSink) Close() error                                     { return nil }
