package vkdispatch

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/oriys/vkdispatch/internal/audit"
	"github.com/oriys/vkdispatch/internal/logging"
	"github.com/oriys/vkdispatch/internal/metrics"
	"github.com/oriys/vkdispatch/internal/observability"
	"github.com/oriys/vkdispatch/internal/queue"
	"github.com/oriys/vkdispatch/internal/vkscript"
)

// worker owns one credential's traffic: it pulls envelopes off the shared
// queue, folds whatever else is immediately available into the same
// dispatch, and paces the next pull by the credential's interval measured
// from when the dispatch was launched, not when its response arrived.
type worker struct {
	index    int
	cred     Credential
	queue    *queue.Queue[envelope]
	inflight *sync.WaitGroup
	metrics  *metrics.Collector
	audit    *audit.Batcher
	tracing  bool
}

func (w *worker) label() string {
	return strconv.Itoa(w.index)
}

// run pulls and dispatches groups until ctx is done or the queue is
// closed and drained.
func (w *worker) run(ctx context.Context) {
	logger := logging.Op()
	for {
		group, ok := w.queue.RecvGroup(ctx, MaxGroupSize-1)
		if !ok {
			return
		}
		launched := time.Now()
		w.dispatch(ctx, group)
		if w.metrics != nil {
			w.metrics.SetQueueDepth(w.queue.Len())
		}
		logger.Debug("dispatched group", "credential", w.label(), "size", len(group))

		elapsed := time.Since(launched)
		if wait := w.cred.interval - elapsed; wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
		}
	}
}

// dispatch launches the HTTP call (and, for groups of more than one, the
// execute script compile) in its own goroutine and returns immediately:
// the pacing loop in run must not block on the network.
func (w *worker) dispatch(ctx context.Context, group []envelope) {
	w.inflight.Add(1)
	logger := logging.Op()
	go func() {
		defer w.inflight.Done()

		spanCtx := ctx
		var sp trace.Span
		if w.tracing {
			spanCtx, sp = observability.StartSpan(ctx, "vkdispatch.group",
				observability.AttrCredentialIndex.Int(w.index),
				observability.AttrGroupSize.Int(len(group)),
				observability.AttrMethodNames.String(methodNames(group)),
				observability.AttrCorrelationID.String(correlationIDs(group)),
			)
			defer sp.End()
		}

		start := time.Now()
		if w.metrics != nil {
			w.metrics.IncInFlight(w.label())
			defer w.metrics.DecInFlight(w.label())
		}

		// The round trip must outlive the worker loop's own cancellation:
		// once a group has been pulled off the queue, Close waits for it
		// to finish rather than aborting it. netCtx keeps spanCtx's values
		// (the span, for attributes) but drops its cancellation.
		netCtx := context.WithoutCancel(spanCtx)

		var outcomes []Outcome
		if len(group) == 1 {
			outcomes = []Outcome{w.dispatchSingle(netCtx, group[0].method)}
		} else {
			outcomes = w.dispatchBatch(netCtx, group)
		}

		latency := time.Since(start)
		if w.metrics != nil {
			w.metrics.ObserveDispatch(w.label(), len(group), latency)
		}

		if w.tracing {
			sp.SetAttributes(observability.AttrDurationMs.Int64(latency.Milliseconds()))
			if groupErr := firstError(outcomes); groupErr != nil {
				observability.SetSpanError(sp, groupErr)
			} else {
				observability.SetSpanOK(sp)
			}
		}

		failureLogger := logger
		if w.tracing {
			sc := sp.SpanContext()
			failureLogger = logging.OpWithTrace(sc.TraceID().String(), sc.SpanID().String())
		}

		for i, e := range group {
			o := outcomes[i]
			if o.Err != nil {
				kind := errorKind(o.Err)
				if w.metrics != nil {
					w.metrics.IncError(kind)
				}
				if kind == KindTransport.String() || kind == KindMalformed.String() {
					failureLogger.Warn("dispatch failed", "credential", w.label(), "method", e.method.Name(), "kind", kind, "error", o.Err)
				}
			}
			e.deliver(o)
			w.recordAudit(e.correlationID, e.method.Name(), len(group), o, latency)
		}
	}()
}

func methodNames(group []envelope) string {
	var b []byte
	for i, e := range group {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, e.method.Name()...)
	}
	return string(b)
}

func correlationIDs(group []envelope) string {
	var b []byte
	for i, e := range group {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, e.correlationID...)
	}
	return string(b)
}

func firstError(outcomes []Outcome) error {
	for _, o := range outcomes {
		if o.Err != nil {
			return o.Err
		}
	}
	return nil
}

func errorKind(err error) string {
	de, ok := err.(*DispatchError)
	if !ok {
		return "unknown"
	}
	return de.Kind.String()
}

func (w *worker) recordAudit(correlationID, methodName string, groupSize int, o Outcome, latency time.Duration) {
	if w.audit == nil {
		return
	}
	r := &audit.Record{
		CorrelationID:   correlationID,
		CredentialIndex: w.index,
		Method:          methodName,
		GroupSize:       groupSize,
		Success:         o.Err == nil,
		LatencyMs:       latency.Milliseconds(),
		CreatedAt:       time.Now(),
	}
	if de, ok := o.Err.(*DispatchError); ok {
		r.ErrorKind = de.Kind.String()
		if de.API != nil {
			r.ErrorCode = de.API.Code
			r.ErrorMessage = de.API.Message
		} else if de.Err != nil {
			r.ErrorMessage = de.Err.Error()
		}
	}
	w.audit.Enqueue(r)
}

// dispatchSingle issues a plain method call (no execute batching) and
// parses its single-call response envelope.
func (w *worker) dispatchSingle(ctx context.Context, m Method) Outcome {
	query := url.Values{}
	for _, p := range m.queryParams() {
		query.Add(p.Key, p.Value)
	}
	query.Set("access_token", w.cred.token)
	query.Set("v", w.cred.apiVersion)

	req := &Request{URL: w.cred.endpoint + "method/" + m.Name(), Query: query}
	resp, err := w.cred.transport.Do(ctx, req)
	if err != nil {
		return Outcome{Err: &DispatchError{Kind: KindTransport, Err: err}}
	}
	return parseSingle(resp.Body)
}

// dispatchBatch compiles group into an execute script, issues it as a
// single HTTP call, and parses the resulting batch envelope.
func (w *worker) dispatchBatch(ctx context.Context, group []envelope) []Outcome {
	calls := make([]vkscript.Call, len(group))
	for i, e := range group {
		jsonParams, err := e.method.jsonParams()
		if err != nil {
			shared := &DispatchError{Kind: KindMalformed, Err: err}
			return fill(len(group), shared)
		}
		calls[i] = vkscript.Call{Name: e.method.Name(), JSONParams: jsonParams}
	}

	script, err := vkscript.Compile(calls)
	if err != nil {
		return fill(len(group), &DispatchError{Kind: KindMalformed, Err: err})
	}

	query := url.Values{}
	query.Set("code", script)
	query.Set("access_token", w.cred.token)
	query.Set("v", w.cred.apiVersion)

	req := &Request{URL: w.cred.endpoint + "method/execute", Query: query}
	resp, err := w.cred.transport.Do(ctx, req)
	if err != nil {
		return fill(len(group), &DispatchError{Kind: KindTransport, Err: err})
	}

	outcomes, shared := parseBatch(resp.Body, len(group))
	if shared != nil {
		return fill(len(group), shared)
	}
	return outcomes
}

// fill builds a same-error outcome slice: the one DispatchError value is
// shared by every slot, not deep-copied.
func fill(n int, shared *DispatchError) []Outcome {
	out := make([]Outcome, n)
	for i := range out {
		out[i] = Outcome{Err: shared}
	}
	return out
}
