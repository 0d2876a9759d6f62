package vkdispatch

import (
	"context"
	"encoding/json"
)

// Outcome is the result delivered to a Call's sink: either a raw JSON
// value (the call succeeded) or an error (it didn't). Exactly one of the
// two is meaningful; a successful Outcome's Err is nil.
type Outcome struct {
	Value json.RawMessage
	Err   error
}

// Call is the handle Submit returns for a single method dispatch. It is a
// one-shot future: exactly one Outcome is ever delivered to it.
type Call struct {
	sink chan Outcome
}

// Result blocks until the dispatcher has delivered an Outcome for this
// call or ctx is done, whichever comes first.
func (c *Call) Result(ctx context.Context) (json.RawMessage, error) {
	select {
	case o, ok := <-c.sink:
		if !ok {
			return nil, ErrClosed
		}
		return o.Value, o.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// envelope pairs a method call with the one-shot sink its result must be
// delivered to exactly once. Envelopes are the unit the shared queue moves
// between Submit and a credential's worker. correlationID is assigned at
// submission time and used only for log/trace/audit correlation; it never
// reaches the provider and has no effect on dispatch semantics.
type envelope struct {
	method        Method
	sink          chan Outcome
	correlationID string
}

// deliver sends an Outcome to e's sink. Sinks are always created with a
// buffer of one, so this never blocks: Submit doesn't have to already be
// waiting in Result for the worker to make progress.
func (e envelope) deliver(o Outcome) {
	e.sink <- o
}
