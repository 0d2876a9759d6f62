package vkdispatch

import (
	"errors"
	"fmt"
)

// ErrReservedMethodName is wrapped in the error NewMethod returns for a
// method name beginning with "execute" (in any letter case): that name is
// reserved for the batches this package builds internally.
var ErrReservedMethodName = errors.New("vkdispatch: \"execute\" is a reserved method name")

// ErrNoCredentials is returned by New when given an empty credential set:
// a dispatcher with no workers could never make progress.
var ErrNoCredentials = errors.New("vkdispatch: at least one credential is required")

// ErrClosed is returned by Submit once the dispatcher has begun shutting
// down, and is the error delivered to any Call whose envelope was still
// queued, never handed to a worker, when Close runs. Calls a worker had
// already taken still receive their real outcome.
var ErrClosed = errors.New("vkdispatch: dispatcher is closed")

// Kind distinguishes the four ways a dispatch can fail.
type Kind int

const (
	// KindOwned is a failure VK reported for one call, either as the
	// "error" envelope of a plain call or as an execute_errors entry inside
	// an execute batch: only the call that produced it is affected.
	KindOwned Kind = iota
	// KindShared is a failure reported by VK for the whole batch (the
	// "error" envelope instead of "response"): every call in the group
	// that submitted the batch fails identically.
	KindShared
	// KindTransport is a failure to complete the HTTP round trip at all
	// (connection refused, timeout, or a non-2xx status the Transport
	// itself reports as an error; the default Transport returns non-2xx
	// responses as ordinary responses, which are then parsed): every call in the
	// group that shared the failed request fails identically.
	KindTransport
	// KindMalformed is a failure to make sense of a response VK did
	// return: the body didn't match either envelope shape, or an
	// execute_errors slot didn't line up with a false response entry.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindOwned:
		return "owned"
	case KindShared:
		return "shared"
	case KindTransport:
		return "transport"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// RequestParam is one parameter VK echoed back as part of an APIError,
// describing what it received for that call.
type RequestParam struct {
	Key   string
	Value string
}

// APIError is VK's own error shape: a numeric code, a human message, and
// (for some error codes) the request parameters VK saw.
type APIError struct {
	Code          int
	Message       string
	RequestParams []RequestParam
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vkdispatch: vk error %d: %s", e.Code, e.Message)
}

// DispatchError is the error delivered through a Call's Result when a call
// did not succeed. Kind says what sort of failure this is; for KindOwned
// and KindShared, API is the VK error that caused it; for KindTransport,
// Unwrap returns the underlying transport error; for KindMalformed, Err
// describes what was wrong with the response.
type DispatchError struct {
	Kind Kind
	API  *APIError
	Err  error
}

func (e *DispatchError) Error() string {
	switch e.Kind {
	case KindOwned, KindShared:
		if e.API != nil {
			return fmt.Sprintf("vkdispatch: %s error: %s", e.Kind, e.API.Error())
		}
	}
	if e.Err != nil {
		return fmt.Sprintf("vkdispatch: %s error: %s", e.Kind, e.Err.Error())
	}
	return fmt.Sprintf("vkdispatch: %s error", e.Kind)
}

func (e *DispatchError) Unwrap() error { return e.Err }
