package vkdispatch

import (
	"encoding/json"
	"fmt"
	"strings"
)

// rawAPIError mirrors the JSON shape of a VK error object, independent of
// whether it appears as a top-level "error" or inside "execute_errors".
type rawAPIError struct {
	ErrorCode     int               `json:"error_code"`
	ErrorMsg      string            `json:"error_msg"`
	RequestParams []rawRequestParam `json:"request_params"`
}

type rawRequestParam struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (r rawAPIError) toAPIError() *APIError {
	params := make([]RequestParam, len(r.RequestParams))
	for i, p := range r.RequestParams {
		params[i] = RequestParam{Key: p.Key, Value: p.Value}
	}
	return &APIError{Code: r.ErrorCode, Message: r.ErrorMsg, RequestParams: params}
}

// rawEnvelope covers both the single-call response shape and the
// execute-batch shape. execute_errors is deliberately the plural key VK
// actually documents; a response carrying the singular "execute_error"
// instead is treated as having no per-call errors rather than guessed at.
type rawEnvelope struct {
	Response      json.RawMessage `json:"response"`
	Error         *rawAPIError    `json:"error"`
	ExecuteErrors []rawAPIError   `json:"execute_errors"`
}

// parseSingle parses the response to a plain (non-batched) method call.
func parseSingle(body []byte) Outcome {
	var env rawEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Outcome{Err: &DispatchError{Kind: KindMalformed, Err: fmt.Errorf("decode response: %w", err)}}
	}
	if env.Error != nil {
		return Outcome{Err: &DispatchError{Kind: KindOwned, API: env.Error.toAPIError()}}
	}
	if env.Response == nil {
		return Outcome{Err: &DispatchError{Kind: KindMalformed, Err: fmt.Errorf("response has neither \"response\" nor \"error\"")}}
	}
	return Outcome{Value: env.Response}
}

// parseBatch parses the response to an execute call covering k method
// calls. On success it returns exactly k outcomes in call order. A
// whole-batch failure (the top-level "error" envelope, or a response that
// doesn't parse at all) is reported as a single shared DispatchError for
// the caller to fan out to every call in the group, rather than as k
// separate errors.
func parseBatch(body []byte, k int) (outcomes []Outcome, shared *DispatchError) {
	var env rawEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &DispatchError{Kind: KindMalformed, Err: fmt.Errorf("decode response: %w", err)}
	}
	if env.Error != nil {
		return nil, &DispatchError{Kind: KindShared, API: env.Error.toAPIError()}
	}
	if env.Response == nil {
		return nil, &DispatchError{Kind: KindMalformed, Err: fmt.Errorf("response has neither \"response\" nor \"error\"")}
	}

	var slots []json.RawMessage
	if err := json.Unmarshal(env.Response, &slots); err != nil {
		return nil, &DispatchError{Kind: KindMalformed, Err: fmt.Errorf("decode response array: %w", err)}
	}
	if len(slots) != k {
		return nil, &DispatchError{Kind: KindMalformed, Err: fmt.Errorf("response array has %d entries, want %d", len(slots), k)}
	}

	outcomes = make([]Outcome, k)
	errIdx := 0
	for i, raw := range slots {
		if !isJSONFalse(raw) {
			outcomes[i] = Outcome{Value: raw}
			continue
		}
		if errIdx >= len(env.ExecuteErrors) {
			return nil, &DispatchError{Kind: KindMalformed, Err: fmt.Errorf("slot %d reported failure but execute_errors has only %d entries", i, len(env.ExecuteErrors))}
		}
		outcomes[i] = Outcome{Err: &DispatchError{Kind: KindOwned, API: env.ExecuteErrors[errIdx].toAPIError()}}
		errIdx++
	}
	return outcomes, nil
}

func isJSONFalse(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "false"
}
