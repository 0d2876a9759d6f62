package vkdispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Param is a single method parameter. Params are kept as an ordered slice
// rather than a map so that callers can repeat a key and so that the
// generated execute script serializes parameters in call order, matching
// what a caller would get from a direct method call.
type Param struct {
	Key   string
	Value string
}

// Method is one VK API call: a method name and its parameters. Method is
// immutable once constructed; Params returns a copy so callers can't mutate
// a Method shared between Submit calls.
type Method struct {
	name   string
	params []Param
}

// NewMethod builds a Method. The name must not be empty and must not refer
// to VK's own "execute" method: execute is how the dispatcher batches calls
// internally, and a caller-supplied execute script would bypass the
// batching and pacing this package provides.
func NewMethod(name string, params ...Param) (Method, error) {
	if name == "" {
		return Method{}, fmt.Errorf("vkdispatch: method name must not be empty")
	}
	if strings.HasPrefix(strings.ToLower(name), "execute") {
		return Method{}, fmt.Errorf("vkdispatch: method name %q is reserved: %w", name, ErrReservedMethodName)
	}
	cp := make([]Param, len(params))
	copy(cp, params)
	return Method{name: name, params: cp}, nil
}

// Name returns the VK method name, e.g. "users.get".
func (m Method) Name() string { return m.name }

// Params returns a copy of the method's ordered parameters.
func (m Method) Params() []Param {
	cp := make([]Param, len(m.params))
	copy(cp, m.params)
	return cp
}

// queryParams renders the parameters for inclusion in an HTTP query string,
// in declaration order, each value taken as-is (no further JSON encoding:
// VK's plain method calls take scalar query parameters).
func (m Method) queryParams() []Param {
	return m.params
}

// jsonParams renders the parameters as a JSON object for embedding in an
// execute script call, e.g. API.users.get({"user_ids":"1,2"}). Values are
// always encoded as JSON strings: VK accepts string-typed scalars for every
// documented parameter type, and a single consistent encoding keeps the
// compiler from having to guess a parameter's intended type.
func (m Method) jsonParams() (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range m.params {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.Key)
		if err != nil {
			return "", fmt.Errorf("vkdispatch: encode param key %q: %w", p.Key, err)
		}
		val, err := json.Marshal(p.Value)
		if err != nil {
			return "", fmt.Errorf("vkdispatch: encode param value for %q: %w", p.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.String(), nil
}
