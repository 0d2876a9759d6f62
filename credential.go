package vkdispatch

import (
	"fmt"
	"time"
)

const (
	// DefaultEndpoint is VK's API base URL.
	DefaultEndpoint = "https://api.vk.com/"
	// DefaultAPIVersion is the VK API version sent with every call.
	DefaultAPIVersion = "5.103"
	// DefaultInterval is the minimum time between successive dispatches
	// issued under one credential.
	DefaultInterval = 334 * time.Millisecond
	// MaxGroupSize is the most method calls the dispatcher will fold into
	// a single execute batch, VK's own limit on nested calls.
	MaxGroupSize = 25
)

// Credential is one token's worth of dispatch configuration: the access
// token itself, the endpoint and API version to call it against, the
// minimum spacing between dispatches, and the transport used to reach VK.
// A Dispatcher runs exactly one worker per Credential, so the number of
// Credentials handed to New is the degree of outbound concurrency.
type Credential struct {
	token      string
	endpoint   string
	apiVersion string
	interval   time.Duration
	transport  Transport
}

// CredentialOption configures a Credential built by NewCredential.
type CredentialOption func(*Credential)

// WithEndpoint overrides the API base URL.
func WithEndpoint(endpoint string) CredentialOption {
	return func(c *Credential) { c.endpoint = endpoint }
}

// WithAPIVersion overrides the VK API version string.
func WithAPIVersion(version string) CredentialOption {
	return func(c *Credential) { c.apiVersion = version }
}

// WithInterval overrides the minimum spacing between dispatches for this
// credential.
func WithInterval(interval time.Duration) CredentialOption {
	return func(c *Credential) { c.interval = interval }
}

// WithTransport overrides the request-execution capability for this
// credential. Defaults to NewHTTPTransport(nil).
func WithTransport(t Transport) CredentialOption {
	return func(c *Credential) { c.transport = t }
}

// NewCredential builds a Credential from a token and optional overrides.
// The token must not be empty.
func NewCredential(token string, opts ...CredentialOption) (Credential, error) {
	if token == "" {
		return Credential{}, fmt.Errorf("vkdispatch: credential token must not be empty")
	}
	c := Credential{
		token:      token,
		endpoint:   DefaultEndpoint,
		apiVersion: DefaultAPIVersion,
		interval:   DefaultInterval,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.transport == nil {
		c.transport = NewHTTPTransport(nil)
	}
	if c.interval < 0 {
		return Credential{}, fmt.Errorf("vkdispatch: interval must not be negative")
	}
	return c, nil
}

// Token returns the access token. Exposed for callers that want to log or
// key metrics on the credential without retaining the dispatcher's
// internal handle.
func (c Credential) Token() string { return c.token }
