package vkdispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Request is a single outbound call the dispatcher needs executed: a POST
// to endpoint with the given query parameters and an empty body. VK's API
// accepts GET or POST for every method; the dispatcher always issues POST
// with an empty body and the parameters on the query string, matching the
// original client this package is modeled on.
type Request struct {
	URL    string
	Query  url.Values
	Header http.Header
}

// Response is the raw result of executing a Request. Body is the full
// response payload; the dispatcher parses it as either a single-call
// envelope or an execute-batch envelope depending on what was sent.
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport is the injected request-execution capability: everything the
// dispatcher needs to know about moving bytes to and from VK. Callers can
// supply their own Transport (to add retries, proxying, or request
// signing); NewHTTPTransport returns the default implementation.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// httpTransport is the default Transport, backed by one *http.Client.
// Connections are reused by every worker that holds the same Transport;
// NewCredential builds a fresh one per credential when none is given, so
// such credentials do not share connections.
type httpTransport struct {
	client *http.Client
}

// NewHTTPTransport returns a Transport backed by client. If client is nil,
// a client with a bounded idle-connection pool and a sane overall timeout
// is used.
func NewHTTPTransport(client *http.Client) Transport {
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &httpTransport{client: client}
}

func (t *httpTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	u := req.URL
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return nil, fmt.Errorf("vkdispatch: build request: %w", err)
	}
	httpReq.ContentLength = 0
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vkdispatch: read response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}
