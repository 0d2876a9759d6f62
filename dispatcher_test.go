package vkdispatch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeTransport records every request it receives and answers with
// whatever respond returns for it. It is safe for concurrent use since a
// dispatcher with several credentials runs one worker per credential
// concurrently.
type fakeTransport struct {
	mu       sync.Mutex
	requests []*Request
	respond  func(req *Request) (*Response, error)
}

func (f *fakeTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newCredential(t *testing.T, transport Transport, interval time.Duration) Credential {
	t.Helper()
	c, err := NewCredential("test-token", WithTransport(transport), WithInterval(interval))
	if err != nil {
		t.Fatalf("NewCredential: %v", err)
	}
	return c
}

func TestSubmitSingleCall(t *testing.T) {
	transport := &fakeTransport{
		respond: func(req *Request) (*Response, error) {
			return &Response{StatusCode: 200, Body: []byte(`{"response":42}`)}, nil
		},
	}
	d, err := New([]Credential{newCredential(t, transport, time.Millisecond)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close(context.Background())

	m, err := NewMethod("users.get")
	if err != nil {
		t.Fatalf("NewMethod: %v", err)
	}
	call, err := d.Submit(context.Background(), m)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	value, err := call.Result(context.Background())
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if string(value) != "42" {
		t.Fatalf("got %s, want 42", value)
	}
	if transport.calls() != 1 {
		t.Fatalf("got %d requests, want 1", transport.calls())
	}
}

func TestSubmitFoldsConcurrentCallsIntoExecuteBatch(t *testing.T) {
	var executeCalls int
	var mu sync.Mutex
	transport := &fakeTransport{
		respond: func(req *Request) (*Response, error) {
			mu.Lock()
			executeCalls++
			mu.Unlock()
			code := req.Query.Get("code")
			if code == "" {
				return &Response{StatusCode: 200, Body: []byte(`{"response":1}`)}, nil
			}
			// Count how many API. calls are embedded, answer with that many slots.
			n := strings.Count(code, "API.")
			body := `{"response":[`
			for i := 0; i < n; i++ {
				if i > 0 {
					body += ","
				}
				body += fmt.Sprintf("%d", i)
			}
			body += `]}`
			return &Response{StatusCode: 200, Body: []byte(body)}, nil
		},
	}

	d, err := New([]Credential{newCredential(t, transport, 50*time.Millisecond)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close(context.Background())

	const n = 10
	calls := make([]*Call, n)
	for i := 0; i < n; i++ {
		m, err := NewMethod("users.get", Param{Key: "user_id", Value: fmt.Sprintf("%d", i)})
		if err != nil {
			t.Fatalf("NewMethod: %v", err)
		}
		call, err := d.Submit(context.Background(), m)
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		calls[i] = call
	}

	for _, call := range calls {
		if _, err := call.Result(context.Background()); err != nil {
			t.Fatalf("Result: %v", err)
		}
	}

	if transport.calls() >= n {
		t.Fatalf("got %d HTTP requests for %d submitted calls, expected folding into fewer batches", transport.calls(), n)
	}
}

func TestSubmitDeliversPerCallError(t *testing.T) {
	transport := &fakeTransport{
		respond: func(req *Request) (*Response, error) {
			return &Response{StatusCode: 200, Body: []byte(
				`{"response":[false,2],"execute_errors":[{"error_code":5,"error_msg":"bad token"}]}`,
			)}, nil
		},
	}
	d, err := New([]Credential{newCredential(t, transport, time.Millisecond)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close(context.Background())

	m1, _ := NewMethod("a.get")
	m2, _ := NewMethod("b.get")
	c1, err := d.Submit(context.Background(), m1)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	c2, err := d.Submit(context.Background(), m2)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, err := c1.Result(context.Background()); err == nil {
		t.Fatal("expected an error for the first call")
	} else if de, ok := err.(*DispatchError); !ok || de.Kind != KindOwned {
		t.Fatalf("got %v, want a KindOwned DispatchError", err)
	}

	value, err := c2.Result(context.Background())
	if err != nil {
		t.Fatalf("Result for second call: %v", err)
	}
	if string(value) != "2" {
		t.Fatalf("got %s, want 2", value)
	}
}

func TestSubmitFansOutSharedAPIError(t *testing.T) {
	transport := &fakeTransport{
		respond: func(req *Request) (*Response, error) {
			return &Response{StatusCode: 200, Body: []byte(`{"error":{"error_code":10,"error_msg":"internal server error"}}`)}, nil
		},
	}
	d, err := New([]Credential{newCredential(t, transport, 30*time.Millisecond)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close(context.Background())

	m1, _ := NewMethod("a.get")
	m2, _ := NewMethod("b.get")
	c1, _ := d.Submit(context.Background(), m1)
	c2, _ := d.Submit(context.Background(), m2)

	_, err1 := c1.Result(context.Background())
	_, err2 := c2.Result(context.Background())
	for _, err := range []error{err1, err2} {
		de, ok := err.(*DispatchError)
		if !ok || de.Kind != KindShared {
			t.Fatalf("got %v, want a KindShared DispatchError", err)
		}
	}
}

func TestSubmitFansOutTransportError(t *testing.T) {
	transport := &fakeTransport{
		respond: func(req *Request) (*Response, error) {
			return nil, fmt.Errorf("connection refused")
		},
	}
	d, err := New([]Credential{newCredential(t, transport, time.Millisecond)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close(context.Background())

	m, _ := NewMethod("a.get")
	call, err := d.Submit(context.Background(), m)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, err = call.Result(context.Background())
	de, ok := err.(*DispatchError)
	if !ok || de.Kind != KindTransport {
		t.Fatalf("got %v, want a KindTransport DispatchError", err)
	}
}

func TestNewMethodRejectsReservedName(t *testing.T) {
	if _, err := NewMethod("execute"); err == nil {
		t.Fatal("expected an error for a method named execute")
	}
}

func TestNewRejectsEmptyCredentialSet(t *testing.T) {
	if _, err := New(nil); err != ErrNoCredentials {
		t.Fatalf("got %v, want ErrNoCredentials", err)
	}
}

func TestSubmitAfterCloseFails(t *testing.T) {
	transport := &fakeTransport{
		respond: func(req *Request) (*Response, error) {
			return &Response{StatusCode: 200, Body: []byte(`{"response":1}`)}, nil
		},
	}
	d, err := New([]Credential{newCredential(t, transport, time.Millisecond)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m, _ := NewMethod("a.get")
	if _, err := d.Submit(context.Background(), m); err != ErrClosed {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}

func TestCloseFailsBacklogNeverHandedToAWorker(t *testing.T) {
	transport := &fakeTransport{
		respond: func(req *Request) (*Response, error) {
			return &Response{StatusCode: 200, Body: []byte(`{"response":1}`)}, nil
		},
	}
	d, err := New([]Credential{newCredential(t, transport, 5 * time.Second)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m, _ := NewMethod("a.get")
	first, err := d.Submit(context.Background(), m)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Give the worker time to pick up the first call and enter its
	// pacing sleep, so the second call is left sitting in the queue.
	time.Sleep(50 * time.Millisecond)

	second, err := d.Submit(context.Background(), m)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Close(closeCtx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := first.Result(context.Background()); err != nil {
		t.Fatalf("first call should have been dispatched before Close, got %v", err)
	}
	if _, err := second.Result(context.Background()); err != ErrClosed {
		t.Fatalf("got %v, want ErrClosed for a call never handed to a worker", err)
	}
	if got := transport.calls(); got != 1 {
		t.Fatalf("got %d transport calls, want 1 (the backlog call must never dispatch)", got)
	}
}

// slowTransport sleeps past when Close is expected to have cancelled the
// worker loop's context, then reports whether the context it was actually
// handed was itself cancelled.
type slowTransport struct {
	delay     time.Duration
	sawCancel chan bool
}

func (s *slowTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	time.Sleep(s.delay)
	s.sawCancel <- ctx.Err() != nil
	return &Response{StatusCode: 200, Body: []byte(`{"response":1}`)}, nil
}

func TestCloseLetsAnInFlightRequestFinishUncancelled(t *testing.T) {
	transport := &slowTransport{delay: 150 * time.Millisecond, sawCancel: make(chan bool, 1)}
	d, err := New([]Credential{newCredential(t, transport, time.Millisecond)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m, _ := NewMethod("a.get")
	call, err := d.Submit(context.Background(), m)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Give the worker time to pull the call off the queue and start the
	// slow request before Close cancels the worker loop's context.
	time.Sleep(30 * time.Millisecond)

	closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	closeDone := make(chan error, 1)
	go func() { closeDone <- d.Close(closeCtx) }()

	select {
	case cancelledDuringRequest := <-transport.sawCancel:
		if cancelledDuringRequest {
			t.Fatal("in-flight request's context was cancelled by Close, want it to run to completion")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transport never observed the in-flight request")
	}

	if err := <-closeDone; err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := call.Result(context.Background()); err != nil {
		t.Fatalf("in-flight call should have delivered a real outcome, got %v", err)
	}
}

func TestWorkerPacesDispatchesByInterval(t *testing.T) {
	var times []time.Time
	var mu sync.Mutex
	transport := &fakeTransport{
		respond: func(req *Request) (*Response, error) {
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
			return &Response{StatusCode: 200, Body: []byte(`{"response":1}`)}, nil
		},
	}
	interval := 40 * time.Millisecond
	d, err := New([]Credential{newCredential(t, transport, interval)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close(context.Background())

	for i := 0; i < 3; i++ {
		m, _ := NewMethod("a.get")
		call, err := d.Submit(context.Background(), m)
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if _, err := call.Result(context.Background()); err != nil {
			t.Fatalf("Result: %v", err)
		}
		time.Sleep(interval) // ensure each call lands in its own dispatch
	}

	mu.Lock()
	defer mu.Unlock()
	if len(times) < 2 {
		t.Fatalf("expected at least two dispatches, got %d", len(times))
	}
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		if gap < interval-5*time.Millisecond {
			t.Fatalf("dispatch %d came only %v after the previous one, want at least %v", i, gap, interval)
		}
	}
}

func TestMethodQueryParamsIncludeCredential(t *testing.T) {
	var gotQuery url.Values
	transport := &fakeTransport{
		respond: func(req *Request) (*Response, error) {
			gotQuery = req.Query
			return &Response{StatusCode: 200, Body: []byte(`{"response":1}`)}, nil
		},
	}
	d, err := New([]Credential{newCredential(t, transport, time.Millisecond)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close(context.Background())

	m, _ := NewMethod("users.get", Param{Key: "user_id", Value: "7"})
	call, err := d.Submit(context.Background(), m)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := call.Result(context.Background()); err != nil {
		t.Fatalf("Result: %v", err)
	}

	if gotQuery.Get("user_id") != "7" {
		t.Fatalf("got user_id=%q, want 7", gotQuery.Get("user_id"))
	}
	if gotQuery.Get("access_token") != "test-token" {
		t.Fatalf("got access_token=%q, want test-token", gotQuery.Get("access_token"))
	}
	if gotQuery.Get("v") != DefaultAPIVersion {
		t.Fatalf("got v=%q, want %q", gotQuery.Get("v"), DefaultAPIVersion)
	}
}
