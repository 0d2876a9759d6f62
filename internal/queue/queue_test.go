package queue

import (
	"context"
	"testing"
	"time"
)

func TestRecvGroupBlocksUntilSend(t *testing.T) {
	q := New[int]()
	done := make(chan []int, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		group, ok := q.RecvGroup(ctx, 24)
		if !ok {
			t.Error("expected ok")
		}
		done <- group
	}()

	time.Sleep(10 * time.Millisecond)
	if err := q.Send(1); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case group := <-done:
		if len(group) != 1 || group[0] != 1 {
			t.Fatalf("got %v, want [1]", group)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for RecvGroup")
	}
}

func TestRecvGroupDrainsBacklogAtomically(t *testing.T) {
	q := New[int]()
	for i := 0; i < 10; i++ {
		if err := q.Send(i); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	group, ok := q.RecvGroup(context.Background(), 3)
	if !ok {
		t.Fatal("expected ok")
	}
	if len(group) != 4 {
		t.Fatalf("got %d items, want 4 (1 head + 3 extra)", len(group))
	}
	if q.Len() != 6 {
		t.Fatalf("got %d items left, want 6", q.Len())
	}
}

func TestRecvGroupRespectsContext(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := q.RecvGroup(ctx, 0)
	if ok {
		t.Fatal("expected RecvGroup to give up once context is done")
	}
}

func TestCloseReturnsBacklogAndStopsConsumers(t *testing.T) {
	q := New[int]()
	if err := q.Send(1); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := q.Send(2); err != nil {
		t.Fatalf("send: %v", err)
	}

	remaining := q.Close()
	if len(remaining) != 2 {
		t.Fatalf("got %d remaining items, want 2", len(remaining))
	}

	_, ok := q.RecvGroup(context.Background(), 24)
	if ok {
		t.Fatal("expected RecvGroup to return false once closed, even with items returned by Close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	q := New[int]()
	if err := q.Send(1); err != nil {
		t.Fatalf("send: %v", err)
	}
	first := q.Close()
	if len(first) != 1 {
		t.Fatalf("got %d items from first Close, want 1", len(first))
	}
	second := q.Close()
	if second != nil {
		t.Fatalf("got %v from second Close, want nil", second)
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	q := New[int]()
	q.Close()
	if err := q.Send(1); err != ErrClosed {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}
