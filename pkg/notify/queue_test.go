package notify

import (
	"encoding/json"
	"testing"
)

func TestTryEnqueueRendersPayload(t *testing.T) {
	q := NewQueue(4)
	n := Notification{User: "bob", Thread: "t1", Title: "Alice", Body: "hi", Badge: 3, TS: 42}
	if err := q.TryEnqueue(n); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	it := <-q.Out()
	defer it.Done()

	if it.N.User != "bob" || it.N.Badge != 3 {
		t.Fatalf("unexpected item %+v", it.N)
	}
	var decoded Notification
	if err := json.Unmarshal(it.N.Payload, &decoded); err != nil {
		t.Fatalf("payload not valid json: %v", err)
	}
	if decoded.Title != "Alice" || decoded.Body != "hi" {
		t.Fatalf("payload round-trip lost fields: %+v", decoded)
	}
}

func TestTryEnqueueDropsWhenFull(t *testing.T) {
	q := NewQueue(2)
	for i := 0; i < 2; i++ {
		if err := q.TryEnqueue(Notification{User: "u"}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if err := q.TryEnqueue(Notification{User: "u"}); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if q.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", q.Dropped())
	}
	if q.Len() != 2 {
		t.Fatalf("len = %d, want 2", q.Len())
	}
}

func TestDoneIsIdempotent(t *testing.T) {
	q := NewQueue(1)
	if err := q.TryEnqueue(Notification{User: "u"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	it := <-q.Out()
	it.Done()
	it.Done() // second call must not double-release the pooled buffer
}

func TestCloseAndDrainReleasesBuffered(t *testing.T) {
	q := NewQueue(4)
	for i := 0; i < 3; i++ {
		if err := q.TryEnqueue(Notification{User: "u"}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	q.CloseAndDrain()
	if _, ok := <-q.Out(); ok {
		t.Fatal("queue must be closed and empty after drain")
	}
}

func TestDefaultCapacity(t *testing.T) {
	if got := NewQueue(0).Cap(); got != 1024 {
		t.Fatalf("default capacity %d, want 1024", got)
	}
	if got := NewQueue(16).Cap(); got != 16 {
		t.Fatalf("capacity %d, want 16", got)
	}
}
