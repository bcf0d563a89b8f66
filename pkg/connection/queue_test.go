package connection

import (
	"bytes"
	"fmt"
	"testing"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(10)
	q.Push([]byte("a"), "")
	q.Push([]byte("b"), "")
	q.Push([]byte("c"), "")

	if q.Len() != 3 {
		t.Fatalf("len = %d, want 3", q.Len())
	}

	msgs := q.Drain()
	if len(msgs) != 3 {
		t.Fatalf("drained %d, want 3", len(msgs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(msgs[i].Data) != want {
			t.Errorf("msg %d = %q, want %q", i, msgs[i].Data, want)
		}
	}
	if q.Len() != 0 {
		t.Errorf("len after drain = %d, want 0", q.Len())
	}
}

func TestQueueEvictsOldest(t *testing.T) {
	q := NewQueue(3)
	for i := 0; i < 5; i++ {
		q.Push([]byte{byte('a' + i)}, "")
	}

	if q.Dropped() != 2 {
		t.Errorf("dropped = %d, want 2", q.Dropped())
	}

	msgs := q.Drain()
	want := []string{"c", "d", "e"}
	if len(msgs) != len(want) {
		t.Fatalf("drained %d, want %d", len(msgs), len(want))
	}
	for i := range want {
		if string(msgs[i].Data) != want[i] {
			t.Errorf("msg %d = %q, want %q", i, msgs[i].Data, want[i])
		}
	}
}

func TestQueueRequeuePreservesOrder(t *testing.T) {
	q := NewQueue(10)
	q.Push([]byte("new"), "")

	q.Requeue([]PendingMessage{
		{Data: []byte("old1")},
		{Data: []byte("old2")},
	})

	msgs := q.Drain()
	want := []string{"old1", "old2", "new"}
	for i := range want {
		if string(msgs[i].Data) != want[i] {
			t.Errorf("msg %d = %q, want %q", i, msgs[i].Data, want[i])
		}
	}
}

func TestQueueRequeueOverflowTrimsNewest(t *testing.T) {
	q := NewQueue(3)
	q.Push([]byte("n1"), "")
	q.Push([]byte("n2"), "")

	q.Requeue([]PendingMessage{
		{Data: []byte("o1")},
		{Data: []byte("o2")},
	})

	if q.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", q.Dropped())
	}
	msgs := q.Drain()
	want := []string{"o1", "o2", "n1"}
	if len(msgs) != len(want) {
		t.Fatalf("drained %d, want %d", len(msgs), len(want))
	}
	for i := range want {
		if string(msgs[i].Data) != want[i] {
			t.Errorf("msg %d = %q, want %q", i, msgs[i].Data, want[i])
		}
	}
}

func TestQueueCorrelationID(t *testing.T) {
	q := NewQueue(10)
	q.Push([]byte("x"), "corr-1")

	msgs := q.Drain()
	if msgs[0].CorrelationID != "corr-1" {
		t.Errorf("correlation id = %q, want corr-1", msgs[0].CorrelationID)
	}
	if msgs[0].EnqueuedAt.IsZero() {
		t.Error("enqueued timestamp not set")
	}
}

func TestQueueDataIsolation(t *testing.T) {
	q := NewQueue(10)
	data := []byte("payload")
	q.Push(data, "")

	msgs := q.Drain()
	if !bytes.Equal(msgs[0].Data, []byte("payload")) {
		t.Errorf("data = %q, want payload", msgs[0].Data)
	}
}

func TestQueueDefaultBound(t *testing.T) {
	q := NewQueue(0)
	for i := 0; i < DefaultMaxQueueLength+5; i++ {
		q.Push([]byte(fmt.Sprintf("m%d", i)), "")
	}
	if q.Len() != DefaultMaxQueueLength {
		t.Errorf("len = %d, want %d", q.Len(), DefaultMaxQueueLength)
	}
	if q.Dropped() != 5 {
		t.Errorf("dropped = %d, want 5", q.Dropped())
	}
}
