package pipeline

import (
	"testing"
	"time"

	"offerwatchd/internal/event"
)

func rawTask(id string) task {
	return task{raw: &event.Raw{ID: id}}
}

func TestQueueFIFO(t *testing.T) {
	q := newQueue(3)

	for _, id := range []string{"a", "b", "c"} {
		dropped, ok := q.push(rawTask(id))
		if !ok || dropped {
			t.Fatalf("push(%s) = dropped=%v ok=%v", id, dropped, ok)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.tryPop()
		if !ok {
			t.Fatalf("tryPop ran dry, want %s", want)
		}
		if got.raw.ID != want {
			t.Errorf("popped %s, want %s", got.raw.ID, want)
		}
	}
	if _, ok := q.tryPop(); ok {
		t.Error("tryPop on empty queue must report not ok")
	}
}

func TestQueueDropsOldest(t *testing.T) {
	q := newQueue(2)
	q.push(rawTask("a"))
	q.push(rawTask("b"))

	dropped, ok := q.push(rawTask("c"))
	if !ok {
		t.Fatal("push on full queue must still accept")
	}
	if !dropped {
		t.Fatal("push on full queue must report the drop")
	}

	got, _ := q.tryPop()
	if got.raw.ID != "b" {
		t.Errorf("head after overflow = %s, want b (a dropped)", got.raw.ID)
	}
	got, _ = q.tryPop()
	if got.raw.ID != "c" {
		t.Errorf("tail after overflow = %s, want c", got.raw.ID)
	}
}

func TestQueueSignal(t *testing.T) {
	q := newQueue(4)

	select {
	case <-q.wait():
		t.Fatal("signal fired on empty queue")
	default:
	}

	q.push(rawTask("a"))
	select {
	case <-q.wait():
	case <-time.After(time.Second):
		t.Fatal("signal did not fire after push")
	}
}

func TestQueueClose(t *testing.T) {
	q := newQueue(4)
	q.push(rawTask("a"))
	q.close()

	if _, ok := q.push(rawTask("b")); ok {
		t.Error("push after close must report not ok")
	}
	if _, ok := q.tryPop(); ok {
		t.Error("close must discard queued tasks")
	}

	// The signal channel is closed so waiters wake immediately.
	select {
	case <-q.wait():
	case <-time.After(time.Second):
		t.Fatal("waiter not released on close")
	}
}

func TestSeenCacheMarksAndExpires(t *testing.T) {
	now := time.Now()
	s := newSeenCache(8, 100*time.Millisecond)

	if s.observe("k", now) {
		t.Fatal("first observation reported as seen")
	}
	if !s.observe("k", now.Add(50*time.Millisecond)) {
		t.Fatal("repeat within ttl not reported as seen")
	}
	if s.observe("k", now.Add(200*time.Millisecond)) {
		t.Fatal("repeat after ttl reported as seen")
	}
}

func TestSeenCacheEvictsOverCap(t *testing.T) {
	now := time.Now()
	s := newSeenCache(2, time.Minute)

	s.observe("a", now)
	s.observe("b", now)
	s.observe("c", now) // evicts a

	if s.observe("a", now) {
		t.Error("evicted key still reported as seen")
	}
}
