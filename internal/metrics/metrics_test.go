package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func TestCounterAndGauge(t *testing.T) {
	r := NewRegistry("test")

	c := r.RegisterCounter("events_total", "test counter")
	c.Inc()
	c.Add(4)
	if c.Value() != 5 {
		t.Errorf("counter = %d, want 5", c.Value())
	}
	if c.Name() != "test_events_total" {
		t.Errorf("counter name = %s, want test_events_total", c.Name())
	}

	g := r.RegisterGauge("depth", "test gauge")
	g.Set(10)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 9 {
		t.Errorf("gauge = %d, want 9", g.Value())
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry("test")
	a := r.RegisterCounter("x_total", "")
	b := r.RegisterCounter("x_total", "")
	if a != b {
		t.Error("same name must return the same counter")
	}
	a.Inc()
	if b.Value() != 1 {
		t.Error("counters with the same name must share state")
	}
}

func TestSnapshot(t *testing.T) {
	r := NewRegistry("test")
	r.RegisterCounter("a_total", "").Add(3)
	r.RegisterGauge("b", "").Set(-2)

	snap := r.Snapshot()
	if snap["test_a_total"] != 3 {
		t.Errorf("snapshot counter = %d, want 3", snap["test_a_total"])
	}
	if snap["test_b"] != -2 {
		t.Errorf("snapshot gauge = %d, want -2", snap["test_b"])
	}
}

func TestWritePrometheus(t *testing.T) {
	r := NewRegistry("test")
	r.RegisterCounter("events_total", "Total events").Add(7)
	r.RegisterGauge("depth", "Queue depth").Set(3)

	var buf bytes.Buffer
	if err := r.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"# TYPE test_events_total counter",
		"test_events_total 7",
		"# TYPE test_depth gauge",
		"test_depth 3",
		"# HELP test_events_total Total events",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("exposition output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	r := NewRegistry("test")
	r.RegisterCounter("a_total", "").Inc()

	var buf bytes.Buffer
	if err := r.WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	var decoded map[string]int64
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["test_a_total"] != 1 {
		t.Errorf("decoded value = %d, want 1", decoded["test_a_total"])
	}
}

func TestConcurrentUpdates(t *testing.T) {
	r := NewRegistry("test")
	c := r.RegisterCounter("hits_total", "")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()

	if c.Value() != 8000 {
		t.Errorf("counter = %d, want 8000", c.Value())
	}
}

func TestNewSetRegistersEverything(t *testing.T) {
	r := NewRegistry("offerwatchd")
	s := NewSet(r)

	if s.Registry() != r {
		t.Fatal("Registry() must return the backing registry")
	}

	s.OrdersDetected.Inc()
	snap := r.Snapshot()
	if snap["offerwatchd_orders_detected_total"] != 1 {
		t.Errorf("orders_detected_total = %d, want 1", snap["offerwatchd_orders_detected_total"])
	}
	if _, ok := snap["offerwatchd_queue_depth"]; !ok {
		t.Error("queue_depth gauge not registered")
	}
}
