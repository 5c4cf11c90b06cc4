package metrics

import (
	"testing"
	"time"
)

func TestMetricsTimer(t *testing.T) {
	m := New()
	m.Timer("foo").Start()
	time.Sleep(time.Millisecond)
	m.Timer("foo").Stop()
	if m.All()["timer_foo_ns"] == int64(0) {
		t.Fatalf("expected foo timer to be non-zero: %v", m.All())
	}
	m.Clear()

	if len(m.All()) > 0 {
		t.Fatalf("expected metrics to be cleared, but found %v", m.All())
	}
}

func TestMetricsTimerDoubleStop(t *testing.T) {
	m := New()
	m.Timer("foo").Start()

	time.Sleep(time.Millisecond)
	m.Timer("foo").Stop()
	t1 := m.Timer("foo").Int64()

	time.Sleep(time.Millisecond)
	m.Timer("foo").Stop()
	t2 := m.Timer("foo").Int64()

	if t1 != t2 {
		t.Fatalf("unexpected difference in stopped timer values: %v, %v", t1, t2)
	}
}

func TestMetricsTimerRestart(t *testing.T) {
	m := New()
	m.Timer("foo").Start()

	time.Sleep(time.Millisecond)
	m.Timer("foo").Stop()
	t1 := m.Timer("foo").Int64()

	m.Timer("foo").Start()
	time.Sleep(time.Millisecond)
	m.Timer("foo").Stop()
	t2 := m.Timer("foo").Int64()

	if t1 >= t2 {
		t.Fatalf("expected restarted timer to advance, but got same value: %v, %v", t1, t2)
	}
}

func TestCounter(t *testing.T) {
	m := New()
	m.Counter("retries").Incr()
	m.Counter("retries").Add(2)

	if got := m.All()["counter_retries"]; got != uint64(3) {
		t.Fatalf("expected counter_retries = 3, got %v", got)
	}
}

func TestPrometheusCollectorsRegisterWithoutPanicking(t *testing.T) {
	p := NewPrometheusCollectors()
	p.CommitLatency.Observe(0.01)
	p.Retries.Inc()
	p.Conflicts.Inc()

	mfs, err := p.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected at least one registered metric family")
	}
}
