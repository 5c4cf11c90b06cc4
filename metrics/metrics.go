// Package metrics collects in-process performance counters the way
// the teacher's metrics package does: named timers and counters
// accumulated for the lifetime of one logical unit of work, readable
// as a flat map and resettable between units. No other package of this
// module uses it; the adapter reports through PrometheusCollectors.
//
// Grounded on open-policy-agent/opa's metrics.Metrics/Timer/Counter
// interfaces (metrics/metrics.go) and their in-memory implementation's
// observable behavior (v1/metrics/metrics_test.go) — the v1 package
// itself was filtered out of the retrieved pack, so this is a
// self-contained reimplementation of the same API shape rather than a
// thin re-export.
package metrics

import (
	"fmt"
	"sync"
	"time"
)

// Timer accumulates elapsed wall-clock time across possibly multiple
// Start/Stop cycles.
type Timer interface {
	Start()
	Stop() int64
	Int64() int64
}

// Counter is a monotonically increasing count.
type Counter interface {
	Incr()
	Add(n uint64)
	Value() interface{}
}

// Metrics is a named collection of timers and counters.
type Metrics interface {
	Timer(name string) Timer
	Counter(name string) Counter
	All() map[string]interface{}
	Clear()
}

type timer struct {
	mu      sync.Mutex
	started time.Time
	elapsed int64
	running bool
}

func (t *timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = time.Now()
	t.running = true
}

func (t *timer) Stop() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.elapsed += time.Since(t.started).Nanoseconds()
		t.running = false
	}
	return t.elapsed
}

func (t *timer) Int64() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsed
}

type counter struct {
	value uint64
	mu    sync.Mutex
}

func (c *counter) Incr() { c.Add(1) }

func (c *counter) Add(n uint64) {
	c.mu.Lock()
	c.value += n
	c.mu.Unlock()
}

func (c *counter) Value() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

type metrics struct {
	mu       sync.Mutex
	timers   map[string]*timer
	counters map[string]*counter
}

// New returns an empty Metrics collection.
func New() Metrics {
	return &metrics{
		timers:   map[string]*timer{},
		counters: map[string]*counter{},
	}
}

func (m *metrics) Timer(name string) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[name]
	if !ok {
		t = &timer{}
		m.timers[name] = t
	}
	return t
}

func (m *metrics) Counter(name string) Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[name]
	if !ok {
		c = &counter{}
		m.counters[name] = c
	}
	return c
}

func (m *metrics) All() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]interface{}{}
	for name, t := range m.timers {
		out[fmt.Sprintf("timer_%s_ns", name)] = t.Int64()
	}
	for name, c := range m.counters {
		out[fmt.Sprintf("counter_%s", name)] = c.Value()
	}
	return out
}

func (m *metrics) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers = map[string]*timer{}
	m.counters = map[string]*counter{}
}

// Metric names for STM commit timing, retries and conflicts.
const (
	STMCommit   = "stm_commit"
	STMRetry    = "stm_retry"
	STMConflict = "stm_conflict"
)
