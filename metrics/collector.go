// ABOUTME: In-process operational counters exposed over the REST surface
// ABOUTME: Lightweight alternative to a full metrics pipeline for a single-instance service
package metrics

import (
	"sync"
	"time"
)

// Collector accumulates named monotonic counters. Safe for concurrent use.
type Collector struct {
	mu        sync.RWMutex
	counters  map[string]int64
	startedAt time.Time
}

// Counter names used across the engine.
const (
	DecisionsGenerated = "decisions_generated"
	DecisionFailures   = "decision_failures"
	RefillsCompleted   = "refills_completed"
	RefillsSuppressed  = "refills_suppressed"
	RefillFailures     = "refill_failures"
	PipelineRuns       = "pipeline_runs"
	DegradedRuns       = "degraded_runs"
	ColdStartRuns      = "cold_start_runs"
	RequestsServed     = "requests_served"
)

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		counters:  make(map[string]int64),
		startedAt: time.Now(),
	}
}

// Inc increments the named counter by one.
func (c *Collector) Inc(name string) {
	c.Add(name, 1)
}

// Add increments the named counter by delta.
func (c *Collector) Add(name string, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name] += delta
}

// Get returns the current value of the named counter.
func (c *Collector) Get(name string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[name]
}

// Snapshot returns a copy of all counters plus service uptime.
func (c *Collector) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counters := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}
	return map[string]any{
		"counters":       counters,
		"uptime_seconds": int64(time.Since(c.startedAt).Seconds()),
	}
}
