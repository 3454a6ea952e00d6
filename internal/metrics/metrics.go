// Package metrics provides lightweight, lock-free counters and gauges
// for tracking the dispatch loop of an ipcd daemon.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a daemon.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	accepted      atomic.Int64
	denied        atomic.Int64
	spawnFailures atomic.Int64
	workersActive atomic.Int64
	workersDone   atomic.Int64
	handlerErrors atomic.Int64
	logsDropped   atomic.Int64
	slotWaits     atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Dispatch ─────────────────────────────────────────────────────────

// ConnectionAccepted records an authorised connection handed to a slot.
func (c *Collector) ConnectionAccepted() {
	if c == nil {
		return
	}
	c.accepted.Add(1)
}

// ConnectionDenied records a failed accept or authorisation.
func (c *Collector) ConnectionDenied() {
	if c == nil {
		return
	}
	c.denied.Add(1)
}

// SpawnFailed records a worker that could not be started.
func (c *Collector) SpawnFailed() {
	if c == nil {
		return
	}
	c.spawnFailures.Add(1)
}

// SlotWait records the loop blocking on a slot still held by a worker.
func (c *Collector) SlotWait() {
	if c == nil {
		return
	}
	c.slotWaits.Add(1)
}

// Accepted returns the number of accepted connections.
func (c *Collector) Accepted() int64 {
	if c == nil {
		return 0
	}
	return c.accepted.Load()
}

// Denied returns the number of denied connections.
func (c *Collector) Denied() int64 {
	if c == nil {
		return 0
	}
	return c.denied.Load()
}

// SpawnFailures returns the number of failed worker spawns.
func (c *Collector) SpawnFailures() int64 {
	if c == nil {
		return 0
	}
	return c.spawnFailures.Load()
}

// ── Workers ──────────────────────────────────────────────────────────

// WorkerStarted increments the active worker gauge.
func (c *Collector) WorkerStarted() {
	if c == nil {
		return
	}
	c.workersActive.Add(1)
}

// WorkerFinished decrements the active gauge and counts the completion.
func (c *Collector) WorkerFinished() {
	if c == nil {
		return
	}
	c.workersActive.Add(-1)
	c.workersDone.Add(1)
}

// ActiveWorkers returns the number of running workers.
func (c *Collector) ActiveWorkers() int64 {
	if c == nil {
		return 0
	}
	return c.workersActive.Load()
}

// FinishedWorkers returns the number of workers that have exited.
func (c *Collector) FinishedWorkers() int64 {
	if c == nil {
		return 0
	}
	return c.workersDone.Load()
}

// ── Errors ───────────────────────────────────────────────────────────

// RecordError counts a handler failure and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.handlerErrors.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of handler errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.handlerErrors.Load()
}

// LogDropped counts a log record discarded because the queue was full.
func (c *Collector) LogDropped() {
	if c == nil {
		return
	}
	c.logsDropped.Add(1)
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	Accepted         int64  `json:"accepted"`
	Denied           int64  `json:"denied"`
	SpawnFailures    int64  `json:"spawn_failures"`
	SlotWaits        int64  `json:"slot_waits"`
	WorkersActive    int64  `json:"workers_active"`
	WorkersFinished  int64  `json:"workers_finished"`
	HandlerErrors    int64  `json:"handler_errors"`
	LogsDropped      int64  `json:"logs_dropped"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:          time.Since(c.startTime).Truncate(time.Second).String(),
		Accepted:        c.accepted.Load(),
		Denied:          c.denied.Load(),
		SpawnFailures:   c.spawnFailures.Load(),
		SlotWaits:       c.slotWaits.Load(),
		WorkersActive:   c.workersActive.Load(),
		WorkersFinished: c.workersDone.Load(),
		HandlerErrors:   c.handlerErrors.Load(),
		LogsDropped:     c.logsDropped.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as a compact JSON string, suitable for a
// single log line.
func (c *Collector) JSON() string {
	data, _ := json.Marshal(c.Snapshot())
	return string(data)
}
