// Package metrics provides lightweight, lock-free counters for a
// goftpc run: sessions opened, data-channel bytes, and transfer
// outcomes.
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

// Collector tracks runtime metrics shared by every session of a run.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	sessionsActive     atomic.Int64
	sessionsTotal      atomic.Int64
	bytesIn            atomic.Int64
	bytesOut           atomic.Int64
	transfersSucceeded atomic.Int64
	transfersFailed    atomic.Int64
	transfersWarned    atomic.Int64
	connectRetries     atomic.Int64
	errorsTotal        atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
	failures     map[string]int64 // failure reason -> count
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now(), failures: map[string]int64{}}
}

// ── Session metrics ──────────────────────────────────────────────────

// SessionOpened increments both the active and total counters.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionClosed decrements the active session counter.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
}

// ActiveSessions returns the number of open control connections.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime session count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// ConnectRetry records one extra attempt at opening a session.
func (c *Collector) ConnectRetry() {
	if c == nil {
		return
	}
	c.connectRetries.Add(1)
}

// ── Data-channel metrics ─────────────────────────────────────────────

// BytesReceived records n bytes downloaded.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes uploaded.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes downloaded.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes uploaded.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Transfer outcomes ────────────────────────────────────────────────

// TransferSucceeded records a completed transfer.  warned marks one
// whose completion reply was lost.
func (c *Collector) TransferSucceeded(warned bool) {
	if c == nil {
		return
	}
	c.transfersSucceeded.Add(1)
	if warned {
		c.transfersWarned.Add(1)
	}
}

// TransferFailed records a failed transfer under its taxonomy reason.
func (c *Collector) TransferFailed(reason string) {
	if c == nil {
		return
	}
	c.transfersFailed.Add(1)
	c.mu.Lock()
	c.failures[reason]++
	c.mu.Unlock()
}

// Succeeded returns the number of completed transfers.
func (c *Collector) Succeeded() int64 {
	if c == nil {
		return 0
	}
	return c.transfersSucceeded.Load()
}

// Failed returns the number of failed transfers.
func (c *Collector) Failed() int64 {
	if c == nil {
		return 0
	}
	return c.transfersFailed.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime             string           `json:"uptime"`
	SessionsActive     int64            `json:"sessions_active"`
	SessionsTotal      int64            `json:"sessions_total"`
	ConnectRetries     int64            `json:"connect_retries"`
	BytesIn            int64            `json:"bytes_in"`
	BytesOut           int64            `json:"bytes_out"`
	TransfersSucceeded int64            `json:"transfers_succeeded"`
	TransfersWarned    int64            `json:"transfers_warned"`
	TransfersFailed    int64            `json:"transfers_failed"`
	FailureReasons     map[string]int64 `json:"failure_reasons,omitempty"`
	ErrorsTotal        int64            `json:"errors_total"`
	LastError          string           `json:"last_error,omitempty"`
	LastErrorMessage   string           `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:             time.Since(c.startTime).Truncate(time.Millisecond).String(),
		SessionsActive:     c.sessionsActive.Load(),
		SessionsTotal:      c.sessionsTotal.Load(),
		ConnectRetries:     c.connectRetries.Load(),
		BytesIn:            c.bytesIn.Load(),
		BytesOut:           c.bytesOut.Load(),
		TransfersSucceeded: c.transfersSucceeded.Load(),
		TransfersWarned:    c.transfersWarned.Load(),
		TransfersFailed:    c.transfersFailed.Load(),
		ErrorsTotal:        c.errorsTotal.Load(),
	}
	if len(c.failures) > 0 {
		s.FailureReasons = make(map[string]int64, len(c.failures))
		for k, v := range c.failures {
			s.FailureReasons[k] = v
		}
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
