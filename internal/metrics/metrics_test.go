package metrics

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestCollector_Sessions(t *testing.T) {
	c := New()
	c.SessionOpened()
	c.SessionOpened()
	if c.ActiveSessions() != 2 {
		t.Errorf("active = %d, want 2", c.ActiveSessions())
	}
	c.SessionClosed()
	if c.ActiveSessions() != 1 {
		t.Errorf("active = %d, want 1", c.ActiveSessions())
	}
	if c.TotalSessions() != 2 {
		t.Errorf("total should remain 2, got %d", c.TotalSessions())
	}
}

func TestCollector_Bytes(t *testing.T) {
	c := New()
	c.BytesReceived(1024)
	c.BytesSent(512)
	c.BytesReceived(100)

	if c.TotalBytesIn() != 1124 {
		t.Errorf("bytes in = %d, want 1124", c.TotalBytesIn())
	}
	if c.TotalBytesOut() != 512 {
		t.Errorf("bytes out = %d, want 512", c.TotalBytesOut())
	}
}

func TestCollector_Transfers(t *testing.T) {
	c := New()
	c.TransferSucceeded(false)
	c.TransferSucceeded(true)
	c.TransferFailed("TransferRejected")
	c.TransferFailed("TransferRejected")
	c.TransferFailed("Timeout")

	snap := c.Snapshot()
	if snap.TransfersSucceeded != 2 || snap.TransfersWarned != 1 || snap.TransfersFailed != 3 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.FailureReasons["TransferRejected"] != 2 || snap.FailureReasons["Timeout"] != 1 {
		t.Errorf("reasons = %v", snap.FailureReasons)
	}
	// The snapshot owns its map.
	snap.FailureReasons["Timeout"] = 99
	if c.Snapshot().FailureReasons["Timeout"] != 1 {
		t.Error("snapshot map aliases the collector")
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.BytesReceived(1)
				c.TransferFailed("IoError")
			}
		}()
	}
	wg.Wait()
	if c.TotalBytesIn() != 1600 || c.Failed() != 1600 {
		t.Errorf("in = %d, failed = %d", c.TotalBytesIn(), c.Failed())
	}
}

func TestCollector_Errors(t *testing.T) {
	c := New()
	c.RecordError("first error")
	c.RecordError("second error")
	if c.ErrorCount() != 2 {
		t.Errorf("errors = %d, want 2", c.ErrorCount())
	}
	if c.Snapshot().LastErrorMessage != "second error" {
		t.Errorf("last error = %q", c.Snapshot().LastErrorMessage)
	}
}

func TestCollector_JSON(t *testing.T) {
	c := New()
	c.SessionOpened()
	c.BytesSent(42)
	c.ConnectRetry()

	var snap Snapshot
	if err := json.Unmarshal([]byte(c.JSON()), &snap); err != nil {
		t.Fatalf("JSON parse error: %v", err)
	}
	if snap.SessionsActive != 1 || snap.BytesOut != 42 || snap.ConnectRetries != 1 {
		t.Errorf("decoded = %+v", snap)
	}
}

func TestNilCollector_NoOps(t *testing.T) {
	var c *Collector

	// None of these should panic.
	c.SessionOpened()
	c.SessionClosed()
	c.ConnectRetry()
	c.BytesReceived(100)
	c.BytesSent(100)
	c.TransferSucceeded(true)
	c.TransferFailed("x")
	c.RecordError("test")

	if c.ActiveSessions() != 0 || c.TotalBytesIn() != 0 || c.ErrorCount() != 0 || c.Succeeded() != 0 {
		t.Error("nil collector should return 0")
	}
	if c.Snapshot().SessionsActive != 0 {
		t.Error("nil snapshot should be zero")
	}
	if c.JSON() == "" {
		t.Error("nil JSON should return valid JSON")
	}
}
