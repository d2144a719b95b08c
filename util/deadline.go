package util

import (
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// WithDeadlines returns conn unchanged when it supports deadlines.
// Otherwise, as with SSH channels, it wraps conn so that read and
// write deadlines are enforced by timers: once one passes, the
// connection is closed and the blocked call fails with
// os.ErrDeadlineExceeded.  An expired connection stays dead.
func WithDeadlines(conn net.Conn) net.Conn {
	if conn.SetDeadline(time.Time{}) == nil {
		return conn
	}
	return &watchdogConn{Conn: conn}
}

type watchdogConn struct {
	net.Conn

	mu      sync.Mutex
	rtimer  *time.Timer
	wtimer  *time.Timer
	expired atomic.Bool
}

func (c *watchdogConn) Read(p []byte) (int, error) {
	if c.expired.Load() {
		return 0, os.ErrDeadlineExceeded
	}
	n, err := c.Conn.Read(p)
	if err != nil && c.expired.Load() {
		err = os.ErrDeadlineExceeded
	}
	return n, err
}

func (c *watchdogConn) Write(p []byte) (int, error) {
	if c.expired.Load() {
		return 0, os.ErrDeadlineExceeded
	}
	n, err := c.Conn.Write(p)
	if err != nil && c.expired.Load() {
		err = os.ErrDeadlineExceeded
	}
	return n, err
}

func (c *watchdogConn) SetDeadline(t time.Time) error {
	c.SetReadDeadline(t)  //nolint:errcheck
	c.SetWriteDeadline(t) //nolint:errcheck
	return nil
}

func (c *watchdogConn) SetReadDeadline(t time.Time) error {
	c.arm(&c.rtimer, t)
	return nil
}

func (c *watchdogConn) SetWriteDeadline(t time.Time) error {
	c.arm(&c.wtimer, t)
	return nil
}

// Close stops the timers and closes the connection.
func (c *watchdogConn) Close() error {
	c.mu.Lock()
	for _, t := range []*time.Timer{c.rtimer, c.wtimer} {
		if t != nil {
			t.Stop()
		}
	}
	c.rtimer, c.wtimer = nil, nil
	c.mu.Unlock()
	return c.Conn.Close()
}

func (c *watchdogConn) arm(slot **time.Timer, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if *slot != nil {
		(*slot).Stop()
		*slot = nil
	}
	if t.IsZero() {
		return
	}
	d := time.Until(t)
	if d <= 0 {
		c.expire()
		return
	}
	*slot = time.AfterFunc(d, c.expire)
}

func (c *watchdogConn) expire() {
	if c.expired.CompareAndSwap(false, true) {
		c.Conn.Close()
	}
}
