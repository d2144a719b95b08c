package transport

import (
	"context"
	"net"
	"time"
)

// TCPDialer establishes plain TCP connections.
type TCPDialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration // 0 uses the Go default, negative disables
}

// Dial connects to address over TCP.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	return dialer.DialContext(ctx, network, address)
}

// Close is a no-op for stateless TCP dialers.
func (d *TCPDialer) Close() error { return nil }

// TCPListenerFactory opens TCP listeners.  With ReuseAddr set the
// socket gets SO_REUSEADDR, so a fixed active-mode port can be bound
// again while the previous connection on it is in TIME_WAIT.
type TCPListenerFactory struct {
	ReuseAddr bool
}

// Listen binds address.
func (f *TCPListenerFactory) Listen(ctx context.Context, network, address string) (net.Listener, error) {
	lc := net.ListenConfig{}
	if f.ReuseAddr {
		lc.Control = reuseAddr
	}
	return lc.Listen(ctx, network, address)
}
