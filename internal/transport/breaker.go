package transport

import (
	"context"
	"net"

	"goftpc/internal/retry"
)

// BreakerDialer guards a Dialer with a circuit breaker shared by all
// sessions of a batch.  Once the breaker opens, Dial fails at once with
// an error matching ErrCircuitOpen.
type BreakerDialer struct {
	Dialer  Dialer
	Breaker *retry.CircuitBreaker
}

// Dial forwards to the wrapped dialer through the breaker.
func (d *BreakerDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	var conn net.Conn
	err := d.Breaker.Execute(func() error {
		var err error
		conn, err = d.Dialer.Dial(ctx, network, address)
		return err
	})
	return conn, err
}

// Close closes the wrapped dialer.
func (d *BreakerDialer) Close() error { return d.Dialer.Close() }
