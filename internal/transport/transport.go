// Package transport provides the collaborators the FTP core uses to
// obtain raw connections: a Dialer for control and passive data
// connections, and a ListenerFactory for active-mode data listeners.
// Plain TCP, SSH-gateway and circuit-breaker implementations live
// here; nothing in this package speaks FTP.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound network connections.  Implementations include
// a plain TCP dialer and an SSH dialer that routes traffic through an
// encrypted gateway.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH client).  Stateless dialers return nil.
	Close() error
}

// ListenerFactory opens listening endpoints, used for active-mode
// data connections.
type ListenerFactory interface {
	Listen(ctx context.Context, network, address string) (net.Listener, error)
}
