package ftp

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"goftpc/internal/ftptest"
)

const testTimeout = 5 * time.Second

type tcpConnector struct{}

func (tcpConnector) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, address)
}

// channelConn rejects deadlines the way SSH channel connections do.
type channelConn struct{ net.Conn }

var errNoDeadline = errors.New("deadline not supported")

func (channelConn) SetDeadline(time.Time) error      { return errNoDeadline }
func (channelConn) SetReadDeadline(time.Time) error  { return errNoDeadline }
func (channelConn) SetWriteDeadline(time.Time) error { return errNoDeadline }

// channelConnector dials TCP but hands out channelConns.
type channelConnector struct{}

func (channelConnector) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := tcpConnector{}.Dial(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return channelConn{conn}, nil
}

type tcpListeners struct{}

func (tcpListeners) Listen(ctx context.Context, network, address string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, network, address)
}

func newNegotiator() *Negotiator {
	return &Negotiator{Dialer: tcpConnector{}, Listeners: tcpListeners{}, Timeout: testTimeout}
}

func dialControl(t *testing.T, addr string, timeout time.Duration) *Control {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c, err := Open(context.Background(), conn, ControlOptions{Timeout: timeout})
	if err != nil {
		conn.Close()
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func login(t *testing.T, srv *ftptest.Server) *Control {
	t.Helper()
	c := dialControl(t, srv.Addr, testTimeout)
	if err := c.Authenticate(context.Background(), srv.User, StaticPassword(srv.Password)); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	return c
}

// scripted serves the first connection on a fresh listener with fn.
func scripted(t *testing.T, fn func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	}()
	t.Cleanup(func() {
		ln.Close()
		<-done
	})
	return ln.Addr().String()
}

// pattern returns n bytes cycling through every byte value.
func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}
