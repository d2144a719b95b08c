package ftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	ftperr "goftpc/internal/errors"
	"goftpc/util"
)

// Mode selects who opens the data connection.
type Mode int

const (
	// Passive: the server listens and advertises its address in the
	// PASV reply; the client connects.
	Passive Mode = iota
	// Active: the client listens and advertises its address with PORT;
	// the server connects.
	Active
)

func (m Mode) String() string {
	if m == Active {
		return "active"
	}
	return "passive"
}

// ParseMode accepts "passive"/"pasv" and "active"/"port".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "passive", "pasv", "":
		return Passive, nil
	case "active", "port":
		return Active, nil
	}
	return Passive, fmt.Errorf("unknown data channel mode %q", s)
}

// DataChannelSpec is a negotiated data endpoint.  Passive specs come
// from the server's reply; active specs are the client's own listener.
type DataChannelSpec struct {
	Mode Mode
	Host net.IP
	Port int
}

// Addr returns "host:port".
func (s DataChannelSpec) Addr() string {
	return util.FormatAddr(s.Host.String(), s.Port)
}

// Connector opens outbound connections.
type Connector interface {
	Dial(ctx context.Context, network, address string) (net.Conn, error)
}

// ListenerFactory opens listening endpoints for active mode.
type ListenerFactory interface {
	Listen(ctx context.Context, network, address string) (net.Listener, error)
}

var (
	tupleRe    = regexp.MustCompile(`\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)`)
	bareRe     = regexp.MustCompile(`(?:^|[^\d,])(\d+),(\d+),(\d+),(\d+),(\d+),(\d+)(?:$|[^\d,])`)
	extPortRe  = regexp.MustCompile(`\(\|\|\|(\d+)\|\)`)
)

// DecodeHostPort decodes the (h1,h2,h3,h4,p1,p2) tuple found in text.
// A bare tuple of exactly six numbers is accepted only when no
// parenthesized one is present.  Values above 255 are rejected, never
// truncated.
func DecodeHostPort(text string) (net.IP, int, error) {
	m := tupleRe.FindStringSubmatch(text)
	if m == nil && !strings.Contains(text, "(") {
		m = bareRe.FindStringSubmatch(text)
	}
	if m == nil {
		return nil, 0, fmt.Errorf("%w: no host-port tuple in %q", ftperr.ErrNegotiationFailed, text)
	}
	var b [6]byte
	for i, s := range m[1:] {
		n, err := strconv.Atoi(s)
		if err != nil || n > 255 {
			return nil, 0, fmt.Errorf("%w: value %s in %q is not an octet", ftperr.ErrNegotiationFailed, s, m[0])
		}
		b[i] = byte(n)
	}
	return net.IPv4(b[0], b[1], b[2], b[3]).To4(), int(b[4])*256 + int(b[5]), nil
}

// EncodeHostPort produces the PORT argument for ip and port.  It fails
// for non-IPv4 addresses and ports outside 0..65535.
func EncodeHostPort(ip net.IP, port int) (string, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return "", fmt.Errorf("%w: %v is not an IPv4 address", ftperr.ErrNegotiationFailed, ip)
	}
	if port < 0 || port > 65535 {
		return "", fmt.Errorf("%w: port %d out of range", ftperr.ErrNegotiationFailed, port)
	}
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", ip4[0], ip4[1], ip4[2], ip4[3], port>>8, port&0xff), nil
}

// ParsePassiveReply turns a PASV reply into a spec.  peer replaces an
// advertised 0.0.0.0 and supplies the host for the 229 form.
func ParsePassiveReply(reply *Reply, peer net.IP) (DataChannelSpec, error) {
	spec := DataChannelSpec{Mode: Passive}
	switch reply.Code {
	case 227:
		ip, port, err := DecodeHostPort(reply.Message())
		if err != nil {
			return spec, err
		}
		if ip.IsUnspecified() && peer != nil {
			ip = peer
		}
		spec.Host, spec.Port = ip, port
	case 229:
		m := extPortRe.FindStringSubmatch(reply.Message())
		if m == nil || peer == nil {
			return spec, fmt.Errorf("%w: cannot use %q", ftperr.ErrNegotiationFailed, reply.Message())
		}
		port, err := strconv.Atoi(m[1])
		if err != nil || port > 65535 {
			return spec, fmt.Errorf("%w: port %s out of range", ftperr.ErrNegotiationFailed, m[1])
		}
		spec.Host, spec.Port = peer, port
	default:
		return spec, ftperr.Reply(ftperr.ErrNegotiationFailed, "PASV", reply.Code, reply.Message())
	}
	return spec, nil
}

// Negotiator establishes data channels for one control channel.
type Negotiator struct {
	Dialer    Connector
	Listeners ListenerFactory
	// Timeout bounds the passive dial, the active accept, and each
	// read or write on the resulting data connection.
	Timeout time.Duration
	Logger  *util.Logger
}

// Negotiate picks passive or active mode.  localPort only applies to
// active mode; 0 asks for an ephemeral port.
func (n *Negotiator) Negotiate(ctx context.Context, c *Control, mode Mode, localPort int) (*DataChannel, error) {
	if mode == Active {
		return n.NegotiateActive(ctx, c, localPort)
	}
	return n.NegotiatePassive(ctx, c)
}

// NegotiatePassive sends PASV and connects to the advertised endpoint.
func (n *Negotiator) NegotiatePassive(ctx context.Context, c *Control) (*DataChannel, error) {
	reply, err := c.command(ctx, "PASV")
	if err != nil {
		return nil, err
	}
	spec, err := ParsePassiveReply(reply, c.peerIP())
	if err != nil {
		return nil, err
	}

	dctx := ctx
	if n.Timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, n.Timeout)
		defer cancel()
	}
	addr := spec.Addr()
	conn, err := n.Dialer.Dial(dctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ftperr.ErrNegotiationFailed, ftperr.Wrap("dial data", addr, err))
	}
	n.logger().Verbose("data channel: passive %s", addr)
	return &DataChannel{Spec: spec, conn: util.WithDeadlines(conn), timeout: n.Timeout}, nil
}

// NegotiateActive listens locally and announces the endpoint with
// PORT.  The server connects later, when DataChannel.Conn accepts.
func (n *Negotiator) NegotiateActive(ctx context.Context, c *Control, localPort int) (*DataChannel, error) {
	if localPort < 0 || localPort > 65535 {
		return nil, fmt.Errorf("%w: local port %d out of range", ftperr.ErrNegotiationFailed, localPort)
	}
	if n.Listeners == nil {
		return nil, fmt.Errorf("%w: no listener factory for active mode", ftperr.ErrNegotiationFailed)
	}
	ip, err := util.LocalIPv4(c.LocalAddr())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ftperr.ErrNegotiationFailed, err)
	}

	bind := util.FormatAddr(ip.String(), localPort)
	ln, err := n.Listeners.Listen(ctx, "tcp", bind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ftperr.ErrNegotiationFailed, ftperr.Wrap("listen", bind, err))
	}
	tcpAddr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		ln.Close()
		return nil, fmt.Errorf("%w: listener address %v is not TCP", ftperr.ErrNegotiationFailed, ln.Addr())
	}
	port := tcpAddr.Port
	arg, err := EncodeHostPort(ip, port)
	if err != nil {
		ln.Close()
		return nil, err
	}

	reply, err := c.command(ctx, "PORT "+arg)
	if err != nil {
		ln.Close()
		return nil, err
	}
	if reply.Code >= 500 {
		ln.Close()
		return nil, ftperr.Reply(ftperr.ErrNegotiationFailed, "PORT", reply.Code, reply.Message())
	}
	n.logger().Verbose("data channel: active, listening on %s", ln.Addr())
	return &DataChannel{
		Spec:    DataChannelSpec{Mode: Active, Host: ip, Port: port},
		ln:      ln,
		timeout: n.Timeout,
	}, nil
}

func (n *Negotiator) logger() *util.Logger {
	if n.Logger == nil {
		return util.NewLogger(0)
	}
	return n.Logger
}

// DataChannel is one negotiated data connection.  It is consumed by
// exactly one transfer.
type DataChannel struct {
	Spec DataChannelSpec

	conn     net.Conn
	ln       net.Listener
	timeout  time.Duration
	consumed bool
}

var errConsumed = errors.New("data channel already consumed")

// Conn returns the data connection.  In active mode it waits for the
// server to connect, bounded by the timeout and ctx.
func (d *DataChannel) Conn(ctx context.Context) (net.Conn, error) {
	if d.consumed {
		return nil, errConsumed
	}
	d.consumed = true
	if d.conn != nil {
		return &idleConn{Conn: d.conn, timeout: d.timeout}, nil
	}

	ln := d.ln
	var timedOut atomic.Bool
	if d.timeout > 0 {
		dl, ok := ln.(interface{ SetDeadline(time.Time) error })
		if !ok || dl.SetDeadline(time.Now().Add(d.timeout)) != nil {
			watchdog := time.AfterFunc(d.timeout, func() {
				timedOut.Store(true)
				ln.Close()
			})
			defer watchdog.Stop()
		}
	}
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	conn, err := ln.Accept()
	stop()
	ln.Close()
	d.ln = nil
	if err != nil {
		if cerr := contextError(ctx); cerr != nil {
			return nil, fmt.Errorf("accept data: %w", cerr)
		}
		if timedOut.Load() {
			err = os.ErrDeadlineExceeded
		}
		return nil, ftperr.Wrap("accept data", ln.Addr().String(), err)
	}
	conn = util.WithDeadlines(conn)
	d.conn = conn
	return &idleConn{Conn: conn, timeout: d.timeout}, nil
}

// Close releases the connection and any listener still open.
func (d *DataChannel) Close() error {
	var err error
	if d.ln != nil {
		err = d.ln.Close()
		d.ln = nil
	}
	if d.conn != nil {
		if cerr := d.conn.Close(); err == nil {
			err = cerr
		}
		d.conn = nil
	}
	return err
}

// idleConn refreshes the deadline before every read and write, so the
// timeout bounds a stalled stream rather than the whole transfer.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(p)
}

func (c *idleConn) Write(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(p)
}
