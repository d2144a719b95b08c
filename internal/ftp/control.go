package ftp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	ftperr "goftpc/internal/errors"
	"goftpc/util"
)

// State is the lifecycle position of a control channel.
type State int

const (
	StateConnected State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ControlOptions configures a control channel.
type ControlOptions struct {
	// Timeout bounds every command write and reply read.  Zero means
	// only the context deadline applies.
	Timeout time.Duration
	Logger  *util.Logger
}

// Control owns one control connection.  At most one command is
// outstanding at any time: every write is followed by reading exactly
// the reply to it before the lock is released.  A transfer command
// whose final reply is still owed blocks all other commands until
// that reply has been read.
type Control struct {
	conn    net.Conn
	r       *bufio.Reader
	addr    string
	timeout time.Duration
	logger  *util.Logger

	mu      sync.Mutex
	state   State
	user    string
	pending string // transfer command whose final reply is owed
}

// Open takes ownership of an established connection and reads the
// server greeting.  120 replies are skipped; anything but 220 closes
// the connection and fails.
func Open(ctx context.Context, conn net.Conn, opts ControlOptions) (*Control, error) {
	logger := opts.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	conn = util.WithDeadlines(conn)
	c := &Control{
		conn:    conn,
		r:       bufio.NewReader(conn),
		addr:    conn.RemoteAddr().String(),
		timeout: opts.Timeout,
		logger:  logger,
		state:   StateConnected,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		reply, err := c.read(ctx, "greeting")
		if err != nil {
			return nil, err
		}
		if reply.Code == 120 {
			continue
		}
		if reply.Code != 220 {
			c.shutdown()
			return nil, ftperr.Reply(ftperr.ErrIO, "greeting", reply.Code, reply.Message())
		}
		return c, nil
	}
}

// Send writes one command line and returns the reply to it.  It works
// in any state except closed; the typed operations below additionally
// require an authenticated session.
func (c *Control) Send(ctx context.Context, line string) (*Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil, ftperr.ErrSessionClosed
	}
	return c.exchange(ctx, line)
}

// Authenticate sends USER and then PASS whatever the USER reply was,
// so servers that reject unknown users early still see a password
// exchange.  Only a final 230 authenticates the channel.
func (c *Control) Authenticate(ctx context.Context, user string, creds CredentialSource) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ftperr.ErrSessionClosed
	}

	if _, err := c.exchange(ctx, "USER "+user); err != nil {
		return err
	}
	pass, err := creds.Password(ctx, user)
	if err != nil {
		return fmt.Errorf("password for %s: %w", user, err)
	}
	reply, err := c.exchange(ctx, "PASS "+pass)
	if err != nil {
		return err
	}
	if reply.Code != 230 {
		c.state = StateConnected
		return ftperr.Reply(ftperr.ErrAuthFailed, "login "+user, reply.Code, reply.Message())
	}
	c.state = StateAuthenticated
	c.user = user
	return nil
}

// Quit ends the session politely and closes the connection.  When a
// final reply is still owed the QUIT is skipped and the connection is
// simply closed.
func (c *Control) Quit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil
	}
	var err error
	if c.pending == "" {
		_, err = c.exchange(ctx, "QUIT")
	}
	c.shutdown()
	return err
}

// Close drops the connection without QUIT.
func (c *Control) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown()
}

// State returns the current lifecycle state.
func (c *Control) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// User returns the authenticated user name, or "".
func (c *Control) User() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// LocalAddr is the client end of the control connection.
func (c *Control) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr is the server end of the control connection.
func (c *Control) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// peerIP is the server's IPv4 address when the control connection is
// plain TCP, else nil.
func (c *Control) peerIP() net.IP {
	if ta, ok := c.conn.RemoteAddr().(*net.TCPAddr); ok {
		return ta.IP.To4()
	}
	return nil
}

// ── Pass-through commands ────────────────────────────────────────────

// ChangeDir changes the remote working directory.
func (c *Control) ChangeDir(ctx context.Context, dir string) error {
	return c.expect(ctx, "CWD "+dir, 250)
}

// CurrentDir returns the remote working directory.
func (c *Control) CurrentDir(ctx context.Context) (string, error) {
	reply, err := c.command(ctx, "PWD")
	if err != nil {
		return "", err
	}
	if reply.Code != 257 {
		return "", ftperr.Reply(ftperr.ErrCommandRejected, "PWD", reply.Code, reply.Message())
	}
	return quotedPath(reply.Message()), nil
}

// MakeDir creates a remote directory and returns the path the server
// reports for it.
func (c *Control) MakeDir(ctx context.Context, dir string) (string, error) {
	reply, err := c.command(ctx, "MKD "+dir)
	if err != nil {
		return "", err
	}
	if reply.Code != 257 {
		return "", ftperr.Reply(ftperr.ErrCommandRejected, "MKD "+dir, reply.Code, reply.Message())
	}
	if p := quotedPath(reply.Message()); p != "" {
		return p, nil
	}
	return dir, nil
}

// Binary switches the session to image type so the server applies no
// newline translation.
func (c *Control) Binary(ctx context.Context) error {
	return c.expect(ctx, "TYPE I", 200)
}

// Delete removes a remote file.
func (c *Control) Delete(ctx context.Context, name string) error {
	return c.expect(ctx, "DELE "+name, 250)
}

func (c *Control) expect(ctx context.Context, line string, code int) error {
	reply, err := c.command(ctx, line)
	if err != nil {
		return err
	}
	if reply.Code != code {
		return ftperr.Reply(ftperr.ErrCommandRejected, line, reply.Code, reply.Message())
	}
	return nil
}

// quotedPath extracts the path from a 257 reply, where embedded quotes
// are doubled: 257 "/a ""b""" created.
func quotedPath(msg string) string {
	start := strings.IndexByte(msg, '"')
	if start < 0 {
		return ""
	}
	var b strings.Builder
	for i := start + 1; i < len(msg); i++ {
		if msg[i] != '"' {
			b.WriteByte(msg[i])
			continue
		}
		if i+1 < len(msg) && msg[i+1] == '"' {
			b.WriteByte('"')
			i++
			continue
		}
		break
	}
	return b.String()
}

// ── Internals ────────────────────────────────────────────────────────

// command runs line on an authenticated channel.
func (c *Control) command(ctx context.Context, line string) (*Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.authorized(); err != nil {
		return nil, err
	}
	return c.exchange(ctx, line)
}

// start sends a transfer command.  A 1xx reply means a final reply is
// owed and must be collected with finish before any other command.
func (c *Control) start(ctx context.Context, line string) (*Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.authorized(); err != nil {
		return nil, err
	}
	reply, err := c.exchange(ctx, line)
	if err != nil {
		return nil, err
	}
	if reply.IsPreliminary() {
		c.pending = line
	}
	return reply, nil
}

// finish reads the final reply of the pending transfer command.  It
// returns (nil, nil) when none is owed.
func (c *Control) finish(ctx context.Context) (*Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == "" {
		return nil, nil
	}
	op := verb(c.pending)
	c.pending = ""
	if c.state == StateClosed {
		return nil, ftperr.ErrSessionClosed
	}
	return c.read(ctx, op)
}

func (c *Control) authorized() error {
	switch c.state {
	case StateAuthenticated:
		return nil
	case StateClosed:
		return fmt.Errorf("%w: %w", ftperr.ErrNotAuthenticated, ftperr.ErrSessionClosed)
	}
	return ftperr.ErrNotAuthenticated
}

// exchange writes line and reads its reply.  Caller holds mu.
func (c *Control) exchange(ctx context.Context, line string) (*Reply, error) {
	op := verb(line)
	if c.pending != "" {
		return nil, fmt.Errorf("%s: %w (%s)", op, ftperr.ErrReplyPending, verb(c.pending))
	}
	if err := contextError(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if strings.ContainsAny(line, "\r\n") {
		return nil, fmt.Errorf("%s: command contains a line break", op)
	}

	c.logger.Debug("-> %s", masked(line))
	if err := c.conn.SetWriteDeadline(c.deadline(ctx)); err != nil {
		c.shutdown()
		return nil, ftperr.Wrap("write "+op, c.addr, err)
	}
	if _, err := io.WriteString(c.conn, line+"\r\n"); err != nil {
		c.shutdown()
		return nil, ftperr.Wrap("write "+op, c.addr, err)
	}
	return c.read(ctx, op)
}

// read reads one reply.  Any failure leaves the channel in an unknown
// position, so it is closed.  Caller holds mu.
func (c *Control) read(ctx context.Context, op string) (*Reply, error) {
	if err := c.conn.SetReadDeadline(c.deadline(ctx)); err != nil {
		c.shutdown()
		return nil, ftperr.Wrap("read "+op, c.addr, err)
	}
	reply, err := readReply(c.r)
	if err != nil {
		c.shutdown()
		if errors.Is(err, ftperr.ErrMalformedReply) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return nil, ftperr.Wrap("read "+op, c.addr, err)
	}
	c.logger.Debug("<- %s", reply)
	return reply, nil
}

func (c *Control) deadline(ctx context.Context) time.Time {
	var d time.Time
	if c.timeout > 0 {
		d = time.Now().Add(c.timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}

func (c *Control) shutdown() error {
	if c.state == StateClosed {
		return nil
	}
	c.state = StateClosed
	return c.conn.Close()
}

// contextError maps a finished context onto the taxonomy.
func contextError(ctx context.Context) error {
	err := ctx.Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ftperr.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ftperr.ErrCancelled, err)
}

func verb(line string) string {
	if i := strings.IndexByte(line, ' '); i > 0 {
		return line[:i]
	}
	return line
}

func masked(line string) string {
	if strings.EqualFold(verb(line), "PASS") {
		return "PASS ****"
	}
	return line
}
