// Package session binds one authenticated FTP control channel to the
// collaborators its transfers need.
//
// A Session is the unit of isolation for concurrent work: it owns its
// control connection exclusively, so two transfers that must run at
// the same time always use two sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	ftperr "goftpc/internal/errors"
	"goftpc/internal/ftp"
	"goftpc/internal/metrics"
	"goftpc/internal/retry"
	"goftpc/util"
)

// Options describes how to reach and log in to a server.
type Options struct {
	Host        string
	Port        int
	User        string
	Credentials ftp.CredentialSource

	Dialer    ftp.Connector
	Listeners ftp.ListenerFactory

	Mode       ftp.Mode
	ActivePort int // active mode only; 0 picks an ephemeral port
	Timeout    time.Duration
	RemoteDir  string // CWD target right after login, if set

	// Retry governs connect + login.  Nil means a single attempt.
	Retry *retry.Backoff

	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Addr returns the server's "host:port".
func (o *Options) Addr() string { return util.FormatAddr(o.Host, o.Port) }

// Session is one logged-in control channel plus its data-channel
// negotiator.
type Session struct {
	ID         string
	Control    *ftp.Control
	Mode       ftp.Mode
	ActivePort int

	negotiator *ftp.Negotiator
	logger     *util.Logger
	metrics    *metrics.Collector
	closeOnce  sync.Once
}

// Open dials the server, reads its greeting, logs in and switches to
// binary type.  Connect failures and transient greetings are retried
// according to opts.Retry; a rejected login never is.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Dialer == nil {
		return nil, errors.New("session: no dialer configured")
	}
	if opts.Credentials == nil {
		opts.Credentials = ftp.StaticPassword("")
	}
	id := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	logger = logger.With("session", id[:8])

	bo := retry.Backoff{MaxAttempts: 1}
	if opts.Retry != nil {
		bo = *opts.Retry
	}
	if bo.Retryable == nil {
		bo.Retryable = ftperr.IsRetryable
	}
	bo.OnRetry = func(attempt int, err error, wait time.Duration) {
		opts.Metrics.ConnectRetry()
		logger.Verbose("connect attempt %d to %s failed: %v; retrying in %s",
			attempt, opts.Addr(), err, wait.Round(time.Millisecond))
	}

	var control *ftp.Control
	err := bo.Do(ctx, func(int) error {
		c, err := connect(ctx, &opts, logger)
		if errors.Is(err, ftperr.ErrAuthFailed) {
			return retry.Permanent(err)
		}
		control = c
		return err
	})
	if err != nil {
		return nil, err
	}

	opts.Metrics.SessionOpened()
	logger.Verbose("logged in to %s as %s", opts.Addr(), opts.User)
	return &Session{
		ID:         id,
		Control:    control,
		Mode:       opts.Mode,
		ActivePort: opts.ActivePort,
		negotiator: &ftp.Negotiator{
			Dialer:    opts.Dialer,
			Listeners: opts.Listeners,
			Timeout:   opts.Timeout,
			Logger:    logger,
		},
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

func connect(ctx context.Context, opts *Options, logger *util.Logger) (*ftp.Control, error) {
	addr := opts.Addr()
	logger.Debug("dialing %s", addr)
	conn, err := opts.Dialer.Dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	c, err := ftp.Open(ctx, conn, ftp.ControlOptions{Timeout: opts.Timeout, Logger: logger})
	if err != nil {
		conn.Close()
		return nil, err
	}

	steps := []func() error{
		func() error { return c.Authenticate(ctx, opts.User, opts.Credentials) },
		func() error { return c.Binary(ctx) },
	}
	if opts.RemoteDir != "" {
		steps = append(steps, func() error { return c.ChangeDir(ctx, opts.RemoteDir) })
	}
	for _, step := range steps {
		if err := step(); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the session's tagged logger.
func (s *Session) Logger() *util.Logger { return s.logger }

// Download negotiates a data channel and retrieves remote into sink.
func (s *Session) Download(ctx context.Context, remote string, sink io.Writer) (*ftp.Result, error) {
	dc, err := s.negotiate(ctx)
	if err != nil {
		return nil, err
	}
	return s.executor(s.metrics.BytesReceived).Download(ctx, dc, remote, sink)
}

// Upload negotiates a data channel and stores src as remote.
func (s *Session) Upload(ctx context.Context, src io.Reader, remote string) (*ftp.Result, error) {
	dc, err := s.negotiate(ctx)
	if err != nil {
		return nil, err
	}
	return s.executor(s.metrics.BytesSent).Upload(ctx, dc, src, remote)
}

// List negotiates a data channel and starts a LIST of path.  The
// caller must Close the listing before using the session again.
func (s *Session) List(ctx context.Context, path string) (*ftp.Listing, error) {
	dc, err := s.negotiate(ctx)
	if err != nil {
		return nil, err
	}
	return s.executor(s.metrics.BytesReceived).List(ctx, dc, path)
}

// Close ends the session with QUIT, or just drops the connection when
// ctx is already done.  Only the first call has any effect.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		if ctx.Err() != nil {
			err = s.Control.Close()
		} else {
			err = s.Control.Quit(ctx)
		}
		s.metrics.SessionClosed()
		s.logger.Debug("session closed")
	})
	return err
}

func (s *Session) negotiate(ctx context.Context) (*ftp.DataChannel, error) {
	return s.negotiator.Negotiate(ctx, s.Control, s.Mode, s.ActivePort)
}

func (s *Session) executor(progress func(int64)) *ftp.Executor {
	return &ftp.Executor{Control: s.Control, Progress: progress, Logger: s.logger}
}
