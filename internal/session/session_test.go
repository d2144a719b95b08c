package session

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	ftperr "goftpc/internal/errors"
	"goftpc/internal/ftp"
	"goftpc/internal/ftptest"
	"goftpc/internal/metrics"
	"goftpc/internal/retry"
	"goftpc/internal/transport"
)

const testTimeout = 5 * time.Second

func options(srv *ftptest.Server) Options {
	return Options{
		Host:        srv.Host(),
		Port:        srv.Port(),
		User:        srv.User,
		Credentials: ftp.StaticPassword(srv.Password),
		Dialer:      &transport.TCPDialer{Timeout: testTimeout},
		Listeners:   &transport.TCPListenerFactory{},
		Timeout:     testTimeout,
	}
}

func open(t *testing.T, opts Options) *Session {
	t.Helper()
	s, err := Open(context.Background(), opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func contains(cmds []string, want string) bool {
	for _, c := range cmds {
		if c == want {
			return true
		}
	}
	return false
}

// flakyDialer refuses the first failures dials.
type flakyDialer struct {
	transport.TCPDialer
	failures int32
	dials    atomic.Int32
}

func (d *flakyDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	if d.dials.Add(1) <= d.failures {
		return nil, &net.OpError{Op: "dial", Net: network, Err: errors.New("connection refused")}
	}
	return d.TCPDialer.Dial(ctx, network, address)
}

func TestOpen_LogsInAndSetsBinary(t *testing.T) {
	srv := ftptest.New().Start(t)
	m := metrics.New()
	opts := options(srv)
	opts.Metrics = m
	s := open(t, opts)

	if s.Control.State() != ftp.StateAuthenticated {
		t.Errorf("state = %v, want authenticated", s.Control.State())
	}
	if s.ID == "" {
		t.Error("session should have an ID")
	}
	cmds := srv.Sessions()[0]
	for _, want := range []string{"USER user", "PASS secret", "TYPE I"} {
		if !contains(cmds, want) {
			t.Errorf("commands %q missing %q", cmds, want)
		}
	}
	if m.ActiveSessions() != 1 {
		t.Errorf("active sessions = %d, want 1", m.ActiveSessions())
	}
}

func TestOpen_ChangesRemoteDir(t *testing.T) {
	srv := ftptest.New().Start(t)
	srv.Put("pub/notes.txt", []byte("hello"))
	opts := options(srv)
	opts.RemoteDir = "pub"
	s := open(t, opts)

	var buf bytes.Buffer
	if _, err := s.Download(context.Background(), "notes.txt", &buf); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if buf.String() != "hello" {
		t.Errorf("got %q", buf.String())
	}
}

func TestOpen_MissingRemoteDir(t *testing.T) {
	srv := ftptest.New().Start(t)
	opts := options(srv)
	opts.RemoteDir = "nowhere"
	_, err := Open(context.Background(), opts)
	if !errors.Is(err, ftperr.ErrCommandRejected) {
		t.Fatalf("error = %v, want command rejected", err)
	}
}

func TestOpen_AuthFailureIsNotRetried(t *testing.T) {
	srv := ftptest.New().Start(t)
	opts := options(srv)
	opts.Credentials = ftp.StaticPassword("wrong")
	opts.Retry = &retry.Backoff{InitialDelay: time.Millisecond, MaxAttempts: 3}

	_, err := Open(context.Background(), opts)
	if !errors.Is(err, ftperr.ErrAuthFailed) {
		t.Fatalf("error = %v, want authentication failure", err)
	}
	if n := len(srv.Sessions()); n != 1 {
		t.Errorf("connections = %d, want 1", n)
	}
}

func TestOpen_RetriesRefusedConnect(t *testing.T) {
	srv := ftptest.New().Start(t)
	m := metrics.New()
	d := &flakyDialer{TCPDialer: transport.TCPDialer{Timeout: testTimeout}, failures: 2}
	opts := options(srv)
	opts.Dialer = d
	opts.Metrics = m
	opts.Retry = &retry.Backoff{InitialDelay: time.Millisecond, MaxAttempts: 3}

	open(t, opts)
	if got := d.dials.Load(); got != 3 {
		t.Errorf("dials = %d, want 3", got)
	}
	if got := m.Snapshot().ConnectRetries; got != 2 {
		t.Errorf("connect retries = %d, want 2", got)
	}
}

func TestOpen_GivesUpAfterAttempts(t *testing.T) {
	srv := ftptest.New().Start(t)
	opts := options(srv)
	opts.Dialer = &flakyDialer{failures: 10}
	opts.Retry = &retry.Backoff{InitialDelay: time.Millisecond, MaxAttempts: 2}

	_, err := Open(context.Background(), opts)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := ftperr.Classify(err); got != "IoError" {
		t.Errorf("Classify = %q, want IoError", got)
	}
}

func TestOpen_RejectedGreeting(t *testing.T) {
	srv := ftptest.New()
	srv.Greeting = []string{"421 Too many connections"}
	srv.Start(t)

	_, err := Open(context.Background(), options(srv))
	var re *ftperr.ReplyError
	if !errors.As(err, &re) || re.Code != 421 {
		t.Fatalf("error = %v, want 421 reply", err)
	}
	if !ftperr.IsRetryable(err) {
		t.Error("421 greeting should be retryable")
	}
}

func TestOpen_NoDialer(t *testing.T) {
	if _, err := Open(context.Background(), Options{Host: "x", Port: 21}); err == nil {
		t.Fatal("expected error without a dialer")
	}
}

func TestSession_Transfers(t *testing.T) {
	for _, mode := range []ftp.Mode{ftp.Passive, ftp.Active} {
		t.Run(mode.String(), func(t *testing.T) {
			srv := ftptest.New().Start(t)
			payload := bytes.Repeat([]byte("0123456789"), 1000)
			srv.Put("in.bin", payload)
			m := metrics.New()
			opts := options(srv)
			opts.Mode = mode
			opts.Metrics = m
			s := open(t, opts)
			ctx := context.Background()

			var got bytes.Buffer
			res, err := s.Download(ctx, "in.bin", &got)
			if err != nil {
				t.Fatalf("Download: %v", err)
			}
			if res.Bytes != int64(len(payload)) || !bytes.Equal(got.Bytes(), payload) {
				t.Fatalf("downloaded %d bytes, want %d", res.Bytes, len(payload))
			}

			if _, err := s.Upload(ctx, bytes.NewReader(payload[:500]), "out.bin"); err != nil {
				t.Fatalf("Upload: %v", err)
			}
			if data, _ := srv.File("out.bin"); len(data) != 500 {
				t.Errorf("stored %d bytes, want 500", len(data))
			}

			l, err := s.List(ctx, "")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			var lines int
			for l.Next() {
				lines++
			}
			if err := l.Close(); err != nil {
				t.Fatalf("listing close: %v", err)
			}
			if lines != 2 {
				t.Errorf("listed %d entries, want 2", lines)
			}

			if m.TotalBytesIn() < int64(len(payload)) {
				t.Errorf("bytes in = %d, want at least %d", m.TotalBytesIn(), len(payload))
			}
			if m.TotalBytesOut() != 500 {
				t.Errorf("bytes out = %d, want 500", m.TotalBytesOut())
			}
		})
	}
}

func TestClose_SendsQuit(t *testing.T) {
	srv := ftptest.New().Start(t)
	m := metrics.New()
	opts := options(srv)
	opts.Metrics = m
	s, err := Open(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	cmds := srv.Sessions()[0]
	if cmds[len(cmds)-1] != "QUIT" {
		t.Errorf("last command = %q, want QUIT", cmds[len(cmds)-1])
	}
	if m.ActiveSessions() != 0 {
		t.Errorf("active sessions = %d, want 0", m.ActiveSessions())
	}
}

func TestClose_CancelledSkipsQuit(t *testing.T) {
	srv := ftptest.New().Start(t)
	s, err := Open(context.Background(), options(srv))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Close(ctx)

	if s.Control.State() != ftp.StateClosed {
		t.Errorf("state = %v, want closed", s.Control.State())
	}
	if contains(srv.Sessions()[0], "QUIT") {
		t.Error("cancelled close should not send QUIT")
	}
}
