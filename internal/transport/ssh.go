package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ftperr "goftpc/internal/errors"
	"goftpc/util"
)

// SSHConfig describes the SSH gateway connections are routed through.
type SSHConfig struct {
	User          string
	Host          string
	Port          int // default 22
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string        // default ~/.ssh/known_hosts
	Timeout       time.Duration // handshake timeout, default 30s
	KeepAlive     time.Duration // keepalive interval, default 30s; negative disables
}

// Addr returns the gateway's "host:port".
func (c *SSHConfig) Addr() string { return util.FormatAddr(c.Host, c.Port) }

// SSHDialer forwards connections through an SSH gateway with
// direct-tcpip channels.  The SSH client is connected on the first
// Dial and shared by every later one, so a whole batch rides one
// gateway login.  If the gateway drops, the next Dial reconnects.
//
// Channels reject deadlines, so Dial wraps them with timer-driven
// ones (util.WithDeadlines). A keepalive loop drops a gateway that
// stops answering, which fails every channel riding on it.
type SSHDialer struct {
	cfg    SSHConfig
	logger *util.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHDialer returns a dialer for the given gateway.
func NewSSHDialer(cfg SSHConfig, logger *util.Logger) *SSHDialer {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &SSHDialer{cfg: cfg, logger: logger}
}

// Dial opens a channel to address through the gateway.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	client, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("ssh: dialing %s %s via %s", network, address, d.cfg.Addr())
	conn, err := client.DialContext(ctx, network, address)
	if err != nil {
		if errors.Is(err, io.EOF) {
			d.drop(client)
		}
		return nil, ftperr.Wrap("dial via ssh", address, err)
	}
	return util.WithDeadlines(conn), nil
}

// Close disconnects from the gateway.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	return err
}

// Connected reports whether a gateway session is up.
func (d *SSHDialer) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.client != nil
}

func (d *SSHDialer) connect(ctx context.Context) (*ssh.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return d.client, nil
	}

	cfg := &d.cfg
	auth, err := BuildAuthMethods(cfg)
	if err != nil {
		return nil, ftperr.WrapSSH("auth", cfg.Host, cfg.Port, err)
	}
	hostKey, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, ftperr.WrapSSH("hostkey", cfg.Host, cfg.Port, err)
	}

	addr := cfg.Addr()
	d.logger.Verbose("ssh: connecting to %s as %s", addr, cfg.User)
	var dialer net.Dialer
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, ftperr.Wrap("dial", addr, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = tcpConn.SetDeadline(dl)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         cfg.Timeout,
	})
	if err != nil {
		tcpConn.Close()
		return nil, ftperr.WrapSSH("handshake", cfg.Host, cfg.Port, err)
	}
	_ = tcpConn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)
	d.client = client
	done := make(chan struct{})
	go d.monitor(client, done)
	if cfg.KeepAlive > 0 {
		go d.keepalive(client, done)
	}
	d.logger.Verbose("ssh: gateway %s ready", addr)
	return client, nil
}

// monitor forgets client once its connection ends.
func (d *SSHDialer) monitor(client *ssh.Client, done chan<- struct{}) {
	err := client.Wait()
	close(done)
	d.drop(client)
	if err != nil {
		d.logger.Debug("ssh: gateway closed: %v", err)
	}
}

// keepalive sends keepalive@openssh.com every interval and drops the
// gateway when a request fails or goes unanswered for an interval.
func (d *SSHDialer) keepalive(client *ssh.Client, done <-chan struct{}) {
	ticker := time.NewTicker(d.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		replied := make(chan error, 1)
		go func() {
			_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
			replied <- err
		}()
		var err error
		select {
		case <-done:
			return
		case err = <-replied:
		case <-time.After(d.cfg.KeepAlive):
			err = errors.New("no reply")
		}
		if err != nil {
			d.logger.Error("ssh keepalive to %s failed: %v", d.cfg.Addr(), err)
			d.drop(client)
			client.Close()
			return
		}
		d.logger.Debug("ssh keepalive OK")
	}
}

func (d *SSHDialer) drop(client *ssh.Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == client {
		d.client.Close()
		d.client = nil
	}
}

var _ Dialer = (*SSHDialer)(nil)
