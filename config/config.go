// Package config defines the runtime configuration for goftpc and the
// parsers for server and tunnel specifications.
package config

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	ftperr "goftpc/internal/errors"
	"goftpc/internal/ftp"
)

// Config holds every tuneable for one goftpc run.
type Config struct {
	// ── Server ───────────────────────────────────────────────────────
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	PromptPassword bool   `yaml:"prompt_password"`

	// ── Transfers ────────────────────────────────────────────────────
	Mode             string        `yaml:"mode"`        // "passive" or "active"
	ActivePort       int           `yaml:"active_port"` // 0: ephemeral per transfer
	Timeout          time.Duration `yaml:"timeout"`
	MaxConcurrency   int           `yaml:"max_concurrency"` // 0: unbounded
	LocalDir         string        `yaml:"local_dir"`
	RemoteDir        string        `yaml:"remote_dir"`
	ConnectRetries   int           `yaml:"connect_retries"`
	BreakerThreshold int           `yaml:"breaker_threshold"` // 0 disables the breaker

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string `yaml:"tunnel"` // raw [user@]host[:port]
	TunnelEnabled  bool   `yaml:"-"`
	TunnelUser     string `yaml:"-"`
	TunnelHost     string `yaml:"-"`
	TunnelPort     int    `yaml:"-"`
	SSHKeyPath     string `yaml:"ssh_key"`
	SSHPassword    bool   `yaml:"ssh_password"` // true → prompt interactively
	UseSSHAgent    bool   `yaml:"ssh_agent"`
	StrictHostKey  bool   `yaml:"strict_hostkey"`
	KnownHostsPath string `yaml:"known_hosts"`

	// ── Command ──────────────────────────────────────────────────────
	Command string   `yaml:"-"`
	Args    []string `yaml:"-"`
	DryRun  bool     `yaml:"-"`

	// ── Output ───────────────────────────────────────────────────────
	Verbose int `yaml:"verbose"`
}

// ── Commands ─────────────────────────────────────────────────────────

// CommandSpec describes the positional arguments a command accepts.
// MaxArgs < 0 means unlimited.
type CommandSpec struct {
	MinArgs int
	MaxArgs int
	Usage   string
}

// Commands lists every command the CLI dispatches.
var Commands = map[string]CommandSpec{
	"get":  {1, 1, "get <remote-file>"},
	"put":  {1, 1, "put <local-file>"},
	"mget": {1, -1, "mget <remote-file>..."},
	"mput": {1, -1, "mput <local-file>..."},
	"pput": {1, -1, "pput <local-file>..."},
	"dir":  {0, 1, "dir [remote-path]"},
	"pwd":  {0, 0, "pwd"},
	"mkd":  {1, 1, "mkd <remote-dir>"},
	"dele": {1, 1, "dele <remote-file>"},
}

// IsActive reports whether data channels use active mode.  pput always
// does.
func (c *Config) IsActive() bool {
	mode, _ := ftp.ParseMode(c.Mode)
	return c.Command == "pput" || mode == ftp.Active
}

// IsUpload reports whether the command stores files on the server.
func (c *Config) IsUpload() bool {
	switch c.Command {
	case "put", "mput", "pput":
		return true
	}
	return false
}

// ── Host-spec parser ─────────────────────────────────────────────────

// ParseHostSpec splits "host[:port]" (or "[v6addr]:port").  The port
// defaults to DefaultFTPPort.
func ParseHostSpec(spec string) (string, int, error) {
	if spec == "" {
		return "", 0, fmt.Errorf("server host is required")
	}
	if !strings.Contains(spec, ":") || net.ParseIP(spec) != nil {
		return strings.Trim(spec, "[]"), DefaultFTPPort, nil
	}
	host, portStr, err := net.SplitHostPort(spec)
	if err != nil {
		return "", 0, fmt.Errorf("invalid server %q: %w", spec, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid server port %q", portStr)
	}
	if host == "" {
		return "", 0, fmt.Errorf("server host is required")
	}
	return host, port, nil
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q, expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ApplyTunnelSpec parses TunnelSpec into the Tunnel* fields.  The
// tunnel user defaults to the FTP user.
func (c *Config) ApplyTunnelSpec() error {
	if c.TunnelSpec == "" {
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return fmt.Errorf("tunnel: %w", err)
	}
	if user == "" {
		user = c.User
	}
	c.TunnelEnabled = true
	c.TunnelUser = user
	c.TunnelHost = host
	c.TunnelPort = port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Host == "" {
		return &ftperr.ConfigError{
			Field:   "host",
			Message: "server host is required",
			Hint:    "goftpc [options] <host[:port]> <command> [args...]",
		}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &ftperr.ConfigError{Field: "port", Value: c.Port, Message: "out of range 1-65535"}
	}
	if err := c.validateCommand(); err != nil {
		return err
	}
	if _, err := ftp.ParseMode(c.Mode); err != nil {
		return &ftperr.ConfigError{Field: "mode", Value: c.Mode, Message: err.Error(), Hint: "use passive or active"}
	}
	if c.ActivePort < 0 || c.ActivePort > 65535 {
		return &ftperr.ConfigError{Field: "active-port", Value: c.ActivePort, Message: "out of range 0-65535"}
	}
	if c.Timeout < 0 {
		return &ftperr.ConfigError{Field: "timeout", Value: c.Timeout, Message: "must not be negative"}
	}
	if c.MaxConcurrency < 0 {
		return &ftperr.ConfigError{
			Field:   "parallel",
			Value:   c.MaxConcurrency,
			Message: "must not be negative",
			Hint:    "use 0 for no limit",
		}
	}
	if c.ConnectRetries < 0 {
		return &ftperr.ConfigError{Field: "retries", Value: c.ConnectRetries, Message: "must not be negative"}
	}
	if c.BreakerThreshold < 0 {
		return &ftperr.ConfigError{Field: "breaker", Value: c.BreakerThreshold, Message: "must not be negative"}
	}

	if c.TunnelEnabled {
		if c.TunnelHost == "" {
			return &ftperr.ConfigError{Field: "tunnel", Message: "tunnel host is required"}
		}
		if c.IsActive() {
			return &ftperr.ConfigError{
				Field:   "tunnel",
				Value:   c.TunnelSpec,
				Message: "active mode cannot be used through an SSH tunnel",
				Hint:    "the server could not connect back; use passive mode",
			}
		}
	}

	// Concurrent active-mode transfers on one fixed port would collide.
	if c.IsActive() && c.ActivePort != 0 && len(c.Args) > 1 && c.MaxConcurrency != 1 {
		return &ftperr.ConfigError{
			Field:   "active-port",
			Value:   c.ActivePort,
			Message: "a fixed active port cannot serve concurrent transfers",
			Hint:    "use --parallel 1, or drop --active-port to get a port per transfer",
		}
	}
	return nil
}

func (c *Config) validateCommand() error {
	spec, ok := Commands[c.Command]
	if !ok {
		if c.Command == "" {
			return &ftperr.ConfigError{Field: "command", Message: "a command is required", Hint: commandHint()}
		}
		return &ftperr.ConfigError{Field: "command", Value: c.Command, Message: "unknown command", Hint: commandHint()}
	}
	if n := len(c.Args); n < spec.MinArgs || (spec.MaxArgs >= 0 && n > spec.MaxArgs) {
		return &ftperr.ConfigError{
			Field:   "command",
			Value:   c.Command,
			Message: fmt.Sprintf("wrong number of arguments (%d)", n),
			Hint:    "usage: " + spec.Usage,
		}
	}
	return nil
}

func commandHint() string {
	return "one of get, put, mget, mput, pput, dir, pwd, mkd, dele"
}
