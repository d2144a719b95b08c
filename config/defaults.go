package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultFTPPort is the standard FTP control port.
	DefaultFTPPort = 21

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultUser logs in anonymously when no user is given.
	DefaultUser = "anonymous"

	// DefaultMode is the data channel mode.
	DefaultMode = "passive"

	// DefaultTimeout bounds each control read/write, each data-channel
	// read/write and the active-mode accept.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxConcurrency caps simultaneous sessions of one batch.
	// Most servers limit connections per client to a handful.
	DefaultMaxConcurrency = 4

	// DefaultConnectRetries is how many times a failed connect or
	// transient greeting is retried.
	DefaultConnectRetries = 2

	// DefaultBreakerThreshold is the number of consecutive connect
	// failures after which the rest of a batch fails fast.
	DefaultBreakerThreshold = 5

	// DefaultBreakerReset is how long an open breaker waits before
	// letting a probe through.
	DefaultBreakerReset = 30 * time.Second
)

// Default returns a Config with every default filled in.
func Default() *Config {
	return &Config{
		Port:             DefaultFTPPort,
		User:             DefaultUser,
		Mode:             DefaultMode,
		Timeout:          DefaultTimeout,
		MaxConcurrency:   DefaultMaxConcurrency,
		LocalDir:         ".",
		ConnectRetries:   DefaultConnectRetries,
		BreakerThreshold: DefaultBreakerThreshold,
		Verbose:          1,
	}
}
