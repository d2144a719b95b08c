package core

import (
	"context"
	"errors"
	"os"

	"goftpc/config"
	"goftpc/internal/batch"
	"goftpc/internal/ftp"
	"goftpc/internal/metrics"
	"goftpc/internal/retry"
	"goftpc/internal/session"
	"goftpc/internal/transport"
	"goftpc/util"
)

// anonymousPassword is sent for anonymous logins when no password is
// configured.
const anonymousPassword = "anonymous@"

// Opener returns a fresh authenticated session.
type Opener func(ctx context.Context, logger *util.Logger) (*session.Session, error)

// Build constructs the appropriate Mode from a validated configuration.
func Build(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	mode, err := ftp.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if cfg.IsActive() {
		mode = ftp.Active
	}

	dialer := buildDialer(cfg, logger)
	open := buildOpener(cfg, dialer, mode, m)

	switch cfg.Command {
	case "get", "mget":
		return buildBatch(cfg, dialer, open, batch.Download, logger, m), nil
	case "put", "mput", "pput":
		return buildBatch(cfg, dialer, open, batch.Upload, logger, m), nil
	case "dir":
		lm := &ListMode{Open: open, Dialer: dialer, Logger: logger}
		if len(cfg.Args) > 0 {
			lm.Path = cfg.Args[0]
		}
		return lm, nil
	default:
		cm := &CommandMode{Open: open, Dialer: dialer, Command: cfg.Command, Logger: logger}
		if len(cfg.Args) > 0 {
			cm.Arg = cfg.Args[0]
		}
		return cm, nil
	}
}

// ── mode builders ────────────────────────────────────────────────────

func buildBatch(cfg *config.Config, dialer transport.Dialer, open Opener, kind batch.Kind, logger *util.Logger, m *metrics.Collector) Mode {
	return &BatchMode{
		Coordinator: &batch.Coordinator{
			Open:           open,
			MaxConcurrency: cfg.MaxConcurrency,
			LocalDir:       cfg.LocalDir,
			Logger:         logger,
			Metrics:        m,
		},
		Names:  cfg.Args,
		Kind:   kind,
		Dialer: dialer,
		Logger: logger,
	}
}

// ── shared helpers ───────────────────────────────────────────────────

// buildOpener binds everything a session needs.  Each call of the
// result dials and logs in anew.
func buildOpener(cfg *config.Config, dialer transport.Dialer, mode ftp.Mode, m *metrics.Collector) Opener {
	backoff := retry.DefaultBackoff()
	backoff.MaxAttempts = cfg.ConnectRetries + 1

	base := session.Options{
		Host:        cfg.Host,
		Port:        cfg.Port,
		User:        cfg.User,
		Credentials: buildCredentials(cfg),
		Dialer:      dialer,
		Listeners:   &transport.TCPListenerFactory{ReuseAddr: cfg.ActivePort != 0},
		Mode:        mode,
		ActivePort:  cfg.ActivePort,
		Timeout:     cfg.Timeout,
		RemoteDir:   cfg.RemoteDir,
		Retry:       backoff,
		Metrics:     m,
	}
	return func(ctx context.Context, logger *util.Logger) (*session.Session, error) {
		opts := base
		opts.Logger = logger
		return session.Open(ctx, opts)
	}
}

// buildCredentials picks the password source.  A prompt is shared by
// every session of the run, so the user is asked at most once.
func buildCredentials(cfg *config.Config) ftp.CredentialSource {
	switch {
	case cfg.Password != "":
		return ftp.StaticPassword(cfg.Password)
	case cfg.PromptPassword, cfg.User != config.DefaultUser:
		return &ftp.PromptCredentials{In: os.Stdin, Out: os.Stderr}
	}
	return ftp.StaticPassword(anonymousPassword)
}

// buildDialer creates the right transport.Dialer for the given config,
// guarded by a circuit breaker unless BreakerThreshold is 0.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	var d transport.Dialer = &transport.TCPDialer{Timeout: cfg.Timeout}
	if cfg.TunnelEnabled {
		d = transport.NewSSHDialer(transport.SSHConfig{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			Timeout:       cfg.Timeout,
		}, logger)
	}
	if cfg.BreakerThreshold == 0 {
		return d
	}

	breaker := retry.NewCircuitBreaker(&retry.CircuitBreakerConfig{
		MaxFailures:  cfg.BreakerThreshold,
		ResetTimeout: config.DefaultBreakerReset,
		IsFailure: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
		OnStateChange: func(from, to retry.State) {
			logger.Verbose("circuit breaker: %s -> %s", from, to)
		},
	})
	return &transport.BreakerDialer{Dialer: d, Breaker: breaker}
}
