// Package cmd wires up the CLI flags and dispatches to the FTP engine.
package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"goftpc/config"
	"goftpc/internal/core"
	"goftpc/internal/metrics"
	"goftpc/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X goftpc/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the requested command.
func Execute(ctx context.Context, args []string) error {
	cfg, done, err := parse(args)
	if err != nil || done {
		return err
	}

	if cfg.DryRun {
		fmt.Fprintf(os.Stderr, "goftpc: configuration OK: %s %s on %s as %s (%s mode)\n",
			cfg.Command, strings.Join(cfg.Args, " "),
			util.FormatAddr(cfg.Host, cfg.Port), cfg.User, modeName(cfg))
		return nil
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	m := metrics.New()

	mode, err := core.Build(cfg, logger, m)
	if err != nil {
		return err
	}
	err = mode.Run(ctx)
	if cfg.Verbose >= 2 {
		fmt.Fprintln(os.Stderr, m.JSON())
	}
	return err
}

// parse builds the configuration: defaults, then the config file,
// then GOFTPC_* variables, then flags that were given explicitly.
// done is true when help or version output was the whole job.
func parse(args []string) (cfg *config.Config, done bool, err error) {
	fl := config.Default()
	fs := flag.NewFlagSet("goftpc", flag.ContinueOnError)
	fs.SetInterspersed(false)

	// ── login ────────────────────────────────────────────────────
	fs.StringVarP(&fl.User, "user", "u", fl.User, "Login name")
	fs.StringVar(&fl.Password, "password", "", "Login password (prefer --prompt or GOFTPC_PASSWORD)")
	fs.BoolVarP(&fl.PromptPassword, "prompt", "P", false, "Prompt for the login password")

	// ── transfers ────────────────────────────────────────────────
	fs.StringVarP(&fl.Mode, "mode", "m", fl.Mode, "Data channel mode: passive or active")
	fs.IntVar(&fl.ActivePort, "active-port", 0, "Fixed local port for active mode (0 = ephemeral)")
	fs.IntVarP(&fl.MaxConcurrency, "parallel", "j", fl.MaxConcurrency, "Maximum concurrent transfers (0 = no limit)")
	fs.StringVarP(&fl.LocalDir, "local-dir", "d", fl.LocalDir, "Local directory for downloads and uploads")
	fs.StringVar(&fl.RemoteDir, "cwd", "", "Remote directory to change to after login")
	fs.IntVar(&fl.ConnectRetries, "retries", fl.ConnectRetries, "Connect retries per session")
	fs.IntVar(&fl.BreakerThreshold, "breaker", fl.BreakerThreshold, "Consecutive connect failures before failing fast (0 = off)")

	var timeoutSec int
	fs.IntVarP(&timeoutSec, "timeout", "w", int(fl.Timeout/time.Second), "I/O timeout in seconds")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&fl.TunnelSpec, "tunnel", "T", "", "SSH tunnel via [user@]host[:port]")
	fs.StringVar(&fl.SSHKeyPath, "ssh-key", "", "SSH private key file")
	fs.BoolVar(&fl.SSHPassword, "ssh-password", false, "Prompt for SSH password")
	fs.BoolVar(&fl.UseSSHAgent, "ssh-agent", false, "Use SSH agent")
	fs.BoolVar(&fl.StrictHostKey, "strict-hostkey", false, "Verify SSH host keys")
	fs.StringVar(&fl.KnownHostsPath, "known-hosts", "", "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	var verbose int
	fs.CountVarP(&verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&fl.DryRun, "dry-run", "n", false, "Validate the configuration and exit")

	var configPath string
	fs.StringVar(&configPath, "config", "", "YAML config file (default $GOFTPC_CONFIG)")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if showHelp || len(args) == 0 {
		printUsage(fs)
		return nil, true, nil
	}
	if showVersion {
		fmt.Printf("goftpc %s\n", version)
		return nil, true, nil
	}

	// ── layer sources ────────────────────────────────────────────
	cfg = config.Default()
	if configPath == "" {
		configPath = config.ConfigPath()
	}
	if configPath != "" {
		if err := config.LoadFile(configPath, cfg); err != nil {
			return nil, false, err
		}
	}
	config.LoadFromEnv(cfg)

	fs.Visit(func(f *flag.Flag) {
		if apply, ok := overlay[f.Name]; ok {
			apply(cfg, fl)
		}
	})
	if fs.Changed("timeout") {
		cfg.Timeout = time.Duration(timeoutSec) * time.Second
	}
	if fs.Changed("verbose") {
		cfg.Verbose = verbose + 1
	}
	cfg.DryRun = fl.DryRun

	// ── positional arguments ─────────────────────────────────────
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return nil, false, err
	}

	// ── tunnel spec ──────────────────────────────────────────────
	if err := cfg.ApplyTunnelSpec(); err != nil {
		return nil, false, err
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// overlay copies explicitly given flags over file and env values.
var overlay = map[string]func(dst, src *config.Config){ //nolint:gochecknoglobals
	"user":           func(d, s *config.Config) { d.User = s.User },
	"password":       func(d, s *config.Config) { d.Password = s.Password },
	"prompt":         func(d, s *config.Config) { d.PromptPassword = s.PromptPassword },
	"mode":           func(d, s *config.Config) { d.Mode = s.Mode },
	"active-port":    func(d, s *config.Config) { d.ActivePort = s.ActivePort },
	"parallel":       func(d, s *config.Config) { d.MaxConcurrency = s.MaxConcurrency },
	"local-dir":      func(d, s *config.Config) { d.LocalDir = s.LocalDir },
	"cwd":            func(d, s *config.Config) { d.RemoteDir = s.RemoteDir },
	"retries":        func(d, s *config.Config) { d.ConnectRetries = s.ConnectRetries },
	"breaker":        func(d, s *config.Config) { d.BreakerThreshold = s.BreakerThreshold },
	"tunnel":         func(d, s *config.Config) { d.TunnelSpec = s.TunnelSpec },
	"ssh-key":        func(d, s *config.Config) { d.SSHKeyPath = s.SSHKeyPath },
	"ssh-password":   func(d, s *config.Config) { d.SSHPassword = s.SSHPassword },
	"ssh-agent":      func(d, s *config.Config) { d.UseSSHAgent = s.UseSSHAgent },
	"strict-hostkey": func(d, s *config.Config) { d.StrictHostKey = s.StrictHostKey },
	"known-hosts":    func(d, s *config.Config) { d.KnownHostsPath = s.KnownHostsPath },
}

// ── helpers ──────────────────────────────────────────────────────────

// parsePositional reads "<host[:port]> <command> [args...]".  The host
// may be omitted when the config file or environment provides it.
func parsePositional(cfg *config.Config, remaining []string) error {
	if len(remaining) > 0 {
		if _, known := config.Commands[strings.ToLower(remaining[0])]; !known || cfg.Host == "" {
			host, port, err := config.ParseHostSpec(remaining[0])
			if err != nil {
				return err
			}
			cfg.Host = host
			if hasPort(remaining[0]) {
				cfg.Port = port
			}
			remaining = remaining[1:]
		}
	}
	if len(remaining) == 0 {
		return fmt.Errorf("command required (use --help for usage)")
	}
	cfg.Command = strings.ToLower(remaining[0])
	cfg.Args = remaining[1:]
	return nil
}

// hasPort reports whether spec names a port rather than being a bare
// host or IPv6 address.
func hasPort(spec string) bool {
	if net.ParseIP(spec) != nil {
		return false
	}
	_, _, err := net.SplitHostPort(spec)
	return err == nil
}

func modeName(cfg *config.Config) string {
	if cfg.IsActive() {
		return "active"
	}
	return "passive"
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `goftpc - concurrent FTP client v%s

Usage:
  goftpc [options] <host[:port]> <command> [args...]

Commands:
  get <file>          Download one file
  put <file>          Upload one file
  mget <file>...      Download files concurrently, one session each
  mput <file>...      Upload files concurrently, one session each
  pput <file>...      Upload in active mode
  dir [path]          List a remote directory
  pwd                 Print the remote working directory
  mkd <dir>           Create a remote directory
  dele <file>         Delete a remote file

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  goftpc ftp.example.com dir pub
  goftpc -u alice -P ftp.example.com:2121 mget a.txt b.txt c.txt
  goftpc -j 1 --active-port 1030 ftp.example.com pput report.pdf
  goftpc -T ops@bastion -d ./in ftp.internal get backup.tar
`)
}
