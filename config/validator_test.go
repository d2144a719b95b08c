package config

import (
	"errors"
	"strings"
	"testing"

	ftperr "goftpc/internal/errors"
)

func valid() Config {
	return Config{
		Host:    "ftp.example.com",
		Port:    21,
		User:    "alice",
		Mode:    "passive",
		Command: "mget",
		Args:    []string{"a.txt", "b.txt"},
	}
}

func TestValidate_OK(t *testing.T) {
	cfg := valid()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

// TestValidate_ErrorMessages verifies that Validate returns actionable
// error messages.
func TestValidate_ErrorMessages(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string // substring expected in error
	}{
		{"no host", func(c *Config) { c.Host = "" }, "hint:"},
		{"bad port", func(c *Config) { c.Port = 0 }, "--port=0"},
		{"no command", func(c *Config) { c.Command = "" }, "a command is required"},
		{"unknown command", func(c *Config) { c.Command = "rename" }, "unknown command"},
		{"too few args", func(c *Config) { c.Command = "get"; c.Args = nil }, "usage: get"},
		{"too many args", func(c *Config) { c.Command = "pwd" }, "wrong number of arguments (2)"},
		{"bad mode", func(c *Config) { c.Mode = "sideways" }, "--mode=sideways"},
		{"bad active port", func(c *Config) { c.ActivePort = 70000 }, "--active-port=70000"},
		{"negative timeout", func(c *Config) { c.Timeout = -1 }, "--timeout"},
		{"negative parallel", func(c *Config) { c.MaxConcurrency = -1 }, "use 0 for no limit"},
		{"negative retries", func(c *Config) { c.ConnectRetries = -1 }, "--retries"},
		{"negative breaker", func(c *Config) { c.BreakerThreshold = -2 }, "--breaker"},
		{
			"tunnel without host",
			func(c *Config) { c.TunnelEnabled = true },
			"tunnel host is required",
		},
		{
			"active through tunnel",
			func(c *Config) { c.TunnelEnabled, c.TunnelHost, c.Mode = true, "gw", "active" },
			"active mode cannot be used through an SSH tunnel",
		},
		{
			"pput through tunnel",
			func(c *Config) { c.TunnelEnabled, c.TunnelHost, c.Command = true, "gw", "pput" },
			"active mode cannot be used through an SSH tunnel",
		},
		{
			"fixed port concurrent uploads",
			func(c *Config) { c.Command, c.ActivePort = "pput", 1030 },
			"fixed active port",
		},
		{
			"fixed port concurrent downloads",
			func(c *Config) { c.Mode, c.ActivePort = "active", 1030 },
			"fixed active port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantSub)
			}
			var ce *ftperr.ConfigError
			if !errors.As(err, &ce) {
				t.Errorf("error %T should be a ConfigError", err)
			}
		})
	}
}

// TestValidate_FixedActivePort covers the cases where a fixed port is
// safe.
func TestValidate_FixedActivePort(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"single file", func(c *Config) { c.Command, c.Args, c.ActivePort = "pput", []string{"a"}, 1030 }},
		{"serial batch", func(c *Config) { c.Command, c.ActivePort, c.MaxConcurrency = "pput", 1030, 1 }},
		{"passive batch", func(c *Config) { c.ActivePort = 1030 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidate_CommandArity(t *testing.T) {
	for name, spec := range Commands {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			cfg.Command = name
			cfg.Args = make([]string, spec.MinArgs)
			for i := range cfg.Args {
				cfg.Args[i] = "f"
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("%d args: %v", spec.MinArgs, err)
			}
		})
	}
}
