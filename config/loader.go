package config

// loader.go - configuration loading from a YAML file and environment
// variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables
//   3. Config file
//   4. Defaults   (defaults.go)

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ── Config file ──────────────────────────────────────────────────────

// ConfigPath returns the config file named by GOFTPC_CONFIG, if any.
func ConfigPath() string { return os.Getenv("GOFTPC_CONFIG") }

// LoadFile overlays the YAML file at path onto cfg.  Keys absent from
// the file leave cfg untouched; unknown keys are an error so typos do
// not pass silently.
//
//	host: ftp.example.com
//	user: alice
//	mode: active
//	timeout: 45s
//	max_concurrency: 2
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the GOFTPC_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("GOFTPC_HOST"); v != "" {
		cfg.Host = v
	}
	if v := envInt("GOFTPC_PORT"); v > 0 {
		cfg.Port = v
	}
	if v := os.Getenv("GOFTPC_USER"); v != "" {
		cfg.User = v
	}
	if v := os.Getenv("GOFTPC_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if envBool("GOFTPC_PROMPT_PASSWORD") {
		cfg.PromptPassword = true
	}

	// Transfers
	if v := os.Getenv("GOFTPC_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := envInt("GOFTPC_ACTIVE_PORT"); v > 0 {
		cfg.ActivePort = v
	}
	if v := envInt("GOFTPC_TIMEOUT"); v > 0 {
		cfg.Timeout = secondsDuration(v)
	}
	if v, ok := envIntSet("GOFTPC_PARALLEL"); ok {
		cfg.MaxConcurrency = v
	}
	if v := os.Getenv("GOFTPC_LOCAL_DIR"); v != "" {
		cfg.LocalDir = v
	}
	if v := os.Getenv("GOFTPC_REMOTE_DIR"); v != "" {
		cfg.RemoteDir = v
	}
	if v, ok := envIntSet("GOFTPC_RETRIES"); ok {
		cfg.ConnectRetries = v
	}
	if v, ok := envIntSet("GOFTPC_BREAKER"); ok {
		cfg.BreakerThreshold = v
	}

	// SSH tunnel
	if v := os.Getenv("GOFTPC_TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := os.Getenv("GOFTPC_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("GOFTPC_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("GOFTPC_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("GOFTPC_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("GOFTPC_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Output
	if v := envInt("GOFTPC_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	n, _ := envIntSet(key)
	return n
}

// envIntSet also reports whether key held a valid number, for
// settings where 0 is meaningful.
func envIntSet(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
