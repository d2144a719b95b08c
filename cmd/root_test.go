package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"goftpc/internal/ftptest"
)

// clearEnv keeps GOFTPC_* variables from the caller's shell out of the
// test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if k, _, _ := strings.Cut(kv, "="); strings.HasPrefix(k, "GOFTPC_") {
			t.Setenv(k, "")
		}
	}
}

func TestExecute_Version(t *testing.T) {
	if err := Execute(context.Background(), []string{"--version"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExecute_Help(t *testing.T) {
	for _, args := range [][]string{{"--help"}, {}} {
		name := "no-args"
		if len(args) > 0 {
			name = args[0]
		}
		t.Run(name, func(t *testing.T) {
			if err := Execute(context.Background(), args); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestExecute_DryRun(t *testing.T) {
	clearEnv(t)
	err := Execute(context.Background(), []string{
		"--dry-run", "ftp.example.com", "mget", "a.txt", "b.txt",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExecute_DryRunInvalid(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing command", []string{"-n", "ftp.example.com"}, "command required"},
		{"unknown command", []string{"-n", "ftp.example.com", "chmod", "x"}, "unknown command"},
		{"arity", []string{"-n", "ftp.example.com", "get"}, "wrong number of arguments"},
		{"bad mode", []string{"-n", "-m", "eprt", "ftp.example.com", "pwd"}, "mode"},
		{"bad port", []string{"-n", "ftp.example.com:99999", "pwd"}, "port"},
		{"active tunnel", []string{"-n", "-T", "bastion", "ftp.example.com", "pput", "x"}, "tunnel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Execute(context.Background(), tt.args)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestExecute_InvalidFlags(t *testing.T) {
	if err := Execute(context.Background(), []string{"--nonexistent-flag"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestParse_Precedence(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "goftpc.yaml")
	yaml := "host: files.example.com\nport: 2121\nuser: filer\nmax_concurrency: 8\nremote_dir: /pub\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GOFTPC_CONFIG", path)
	t.Setenv("GOFTPC_USER", "envuser")
	t.Setenv("GOFTPC_PARALLEL", "3")

	cfg, done, err := parse([]string{"-j", "1", "-w", "7", "get", "a.txt"})
	if err != nil || done {
		t.Fatalf("parse: done=%v err=%v", done, err)
	}
	if cfg.Host != "files.example.com" || cfg.Port != 2121 {
		t.Errorf("server = %s:%d, want the file's", cfg.Host, cfg.Port)
	}
	if cfg.RemoteDir != "/pub" {
		t.Errorf("RemoteDir = %q, want /pub from file", cfg.RemoteDir)
	}
	if cfg.User != "envuser" {
		t.Errorf("User = %q, env should override the file", cfg.User)
	}
	if cfg.MaxConcurrency != 1 {
		t.Errorf("MaxConcurrency = %d, flag should override env", cfg.MaxConcurrency)
	}
	if cfg.Timeout != 7*time.Second {
		t.Errorf("Timeout = %v, want 7s", cfg.Timeout)
	}
	if cfg.Command != "get" || len(cfg.Args) != 1 {
		t.Errorf("command = %s %v", cfg.Command, cfg.Args)
	}
}

func TestParse_HostSpec(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		arg  string
		host string
		port int
	}{
		{"ftp.example.com", "ftp.example.com", 21},
		{"ftp.example.com:2121", "ftp.example.com", 2121},
		{"[::1]:2121", "::1", 2121},
		{"::1", "::1", 21},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			cfg, _, err := parse([]string{tt.arg, "pwd"})
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if cfg.Host != tt.host || cfg.Port != tt.port {
				t.Errorf("got %s:%d, want %s:%d", cfg.Host, cfg.Port, tt.host, tt.port)
			}
		})
	}
}

func TestParse_FlagWithoutEnv(t *testing.T) {
	clearEnv(t)
	cfg, _, err := parse([]string{"-vv", "--cwd", "/in", "-u", "alice", "ftp.example.com", "dir"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Verbose != 3 {
		t.Errorf("Verbose = %d, want 3", cfg.Verbose)
	}
	if cfg.RemoteDir != "/in" || cfg.User != "alice" {
		t.Errorf("RemoteDir=%q User=%q", cfg.RemoteDir, cfg.User)
	}
	if cfg.MaxConcurrency != 4 {
		t.Errorf("MaxConcurrency = %d, want the default", cfg.MaxConcurrency)
	}
}

func TestExecute_Download(t *testing.T) {
	clearEnv(t)
	srv := ftptest.New().Start(t)
	srv.Put("a.txt", []byte("alpha"))
	srv.Put("b.txt", []byte("bravo"))
	dir := t.TempDir()

	err := Execute(context.Background(), []string{
		"-u", srv.User, "--password", srv.Password,
		"-w", "5", "--retries", "0", "-d", dir,
		srv.Host() + ":" + strconv.Itoa(srv.Port()), "mget", "a.txt", "b.txt",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for name, want := range map[string]string{"a.txt": "alpha", "b.txt": "bravo"} {
		got, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil || string(got) != want {
			t.Errorf("%s = %q, %v; want %q", name, got, err, want)
		}
	}
}

func TestExecute_PartialFailure(t *testing.T) {
	clearEnv(t)
	srv := ftptest.New().Start(t)
	srv.Put("a.txt", []byte("alpha"))

	err := Execute(context.Background(), []string{
		"-u", srv.User, "--password", srv.Password,
		"-w", "5", "--retries", "0", "-d", t.TempDir(),
		srv.Addr, "mget", "a.txt", "missing.txt",
	})
	if err == nil || !strings.Contains(err.Error(), "1 of 2 transfers failed") {
		t.Fatalf("err = %v, want a batch failure", err)
	}
}
