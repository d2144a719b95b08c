// Package core is the orchestration layer.  It composes transports,
// sessions and the batch coordinator into complete operational modes
// and provides a builder that selects the right mode from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  ftp  →  session  →  batch  →  core  →  cmd (CLI)
//
// The builder in this package is the single dispatch point between
// the parsed command line and the FTP engine.
package core

import (
	"context"
	"io"
	"os"
)

// Mode represents one complete goftpc command (a batch transfer, a
// directory listing, or a single control command).  Each mode owns
// its full lifecycle from connection establishment to teardown.
type Mode interface {
	Run(ctx context.Context) error
}

// output defaults to os.Stdout.  Modes let tests override it for
// deterministic output.
type output struct {
	Out io.Writer
}

func (o output) stdout() io.Writer {
	if o.Out != nil {
		return o.Out
	}
	return os.Stdout
}
