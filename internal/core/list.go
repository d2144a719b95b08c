package core

import (
	"context"
	"fmt"

	"goftpc/internal/transport"
	"goftpc/util"
)

// ListMode streams a LIST of Path to stdout.
type ListMode struct {
	output
	Open   Opener
	Dialer transport.Dialer
	Path   string
	Logger *util.Logger
}

// Run opens a session, prints each listing line as it arrives, and
// quits.
func (m *ListMode) Run(ctx context.Context) error {
	defer m.Dialer.Close()

	sess, err := m.Open(ctx, m.Logger)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	listing, err := sess.List(ctx, m.Path)
	if err != nil {
		return err
	}
	out := m.stdout()
	for listing.Next() {
		fmt.Fprintln(out, listing.Line())
	}
	if err := listing.Close(); err != nil {
		return err
	}
	if w := listing.Result().Warning; w != nil {
		m.Logger.Warn("%v", w)
	}
	return nil
}
