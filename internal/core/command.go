package core

import (
	"context"
	"fmt"

	"goftpc/internal/transport"
	"goftpc/util"
)

// CommandMode runs one control command that needs no data channel:
// pwd, mkd or dele.
type CommandMode struct {
	output
	Open    Opener
	Dialer  transport.Dialer
	Command string
	Arg     string
	Logger  *util.Logger
}

// Run opens a session, runs the command, and quits.
func (m *CommandMode) Run(ctx context.Context) error {
	defer m.Dialer.Close()

	sess, err := m.Open(ctx, m.Logger)
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	c := sess.Control
	out := m.stdout()
	switch m.Command {
	case "pwd":
		dir, err := c.CurrentDir(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, dir)
	case "mkd":
		dir, err := c.MakeDir(ctx, m.Arg)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "created %s\n", dir)
	case "dele":
		if err := c.Delete(ctx, m.Arg); err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted %s\n", m.Arg)
	default:
		return fmt.Errorf("unknown command %q", m.Command)
	}
	return nil
}
