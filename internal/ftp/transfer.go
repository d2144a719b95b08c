package ftp

import (
	"context"
	"fmt"
	"io"

	ftperr "goftpc/internal/errors"
	"goftpc/util"
)

// Phase is the position of a transfer in its lifecycle.
type Phase int

const (
	PhaseNegotiating Phase = iota
	PhaseCommandSent
	PhaseStreaming
	PhaseFinalizing
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseNegotiating:
		return "negotiating"
	case PhaseCommandSent:
		return "command-sent"
	case PhaseStreaming:
		return "streaming"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Result describes one finished transfer.
type Result struct {
	Remote string
	Bytes  int64
	Phase  Phase
	// Final is the completion reply, nil when none was owed or it
	// could not be read.
	Final *Reply
	// Warning is set when every byte moved but the completion reply
	// was unreadable.  The transfer still counts as succeeded.
	Warning error
}

// Executor runs transfers over one control channel.
type Executor struct {
	Control *Control
	// Progress, if set, is called with each chunk of bytes moved.
	Progress func(n int64)
	Logger   *util.Logger
}

// Download retrieves remote into sink over dc.  dc is always closed.
func (e *Executor) Download(ctx context.Context, dc *DataChannel, remote string, sink io.Writer) (*Result, error) {
	return e.run(ctx, dc, "RETR "+remote, remote, func(conn io.ReadWriter) (int64, error) {
		return util.Copy(e.counting(sink), conn)
	})
}

// Upload stores everything read from src as remote.  Closing the data
// connection tells the server the file is complete.
func (e *Executor) Upload(ctx context.Context, dc *DataChannel, src io.Reader, remote string) (*Result, error) {
	return e.run(ctx, dc, "STOR "+remote, remote, func(conn io.ReadWriter) (int64, error) {
		return util.Copy(e.counting(conn), src)
	})
}

func (e *Executor) run(ctx context.Context, dc *DataChannel, line, remote string, stream func(io.ReadWriter) (int64, error)) (*Result, error) {
	defer dc.Close()
	res := &Result{Remote: remote, Phase: PhaseCommandSent}

	reply, err := e.Control.start(ctx, line)
	if err != nil {
		res.Phase = PhaseFailed
		return res, err
	}
	if reply.Code >= 400 {
		res.Phase = PhaseFailed
		return res, ftperr.Reply(ftperr.ErrTransferRejected, line, reply.Code, reply.Message())
	}

	conn, err := dc.Conn(ctx)
	if err != nil {
		// The server still owes a reply we will never wait for.
		e.Control.Close()
		res.Phase = PhaseFailed
		return res, err
	}

	res.Phase = PhaseStreaming
	n, streamErr := stream(conn)
	res.Bytes = n
	if cerr := dc.Close(); streamErr == nil && cerr != nil && !util.IsClosedConn(cerr) {
		streamErr = cerr
	}

	res.Phase = PhaseFinalizing
	final, finalErr := e.Control.finish(ctx)
	res.Final = final
	switch {
	case streamErr != nil:
		res.Phase = PhaseFailed
		return res, fmt.Errorf("%s: %w after %d bytes: %w", line, ftperr.ErrIncompleteTransfer, n, streamErr)
	case finalErr != nil:
		res.Phase = PhaseDone
		res.Warning = fmt.Errorf("%s: %d bytes moved but completion reply was not received: %w", line, n, finalErr)
		e.logger().Warn("%v", res.Warning)
		return res, nil
	case final != nil && final.Code >= 400:
		res.Phase = PhaseFailed
		return res, ftperr.Reply(ftperr.ErrIncompleteTransfer, line, final.Code, final.Message())
	}
	res.Phase = PhaseDone
	return res, nil
}

func (e *Executor) counting(w io.Writer) io.Writer {
	if e.Progress == nil {
		return w
	}
	return &util.CountingWriter{W: w, OnWrite: e.Progress}
}

func (e *Executor) logger() *util.Logger {
	if e.Logger == nil {
		return util.NewLogger(0)
	}
	return e.Logger
}
