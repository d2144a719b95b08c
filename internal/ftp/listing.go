package ftp

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	ftperr "goftpc/internal/errors"
)

// Listing is a lazy, single-pass sequence of raw LIST lines.
//
//	l, err := exec.List(ctx, dc, "")
//	for l.Next() {
//		fmt.Println(l.Line())
//	}
//	err = l.Close()
type Listing struct {
	ctx      context.Context
	control  *Control
	dc       *DataChannel
	scanner  *bufio.Scanner
	progress func(int64)
	line     string
	done     bool
	closed   bool
	err      error
	result   *Result
}

// List sends LIST (with path when non-empty) and returns the listing
// stream.  The caller must Close it to collect the completion reply.
func (e *Executor) List(ctx context.Context, dc *DataChannel, path string) (*Listing, error) {
	line := "LIST"
	if path != "" {
		line += " " + path
	}
	reply, err := e.Control.start(ctx, line)
	if err != nil {
		dc.Close()
		return nil, err
	}
	if reply.Code >= 400 {
		dc.Close()
		return nil, ftperr.Reply(ftperr.ErrTransferRejected, line, reply.Code, reply.Message())
	}
	conn, err := dc.Conn(ctx)
	if err != nil {
		dc.Close()
		e.Control.Close()
		return nil, err
	}
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	return &Listing{
		ctx:      ctx,
		control:  e.Control,
		dc:       dc,
		scanner:  sc,
		progress: e.Progress,
		result:   &Result{Remote: path, Phase: PhaseStreaming},
	}, nil
}

// Next advances to the next line.  It returns false at the end of the
// stream or on error.
func (l *Listing) Next() bool {
	if l.done {
		return false
	}
	if l.scanner.Scan() {
		l.line = strings.TrimSuffix(l.scanner.Text(), "\r")
		n := int64(len(l.scanner.Bytes())) + 1
		l.result.Bytes += n
		if l.progress != nil {
			l.progress(n)
		}
		return true
	}
	l.done = true
	if err := l.scanner.Err(); err != nil {
		l.err = fmt.Errorf("LIST: %w: %w", ftperr.ErrIncompleteTransfer, err)
	}
	return false
}

// Line is the current line without its terminator.
func (l *Listing) Line() string { return l.line }

// Err is the stream error, if any, seen so far.
func (l *Listing) Err() error { return l.err }

// Result is available after Close.
func (l *Listing) Result() *Result { return l.result }

// Close ends the data stream and reads the completion reply.  Closing
// before the end of the listing aborts it; the server's negative
// completion is then not reported as an error.
func (l *Listing) Close() error {
	if l.closed {
		return l.err
	}
	l.closed = true
	early := !l.done
	l.done = true
	l.dc.Close()

	l.result.Phase = PhaseFinalizing
	final, err := l.control.finish(l.ctx)
	l.result.Final = final
	switch {
	case l.err != nil:
	case early:
	case err != nil:
		l.result.Warning = fmt.Errorf("LIST: completion reply was not received: %w", err)
	case final != nil && final.Code >= 400:
		l.err = ftperr.Reply(ftperr.ErrIncompleteTransfer, "LIST", final.Code, final.Message())
	}
	if l.err != nil {
		l.result.Phase = PhaseFailed
	} else {
		l.result.Phase = PhaseDone
	}
	return l.err
}
