package util

import (
	"errors"
	"io"
	"net"
)

// DefaultBufSize is the standard buffer size for data-channel I/O (32 KiB).
const DefaultBufSize = 32 * 1024

// Copy moves bytes from src to dst until src reports end-of-stream,
// using a pooled buffer.  No translation of any kind is applied.
func Copy(dst io.Writer, src io.Reader) (int64, error) {
	buf := GetBuf()
	defer PutBuf(buf)
	return io.CopyBuffer(onlyWriter{dst}, onlyReader{src}, *buf)
}

// onlyWriter and onlyReader hide ReaderFrom/WriterTo so CopyBuffer
// actually uses the pooled buffer and byte counts stay observable
// through wrappers.
type onlyWriter struct{ io.Writer }

type onlyReader struct{ io.Reader }

// CountingWriter counts bytes written through it and reports each
// chunk to OnWrite.
type CountingWriter struct {
	W       io.Writer
	OnWrite func(n int64)
	N       int64
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.W.Write(p)
	c.N += int64(n)
	if c.OnWrite != nil && n > 0 {
		c.OnWrite(int64(n))
	}
	return n, err
}

// IsClosedConn returns true for errors that are expected when a peer
// or a local Close ends a connection.
func IsClosedConn(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
