// Package errors provides the error taxonomy for goftpc.
//
// Every failure a transfer can end in maps onto one sentinel below.
// Structured types carry the context (operation, address, reply code)
// and match their sentinel through errors.Is, so callers never need
// to string-match messages.
package errors

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrIO                 = errors.New("i/o failure")
	ErrMalformedReply     = errors.New("malformed reply")
	ErrAuthFailed         = errors.New("authentication failed")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrNegotiationFailed  = errors.New("data channel negotiation failed")
	ErrTransferRejected   = errors.New("transfer rejected")
	ErrIncompleteTransfer = errors.New("incomplete transfer")
	ErrTimeout            = errors.New("operation timed out")
	ErrSessionClosed      = errors.New("session is closed")
	ErrReplyPending       = errors.New("a reply is still pending on the control channel")
	ErrCommandRejected    = errors.New("command rejected")
	ErrCancelled          = errors.New("operation cancelled")
	ErrCircuitOpen        = errors.New("circuit breaker is open")
	ErrHostKeyMismatch    = errors.New("host key mismatch")
)

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a network operation on the
// control or data connection.
type NetworkError struct {
	Op        string // operation: "dial", "listen", "accept", "write", "read"
	Addr      string // network address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is makes every NetworkError match ErrIO, and ErrTimeout when the
// cause was a deadline.
func (e *NetworkError) Is(target error) bool {
	switch target {
	case ErrIO:
		return true
	case ErrTimeout:
		return isTimeout(e.Err)
	}
	return false
}

// ReplyError is a well-formed server reply that the operation could
// not accept.  Kind is the taxonomy sentinel it belongs to.
type ReplyError struct {
	Op   string // command that produced the reply, e.g. "RETR report.txt"
	Code int
	Text string
	Kind error
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("%s: %s: %d %s", e.Op, e.Kind, e.Code, e.Text)
}

func (e *ReplyError) Unwrap() error { return e.Kind }

// IsTransient reports whether the server used a 4xx code, meaning the
// same request may succeed later.
func (e *ReplyError) IsTransient() bool { return e.Code >= 400 && e.Code < 500 }

// SSHError represents an SSH-specific failure with gateway context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey", "dial"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// Reply creates a ReplyError of the given kind.
func Reply(kind error, op string, code int, text string) *ReplyError {
	return &ReplyError{Op: op, Code: code, Text: text, Kind: kind}
}

// Malformed reports an undecodable control-channel reply.
func Malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedReply, fmt.Sprintf(format, args...))
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	var re *ReplyError
	if errors.As(err, &re) {
		return re.IsTransient()
	}
	return classifyRetryable(err)
}

// Classify names the taxonomy bucket err falls into.  Timeout wins
// over IoError because a timed-out read is both.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout), isTimeout(err):
		return "Timeout"
	case errors.Is(err, ErrMalformedReply):
		return "MalformedReply"
	case errors.Is(err, ErrAuthFailed):
		return "AuthenticationFailed"
	case errors.Is(err, ErrNotAuthenticated):
		return "NotAuthenticated"
	case errors.Is(err, ErrNegotiationFailed):
		return "DataChannelNegotiationFailed"
	case errors.Is(err, ErrTransferRejected):
		return "TransferRejected"
	case errors.Is(err, ErrIncompleteTransfer):
		return "IncompleteTransfer"
	case errors.Is(err, ErrCommandRejected):
		return "CommandRejected"
	case errors.Is(err, ErrCircuitOpen):
		return "CircuitOpen"
	case errors.Is(err, ErrCancelled):
		return "Cancelled"
	case errors.Is(err, ErrIO), errors.Is(err, ErrSessionClosed):
		return "IoError"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "IoError"
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return "LocalFileError"
	}
	return "Error"
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	if isTimeout(err) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		// Refused connections are worth another try once the server
		// frees a slot.
		return opErr.Op == "dial" || strings.Contains(opErr.Error(), "connection refused")
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use goftpc/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
