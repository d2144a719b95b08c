// Package ftp implements the client side of the FTP control and data
// channels: reply decoding, a strictly serialized control channel,
// passive and active data-channel negotiation, and the transfers that
// run over them.
package ftp

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	ftperr "goftpc/internal/errors"
)

// maxReplyLines bounds a multi-line reply so a misbehaving server
// cannot grow one without limit.
const maxReplyLines = 1024

// Reply is one decoded control-channel response.
type Reply struct {
	Code int
	Text []string // message lines with the code prefix removed
}

// IsError reports a permanent negative completion (5xx).
func (r *Reply) IsError() bool { return r.Code >= 500 }

// IsTransient reports a transient negative completion (4xx).
func (r *Reply) IsTransient() bool { return r.Code >= 400 && r.Code < 500 }

// IsPreliminary reports a 1xx reply, after which another reply follows.
func (r *Reply) IsPreliminary() bool { return r.Code >= 100 && r.Code < 200 }

// Message joins the text lines.
func (r *Reply) Message() string { return strings.Join(r.Text, "\n") }

func (r *Reply) String() string {
	if len(r.Text) == 0 {
		return strconv.Itoa(r.Code)
	}
	return fmt.Sprintf("%d %s", r.Code, strings.Join(r.Text, " | "))
}

// ParseReply decodes a complete raw reply.  Bytes after the
// terminating line are ignored.
func ParseReply(raw []byte) (*Reply, error) {
	if len(raw) == 0 {
		return nil, ftperr.Malformed("empty reply")
	}
	var b replyBuilder
	for _, line := range strings.Split(string(raw), "\n") {
		done, err := b.feed(strings.TrimSuffix(line, "\r"))
		if err != nil {
			return nil, err
		}
		if done {
			return b.reply(), nil
		}
	}
	return nil, ftperr.Malformed("multi-line reply %03d is not terminated", b.code)
}

// readReply reads exactly one reply from r.  Errors from r are
// returned unchanged so the caller can wrap them as I/O failures;
// decoding problems are MalformedReply.
func readReply(r *bufio.Reader) (*Reply, error) {
	var b replyBuilder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		done, err := b.feed(strings.TrimRight(line, "\r\n"))
		if err != nil {
			return nil, err
		}
		if done {
			return b.reply(), nil
		}
	}
}

// replyBuilder accumulates lines until the reply is complete.
type replyBuilder struct {
	started bool
	code    int
	prefix  string
	text    []string
}

func (b *replyBuilder) feed(line string) (bool, error) {
	if !b.started {
		if line == "" {
			return false, ftperr.Malformed("empty reply")
		}
		code, sep, err := splitCode(line)
		if err != nil {
			return false, err
		}
		b.started = true
		b.code = code
		b.prefix = line[:3]
		b.text = append(b.text, rest(line))
		return sep != '-', nil
	}

	if len(b.text) >= maxReplyLines {
		return false, ftperr.Malformed("multi-line reply %03d exceeds %d lines", b.code, maxReplyLines)
	}
	if strings.HasPrefix(line, b.prefix) && (len(line) == 3 || line[3] == ' ') {
		b.text = append(b.text, rest(line))
		return true, nil
	}
	if strings.HasPrefix(line, b.prefix+"-") {
		line = line[4:]
	}
	b.text = append(b.text, line)
	return false, nil
}

func (b *replyBuilder) reply() *Reply {
	return &Reply{Code: b.code, Text: b.text}
}

// splitCode validates the leading "NNN" and the separator after it.
// A bare "NNN" line is a single-line reply with no text.
func splitCode(line string) (int, byte, error) {
	if len(line) < 3 {
		return 0, 0, ftperr.Malformed("reply %q is shorter than a status code", line)
	}
	for i := 0; i < 3; i++ {
		if line[i] < '0' || line[i] > '9' {
			return 0, 0, ftperr.Malformed("reply %q does not start with a three-digit code", line)
		}
	}
	code := int(line[0]-'0')*100 + int(line[1]-'0')*10 + int(line[2]-'0')
	if len(line) == 3 {
		return code, ' ', nil
	}
	if sep := line[3]; sep == ' ' || sep == '-' {
		return code, sep, nil
	}
	return 0, 0, ftperr.Malformed("reply %q has no separator after its code", line)
}

func rest(line string) string {
	if len(line) <= 4 {
		return ""
	}
	return line[4:]
}
