package ftp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	ftperr "goftpc/internal/errors"
)

func TestParseReply_SingleLine(t *testing.T) {
	r, err := ParseReply([]byte("226 Transfer complete\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if r.Code != 226 {
		t.Errorf("code = %d, want 226", r.Code)
	}
	if r.Message() != "Transfer complete" {
		t.Errorf("message = %q", r.Message())
	}
	if r.IsError() || r.IsTransient() || r.IsPreliminary() {
		t.Error("226 is a positive completion")
	}
}

func TestParseReply_MultiLine(t *testing.T) {
	raw := "220-Welcome\r\n Be nice\r\n220-Rules apply\r\n220 Ready\r\n"
	r, err := ParseReply([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Welcome", " Be nice", "Rules apply", "Ready"}
	if r.Code != 220 {
		t.Errorf("code = %d", r.Code)
	}
	if strings.Join(r.Text, "|") != strings.Join(want, "|") {
		t.Errorf("text = %q, want %q", r.Text, want)
	}
}

func TestParseReply_CodeProperty(t *testing.T) {
	bodies := [][]string{
		nil,
		{"hello"},
		{"line one", "  indented", "999 not the end", "230-looks like a code", ""},
	}
	for code := 100; code <= 599; code++ {
		for _, body := range bodies {
			raw := buildReply(code, body)
			r, err := ParseReply([]byte(raw))
			if err != nil {
				t.Fatalf("ParseReply(%q): %v", raw, err)
			}
			if r.Code != code {
				t.Fatalf("ParseReply(%q).Code = %d, want %d", raw, r.Code, code)
			}
		}
	}
}

func buildReply(code int, body []string) string {
	if body == nil {
		return fmt.Sprintf("%d Done\r\n", code)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d-Start\r\n", code)
	for _, l := range body {
		b.WriteString(l + "\r\n")
	}
	fmt.Fprintf(&b, "%d End\r\n", code)
	return b.String()
}

func TestParseReply_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"blank line", "\r\n"},
		{"two digits", "22\r\n"},
		{"two digits with text", "22 ok\r\n"},
		{"letter in code", "2x0 hi\r\n"},
		{"no digits", "abc def\r\n"},
		{"leading space", " 220 hi\r\n"},
		{"no separator", "220hello\r\n"},
		{"unterminated multi-line", "220-start\r\nmore\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseReply([]byte(tt.raw))
			if !errors.Is(err, ftperr.ErrMalformedReply) {
				t.Errorf("ParseReply(%q) error = %v, want MalformedReply", tt.raw, err)
			}
		})
	}
}

func TestParseReply_BareCode(t *testing.T) {
	r, err := ParseReply([]byte("200\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if r.Code != 200 {
		t.Errorf("code = %d", r.Code)
	}
}

func TestReply_Classes(t *testing.T) {
	tests := []struct {
		code                       int
		prelim, transient, isError bool
	}{
		{150, true, false, false},
		{226, false, false, false},
		{331, false, false, false},
		{421, false, true, false},
		{550, false, false, true},
	}
	for _, tt := range tests {
		r := &Reply{Code: tt.code}
		if r.IsPreliminary() != tt.prelim || r.IsTransient() != tt.transient || r.IsError() != tt.isError {
			t.Errorf("%d: prelim=%v transient=%v error=%v", tt.code, r.IsPreliminary(), r.IsTransient(), r.IsError())
		}
	}
}

func TestReadReply_Stream(t *testing.T) {
	in := "150 Opening\r\n226-Done\r\n226 Bye\r\n"
	r := bufio.NewReader(strings.NewReader(in))

	first, err := readReply(r)
	if err != nil || first.Code != 150 {
		t.Fatalf("first = %v, %v", first, err)
	}
	second, err := readReply(r)
	if err != nil || second.Code != 226 || len(second.Text) != 2 {
		t.Fatalf("second = %v, %v", second, err)
	}
	if _, err := readReply(r); !errors.Is(err, io.EOF) {
		t.Errorf("third read error = %v, want EOF", err)
	}
}

func TestReadReply_MalformedMidStream(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("hello there\r\n"))
	if _, err := readReply(r); !errors.Is(err, ftperr.ErrMalformedReply) {
		t.Errorf("error = %v, want MalformedReply", err)
	}
}
