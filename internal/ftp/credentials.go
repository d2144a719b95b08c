package ftp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// CredentialSource supplies the password for a login.  Authenticate
// calls it once, after the USER reply.
type CredentialSource interface {
	Password(ctx context.Context, user string) (string, error)
}

// StaticPassword is a fixed password.
type StaticPassword string

func (p StaticPassword) Password(context.Context, string) (string, error) {
	return string(p), nil
}

// PromptCredentials asks for the password on the terminal the first
// time it is needed and hands the same answer to every later caller,
// so a batch of sessions prompts only once.
type PromptCredentials struct {
	In  *os.File  // default os.Stdin
	Out io.Writer // default os.Stderr

	once sync.Once
	pass string
	err  error
}

func (p *PromptCredentials) Password(_ context.Context, user string) (string, error) {
	p.once.Do(func() {
		in, out := p.In, p.Out
		if in == nil {
			in = os.Stdin
		}
		if out == nil {
			out = os.Stderr
		}

		fmt.Fprintf(out, "Password for %s: ", user)
		fd := int(in.Fd())
		if term.IsTerminal(fd) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(out)
			if err != nil {
				p.err = fmt.Errorf("reading password: %w", err)
				return
			}
			p.pass = string(b)
			return
		}

		// Not a terminal: take one line from the pipe.
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && line == "" {
			p.err = fmt.Errorf("reading password: %w", err)
			return
		}
		p.pass = strings.TrimRight(line, "\r\n")
	})
	return p.pass, p.err
}
