// Package ftptest runs a small scripted FTP server on loopback for
// tests.  It speaks the subset of the protocol the client uses and
// records every command per connection.
package ftptest

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Server is configured through its exported fields before Start.
type Server struct {
	User     string   // default "user"
	Password string   // default "secret"
	Greeting []string // raw greeting lines; default a single 220

	// PASVHost is the address advertised in PASV replies (default the
	// listener's own address).  PASVReply, if set, is sent verbatim and
	// no data listener is opened.
	PASVHost  string
	PASVReply string

	// Reject maps a file name to the code RETR/STOR of it is refused with.
	Reject map[string]int
	// Final maps a file name to the completion line sent after its data.
	// "-" drops the control connection instead of replying.
	Final map[string]string
	// Latency delays each data transfer; Stall adds a per-file delay.
	Latency time.Duration
	Stall   map[string]time.Duration

	Addr string

	ln       net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	files    map[string][]byte
	dirs     map[string]bool
	sessions [][]string
	conns    map[net.Conn]struct{}
	active   int
	peak     int
}

// New returns an unstarted server with defaults filled in.
func New() *Server {
	return &Server{
		User:     "user",
		Password: "secret",
		Greeting: []string{"220 goftpc test server ready"},
		Reject:   map[string]int{},
		Final:    map[string]string{},
		Stall:    map[string]time.Duration{},
		files:    map[string][]byte{},
		dirs:     map[string]bool{"/": true},
		conns:    map[net.Conn]struct{}{},
	}
}

// Start listens on 127.0.0.1 and stops the server when t ends.
func (s *Server) Start(t testing.TB) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ftptest: listen: %v", err)
	}
	s.ln = ln
	s.Addr = ln.Addr().String()
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Close stops accepting, drops open connections and waits for the
// handlers to finish.
func (s *Server) Close() {
	s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Host and Port split Addr.
func (s *Server) Host() string {
	h, _, _ := net.SplitHostPort(s.Addr)
	return h
}

func (s *Server) Port() int {
	_, p, _ := net.SplitHostPort(s.Addr)
	n, _ := strconv.Atoi(p)
	return n
}

// Put stores a file; relative names live under "/".
func (s *Server) Put(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := path.Join("/", name)
	s.files[p] = append([]byte(nil), data...)
	for d := path.Dir(p); !s.dirs[d]; d = path.Dir(d) {
		s.dirs[d] = true
	}
}

// File returns a stored file.
func (s *Server) File(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[path.Join("/", name)]
	return b, ok
}

// HasDir reports whether a directory exists.
func (s *Server) HasDir(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirs[path.Join("/", name)]
}

// Sessions returns the commands received on each connection, in
// connection order.  PASS arguments are recorded verbatim.
func (s *Server) Sessions() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.sessions))
	for i, cmds := range s.sessions {
		out[i] = append([]string(nil), cmds...)
	}
	return out
}

// Peak is the highest number of simultaneously open connections.
func (s *Server) Peak() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.active++
		if s.active > s.peak {
			s.peak = s.active
		}
		id := len(s.sessions)
		s.sessions = append(s.sessions, nil)
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(conn, id)
			s.mu.Lock()
			delete(s.conns, conn)
			s.active--
			s.mu.Unlock()
		}()
	}
}

// ── Per-connection protocol ──────────────────────────────────────────

type conn struct {
	srv    *Server
	c      net.Conn
	r      *bufio.Reader
	cwd    string
	user   string
	authed bool
	pasv   net.Listener
	port   string
}

func (s *Server) serve(nc net.Conn, id int) {
	defer nc.Close()
	c := &conn{srv: s, c: nc, r: bufio.NewReader(nc), cwd: "/"}
	defer c.closeData()
	for _, g := range s.Greeting {
		c.raw(g)
	}
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		s.mu.Lock()
		s.sessions[id] = append(s.sessions[id], line)
		s.mu.Unlock()
		if !c.handle(line) {
			return
		}
	}
}

func (c *conn) raw(line string) { fmt.Fprintf(c.c, "%s\r\n", line) }

func (c *conn) reply(code int, format string, args ...interface{}) {
	c.raw(fmt.Sprintf("%d %s", code, fmt.Sprintf(format, args...)))
}

func (c *conn) abs(name string) string {
	if name == "" {
		return c.cwd
	}
	return path.Join(c.cwd, name)
}

// handle runs one command; false ends the connection.
func (c *conn) handle(line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	cmd = strings.ToUpper(cmd)
	s := c.srv

	switch cmd {
	case "USER":
		c.user, c.authed = arg, false
		c.reply(331, "Password required for %s", arg)
		return true
	case "PASS":
		if c.user == s.User && arg == s.Password {
			c.authed = true
			c.reply(230, "User %s logged in", c.user)
		} else {
			c.reply(530, "Login incorrect")
		}
		return true
	case "QUIT":
		c.reply(221, "Goodbye")
		return false
	case "NOOP":
		c.reply(200, "OK")
		return true
	}
	if !c.authed {
		c.reply(530, "Please login with USER and PASS")
		return true
	}

	switch cmd {
	case "TYPE":
		c.reply(200, "Type set to %s", arg)
	case "SYST":
		c.reply(215, "UNIX Type: L8")
	case "PWD":
		c.reply(257, "%q is the current directory", c.cwd)
	case "CWD":
		p := c.abs(arg)
		if !s.HasDir(p) {
			c.reply(550, "%s: No such directory", arg)
			break
		}
		c.cwd = p
		c.reply(250, "Directory changed to %s", p)
	case "MKD":
		p := c.abs(arg)
		s.mu.Lock()
		s.dirs[p] = true
		s.mu.Unlock()
		c.reply(257, "%q created", p)
	case "DELE":
		p := c.abs(arg)
		s.mu.Lock()
		_, ok := s.files[p]
		delete(s.files, p)
		s.mu.Unlock()
		if !ok {
			c.reply(550, "%s: No such file", arg)
			break
		}
		c.reply(250, "Deleted %s", arg)
	case "PASV":
		c.passive()
	case "PORT":
		c.active(arg)
	case "RETR":
		return c.retrieve(arg)
	case "STOR":
		return c.store(arg)
	case "LIST":
		c.list(arg)
	default:
		c.reply(502, "%s not implemented", cmd)
	}
	return true
}

func (c *conn) passive() {
	c.closeData()
	if c.srv.PASVReply != "" {
		c.raw(c.srv.PASVReply)
		return
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		c.reply(425, "Cannot open data connection")
		return
	}
	c.pasv = ln
	host := c.srv.PASVHost
	if host == "" {
		host = "127.0.0.1"
	}
	port := ln.Addr().(*net.TCPAddr).Port
	c.reply(227, "Entering Passive Mode (%s,%d,%d).", strings.ReplaceAll(host, ".", ","), port>>8, port&0xff)
}

func (c *conn) active(arg string) {
	c.closeData()
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		c.reply(501, "Bad PORT argument")
		return
	}
	var n [6]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 0 || v > 255 {
			c.reply(501, "Bad PORT argument")
			return
		}
		n[i] = v
	}
	c.port = fmt.Sprintf("%d.%d.%d.%d:%d", n[0], n[1], n[2], n[3], n[4]*256+n[5])
	c.reply(200, "PORT command successful")
}

func (c *conn) dataConn() (net.Conn, error) {
	defer c.closeData()
	switch {
	case c.pasv != nil:
		if tl, ok := c.pasv.(*net.TCPListener); ok {
			_ = tl.SetDeadline(time.Now().Add(5 * time.Second))
		}
		return c.pasv.Accept()
	case c.port != "":
		return net.DialTimeout("tcp", c.port, 5*time.Second)
	}
	return nil, fmt.Errorf("no data connection negotiated")
}

func (c *conn) closeData() {
	if c.pasv != nil {
		c.pasv.Close()
		c.pasv = nil
	}
	c.port = ""
}

// finish sends the completion line for name; false drops the control
// connection.
func (c *conn) finish(name string) bool {
	final, ok := c.srv.Final[name]
	switch {
	case !ok:
		c.reply(226, "Transfer complete")
	case final == "-":
		return false
	default:
		c.raw(final)
	}
	return true
}

func (c *conn) retrieve(name string) bool {
	if code, ok := c.srv.Reject[name]; ok {
		c.closeData()
		c.reply(code, "%s: Transfer refused", name)
		return true
	}
	data, ok := c.srv.File(c.abs(name))
	if !ok {
		c.closeData()
		c.reply(550, "%s: No such file or directory", name)
		return true
	}
	c.reply(150, "Opening BINARY mode data connection for %s (%d bytes)", name, len(data))
	dc, err := c.dataConn()
	if err != nil {
		c.reply(425, "Cannot open data connection")
		return true
	}
	if d := c.srv.Latency + c.srv.Stall[name]; d > 0 {
		time.Sleep(d)
	}
	_, err = dc.Write(data)
	dc.Close()
	if err != nil {
		c.reply(426, "Connection closed; transfer aborted")
		return true
	}
	return c.finish(name)
}

func (c *conn) store(name string) bool {
	if code, ok := c.srv.Reject[name]; ok {
		c.closeData()
		c.reply(code, "%s: Transfer refused", name)
		return true
	}
	c.reply(150, "Ok to send data")
	dc, err := c.dataConn()
	if err != nil {
		c.reply(425, "Cannot open data connection")
		return true
	}
	if c.srv.Latency > 0 {
		time.Sleep(c.srv.Latency)
	}
	data, err := io.ReadAll(dc)
	dc.Close()
	if err != nil {
		c.reply(426, "Connection closed; transfer aborted")
		return true
	}
	c.srv.Put(c.abs(name), data)
	return c.finish(name)
}

func (c *conn) list(arg string) {
	dir := c.abs(arg)
	s := c.srv
	s.mu.Lock()
	var names []string
	sizes := map[string]int{}
	for p, b := range s.files {
		if path.Dir(p) == dir {
			names = append(names, path.Base(p))
			sizes[path.Base(p)] = len(b)
		}
	}
	s.mu.Unlock()
	sort.Strings(names)

	c.reply(150, "Here comes the directory listing")
	dc, err := c.dataConn()
	if err != nil {
		c.reply(425, "Cannot open data connection")
		return
	}
	for _, n := range names {
		fmt.Fprintf(dc, "-rw-r--r--   1 ftp  ftp  %8d Jan 01 00:00 %s\r\n", sizes[n], n)
	}
	dc.Close()
	c.reply(226, "Directory send OK")
}
