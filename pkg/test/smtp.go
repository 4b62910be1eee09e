package test

import (
	"bufio"
	"crypto/tls"
	"net"
	"strings"
	"sync"
	"testing"
)

// DefaultReplies are sent by SMTPStub for verbs missing from SMTPStub.Replies.
var DefaultReplies = map[string]string{
	"EHLO":      "250-stub.local greets you\r\n250-8BITMIME\r\n250 AUTH LOGIN",
	"HELO":      "250 stub.local",
	"STARTTLS":  "220 2.0.0 Ready to start TLS",
	"AUTH":      "334 VXNlcm5hbWU6",
	"AUTH-USER": "334 UGFzc3dvcmQ6",
	"AUTH-PASS": "235 2.7.0 Authentication successful",
	"MAIL":      "250 2.1.0 OK",
	"RCPT":      "250 2.1.5 OK",
	"DATA":      "354 Start mail input; end with <CRLF>.<CRLF>",
	".":         "250 2.0.0 Queued",
	"RSET":      "250 2.0.0 OK",
	"NOOP":      "250 2.0.0 OK",
	"QUIT":      "221 2.0.0 Bye",
}

// SMTPStub is a scripted SMTP server.  Each command is answered with the reply configured for
// its verb, and every line received is recorded.  Configure the exported fields before Start.
type SMTPStub struct {
	// Greeting is sent on connect, defaults to a 220.
	Greeting string

	// Replies overrides DefaultReplies by verb.  Multi-line replies are separated by CRLF.  An
	// empty reply means the stub stays silent.  The lines following AUTH LOGIN use the verbs
	// AUTH-USER and AUTH-PASS, the end of DATA uses ".".
	Replies map[string]string

	// TLSConfig enables STARTTLS, or a handshake before the greeting when ImplicitTLS is set.
	TLSConfig   *tls.Config
	ImplicitTLS bool

	t        *testing.T
	listener net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	conns    []net.Conn
	commands []string
	data     [][]byte
}

// NewSMTPStub creates an unstarted stub that is shut down when the test ends.
func NewSMTPStub(t *testing.T) *SMTPStub {
	t.Helper()
	return &SMTPStub{
		Greeting: "220 stub.local ESMTP ready",
		Replies:  make(map[string]string),
		t:        t,
	}
}

// Start listens on a random loopback port and returns its address.
func (s *SMTPStub) Start() (host string, port int) {
	s.t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		s.t.Fatal(err)
	}
	s.listener = l
	s.t.Cleanup(s.stop)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns = append(s.conns, conn)
			s.mu.Unlock()
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.serve(conn)
			}()
		}
	}()

	addr := l.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// Commands returns every line received outside of message data, in order.
func (s *SMTPStub) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Verbs returns the verb of each received command.
func (s *SMTPStub) Verbs() []string {
	cmds := s.Commands()
	verbs := make([]string, len(cmds))
	for i, c := range cmds {
		verbs[i] = verbOf(c)
	}
	return verbs
}

// Data returns the raw, still dot-stuffed, message data of each completed DATA command.  Each
// entry ends with CRLF and excludes the terminating period line.
func (s *SMTPStub) Data() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.data...)
}

func (s *SMTPStub) stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Lock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *SMTPStub) serve(conn net.Conn) {
	defer conn.Close()
	if s.ImplicitTLS && s.TLSConfig != nil {
		tconn := tls.Server(conn, s.TLSConfig)
		if err := tconn.Handshake(); err != nil {
			return
		}
		conn = tconn
	}
	r := bufio.NewReader(conn)
	if !s.send(conn, s.Greeting) {
		return
	}

	// readReply records the next line under verb and answers it.
	readReply := func(verb string) (string, bool) {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", false
		}
		s.record(strings.TrimRight(line, "\r\n"))
		reply := s.reply(verb)
		return reply, s.send(conn, reply)
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		s.record(line)
		verb := verbOf(line)
		reply := s.reply(verb)
		if !s.send(conn, reply) {
			return
		}

		switch verb {
		case "AUTH":
			if !strings.HasPrefix(reply, "334") {
				continue
			}
			if reply, ok := readReply("AUTH-USER"); !ok || !strings.HasPrefix(reply, "334") {
				continue
			}
			if _, ok := readReply("AUTH-PASS"); !ok {
				return
			}
		case "DATA":
			if !strings.HasPrefix(reply, "354") {
				continue
			}
			if !s.readData(r) {
				return
			}
			s.record(".")
			if !s.send(conn, s.reply(".")) {
				return
			}
		case "STARTTLS":
			if !strings.HasPrefix(reply, "220") || s.TLSConfig == nil {
				continue
			}
			tconn := tls.Server(conn, s.TLSConfig)
			if err := tconn.Handshake(); err != nil {
				return
			}
			conn = tconn
			r = bufio.NewReader(conn)
		case "QUIT":
			return
		}
	}
}

// readData collects message lines up to the lone period.
func (s *SMTPStub) readData(r *bufio.Reader) bool {
	var b []byte
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return false
		}
		if line == ".\r\n" {
			break
		}
		b = append(b, line...)
	}
	s.mu.Lock()
	s.data = append(s.data, b)
	s.mu.Unlock()
	return true
}

func (s *SMTPStub) record(line string) {
	s.mu.Lock()
	s.commands = append(s.commands, line)
	s.mu.Unlock()
}

func (s *SMTPStub) reply(verb string) string {
	if r, ok := s.Replies[verb]; ok {
		return r
	}
	if r, ok := DefaultReplies[verb]; ok {
		return r
	}
	return "502 5.5.2 Command not recognized"
}

// send writes reply followed by CRLF, an empty reply sends nothing.
func (s *SMTPStub) send(conn net.Conn, reply string) bool {
	if reply == "" {
		return true
	}
	_, err := conn.Write([]byte(reply + "\r\n"))
	return err == nil
}

// verbOf returns the upper cased first word of a command line.
func verbOf(line string) string {
	verb, _, _ := strings.Cut(line, " ")
	return strings.ToUpper(verb)
}
