package smtptest

import (
	"bufio"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// Pseudo-verbs a ScriptedServer uses for lines that aren't commands
const (
	VerbGreeting     = "GREETING"
	VerbAuthUsername = "AUTH-USERNAME"
	VerbAuthPassword = "AUTH-PASSWORD"
	VerbPayload      = "PAYLOAD"
)

// Command is one line (or, for VerbPayload, one message) received by a
// ScriptedServer.
type Command struct {
	// Upper-cased first word, e.g., "EHLO" or "RCPT", or one of the
	// pseudo-verbs above
	Verb string
	// The raw line without CRLF. For VerbPayload, the message with dot
	// stuffing removed and without the end-of-data marker.
	Line string
	// 1-based count of commands with this Verb so far
	Seq int
}

// Responder returns the reply to c. Multi-line replies are separated by
// CRLF.
type Responder func(c Command) string

// DefaultResponder accepts everything a well-behaved client sends during a
// STARTTLS, AUTH LOGIN send.
func DefaultResponder(c Command) string {
	switch c.Verb {
	case VerbGreeting:
		return "220 localhost ESMTP scripted"
	case "EHLO":
		return "250-localhost greets you\r\n250-8BITMIME\r\n250-AUTH LOGIN\r\n250 STARTTLS"
	case "STARTTLS":
		return "220 2.0.0 Ready to start TLS"
	case "AUTH":
		return "334 VXNlcm5hbWU6"
	case VerbAuthUsername:
		return "334 UGFzc3dvcmQ6"
	case VerbAuthPassword:
		return "235 2.7.0 Authentication successful"
	case "MAIL", "RCPT":
		return "250 2.1.0 OK"
	case "DATA":
		return "354 Start mail input; end with <CRLF>.<CRLF>"
	case VerbPayload:
		return "250 2.0.0 OK queued"
	case "QUIT":
		return "221 2.0.0 Bye"
	}
	return "500 5.5.2 Command not recognized"
}

// Override returns a Responder that answers the Seq'th occurrence of verb
// with reply and defers to DefaultResponder otherwise.
func Override(verb string, seq int, reply string) Responder {
	return func(c Command) string {
		if c.Verb == verb && c.Seq == seq {
			return reply
		}
		return DefaultResponder(c)
	}
}

// ScriptedServer is a bare-bones SMTP peer for exercising a client's
// handling of specific replies. It serves a single connection, records every
// line it receives, and replies according to its Responder. Unlike
// InProcessServer it doesn't enforce any protocol rules, so a test can
// script replies a real server would never send.
type ScriptedServer struct {
	ln        net.Listener
	tlsConfig *tls.Config
	implicit  bool
	respond   Responder

	mu           sync.Mutex
	commands     []Command
	counts       map[string]int
	payloads     []string
	created      []time.Time
	clientClosed bool
	done         chan struct{}
}

// NewScriptedServer listens on a random local port. tlsConfig may be nil if
// the test never upgrades. A nil Responder means DefaultResponder.
func NewScriptedServer(tlsConfig *tls.Config, mode TLSMode, r Responder) (*ScriptedServer, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(TLSHost, "0"))
	if err != nil {
		return nil, err
	}
	if r == nil {
		r = DefaultResponder
	}
	if mode == ImplicitTLS && tlsConfig == nil {
		ln.Close()
		return nil, errors.New("implicit TLS needs a TLS config")
	}
	return &ScriptedServer{
		ln:        ln,
		tlsConfig: tlsConfig,
		implicit:  mode == ImplicitTLS,
		respond:   r,
		counts:    map[string]int{},
		done:      make(chan struct{}),
	}, nil
}

// Start accepts one connection and serves it until the client hangs up.
// Blocking.
func (s *ScriptedServer) Start() error {
	defer close(s.done)

	conn, err := s.ln.Accept()
	if err != nil {
		return err
	}
	defer conn.Close()

	if s.implicit {
		tc := tls.Server(conn, s.tlsConfig)
		if err := tc.Handshake(); err != nil {
			return err
		}
		conn = tc
	}

	return s.serve(conn)
}

func (s *ScriptedServer) serve(conn net.Conn) error {
	br := bufio.NewReader(conn)
	reply := func(r string) error {
		_, err := io.WriteString(conn, r+"\r\n")
		return err
	}

	if err := reply(s.respond(s.record(VerbGreeting, ""))); err != nil {
		return err
	}

	// 0: not authenticating, 1: expecting the username, 2: the password
	authStep := 0

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			// Anything short of a full line means the client is gone.
			s.mu.Lock()
			s.clientClosed = true
			s.mu.Unlock()
			return nil
		}
		line = strings.TrimRight(line, "\r\n")

		var verb string
		switch authStep {
		case 1:
			verb = VerbAuthUsername
		case 2:
			verb = VerbAuthPassword
		default:
			verb = strings.ToUpper(strings.SplitN(line, " ", 2)[0])
			if i := strings.Index(verb, ":"); i >= 0 {
				verb = verb[:i]
			}
		}

		c := s.record(verb, line)
		r := s.respond(c)
		if err := reply(r); err != nil {
			return err
		}

		authStep = 0
		switch {
		case verb == "STARTTLS" && strings.HasPrefix(r, "2"):
			tc := tls.Server(conn, s.tlsConfig)
			if err := tc.Handshake(); err != nil {
				return err
			}
			conn = tc
			br = bufio.NewReader(conn)
		case verb == "AUTH" && strings.HasPrefix(r, "334"):
			authStep = 1
		case verb == VerbAuthUsername && strings.HasPrefix(r, "334"):
			authStep = 2
		case verb == "DATA" && strings.HasPrefix(r, "3"):
			p, err := readPayload(br)
			if err != nil {
				s.mu.Lock()
				s.clientClosed = true
				s.mu.Unlock()
				return nil
			}
			c := s.record(VerbPayload, p)
			s.mu.Lock()
			s.payloads = append(s.payloads, p)
			s.created = append(s.created, time.Now())
			s.mu.Unlock()
			if err := reply(s.respond(c)); err != nil {
				return err
			}
		}
	}
}

// readPayload reads DATA lines up to the lone "." and undoes dot stuffing.
func readPayload(br *bufio.Reader) (string, error) {
	var lines []string
	for {
		l, err := br.ReadString('\n')
		if err != nil {
			return "", err
		}
		l = strings.TrimSuffix(l, "\r\n")
		if l == "." {
			return strings.Join(lines, "\r\n"), nil
		}
		if strings.HasPrefix(l, "..") {
			l = l[1:]
		}
		lines = append(lines, l)
	}
}

func (s *ScriptedServer) record(verb, line string) Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[verb]++
	c := Command{Verb: verb, Line: line, Seq: s.counts[verb]}
	s.commands = append(s.commands, c)
	return c
}

// Commands returns everything received so far, in order.
func (s *ScriptedServer) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.commands...)
}

// Verbs returns the Verb of every command received so far, in order.
func (s *ScriptedServer) Verbs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]string, len(s.commands))
	for i, c := range s.commands {
		v[i] = c.Verb
	}
	return v
}

// WaitClientClosed waits up to d for the connection to end and reports
// whether it ended because the client closed it.
func (s *ScriptedServer) WaitClientClosed(d time.Duration) bool {
	select {
	case <-s.done:
	case <-time.After(d):
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientClosed
}

// RetrieveEmails returns the payloads received after epoch nanoseconds t.
func (s *ScriptedServer) RetrieveEmails(t int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := make([]string, 0, len(s.payloads))
	for i, p := range s.payloads {
		if s.created[i].UnixNano() >= t {
			r = append(r, p)
		}
	}
	return r, nil
}

// Close stops accepting connections.
func (s *ScriptedServer) Close() {
	s.ln.Close()
}

// Address returns the host:port of the server.
func (s *ScriptedServer) Address() string {
	return s.ln.Addr().String()
}
