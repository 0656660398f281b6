package smtptest

import (
	"crypto/tls"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/units"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Credentials accepted by an InProcessServer
const (
	TestUsername = "myuser"
	TestPassword = "mypassword"
)

// TLSMode decides how a test server offers TLS.
type TLSMode int

const (
	// The server starts in plaintext and advertises STARTTLS.
	StartTLS TLSMode = iota
	// The server only accepts TLS connections.
	ImplicitTLS
)

var (
	errAuthFailed = &smtp.SMTPError{
		Code:         535,
		EnhancedCode: smtp.EnhancedCode{5, 7, 8},
		Message:      "Authentication credentials invalid",
	}
	errAuthRequired = &smtp.SMTPError{
		Code:         530,
		EnhancedCode: smtp.EnhancedCode{5, 7, 0},
		Message:      "Authentication required",
	}
)

// Envelope is one message received by an InProcessServer, including the
// envelope addresses the client supplied.
type Envelope struct {
	Created time.Time
	From    string
	To      []string
	Body    string
}

// Backend implements smtp.Backend. It hands every connection a session
// that writes to the same InMemoryEmailStore.
type Backend struct {
	*InMemoryEmailStore
}

// NewSession implements smtp.Backend.
func (be *Backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{store: be.InMemoryEmailStore}, nil
}

// session implements smtp.Session and smtp.AuthSession. The only mechanism
// it offers is LOGIN, since that's what our client speaks.
type session struct {
	store  *InMemoryEmailStore
	authed bool
	from   string
	to     []string
}

func (s *session) AuthMechanisms() []string {
	return []string{sasl.Login}
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Login {
		return nil, &smtp.SMTPError{
			Code:         504,
			EnhancedCode: smtp.EnhancedCode{5, 7, 4},
			Message:      "Unsupported authentication mechanism",
		}
	}
	return sasl.NewLoginServer(func(username, password string) error {
		if username != TestUsername || password != TestPassword {
			return errAuthFailed
		}
		s.authed = true
		return nil
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if !s.authed {
		return errAuthRequired
	}
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

// Data stores the message in memory for retrieval at the end of the test.
func (s *session) Data(r io.Reader) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.store.save(Envelope{
		Created: time.Now(),
		From:    s.from,
		To:      append([]string(nil), s.to...),
		Body:    string(buf),
	})
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error { return nil }

// InMemoryEmailStore retains email bodies in memory for comparison against
// a test's expected output. Goroutine safe, since every connection gets its
// own session.
type InMemoryEmailStore struct {
	mu       *sync.Mutex
	messages []Envelope
}

func (es *InMemoryEmailStore) save(e Envelope) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.messages = append(es.messages, e)
}

// Envelopes returns every message received so far.
func (es *InMemoryEmailStore) Envelopes() []Envelope {
	es.mu.Lock()
	defer es.mu.Unlock()
	return append([]Envelope(nil), es.messages...)
}

// RetrieveEmails returns a slice of all message bodies (as strings)
// sent after epoch nanoseconds t
func (es *InMemoryEmailStore) RetrieveEmails(t int64) ([]string, error) {
	es.mu.Lock()
	defer es.mu.Unlock()
	r := make([]string, 0, len(es.messages))
	for _, m := range es.messages {
		if m.Created.UnixNano() >= t {
			r = append(r, m.Body)
		}
	}
	return r, nil
}

// InProcessServer is a real SMTP server that runs in the same process as
// the test suite, letting us inspect sent emails. You must initialize this
// via NewInProcessServer.
type InProcessServer struct {
	*smtp.Server
	*InMemoryEmailStore
	ln net.Listener
}

// NewInProcessServer creates an InProcessServer listening on a random
// local port. Must provide the paths to the key and cert used for TLS (see
// GenerateTLSFiles). AUTH LOGIN is required with TestUsername and
// TestPassword.
func NewInProcessServer(keypath string, certpath string, mode TLSMode) *InProcessServer {
	is := &InMemoryEmailStore{
		mu:       &sync.Mutex{},
		messages: []Envelope{},
	}

	srv := smtp.NewServer(&Backend{is})
	srv.Domain = "localhost"
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.MaxMessageBytes = int64(32 * units.MiB)
	srv.MaxRecipients = 50

	// No way to carry on without a cert or a port, so we panic. We're in a
	// test suite, so this should be fine.
	tc, err := ServerTLSConfig(keypath, certpath)
	if err != nil {
		panic(err)
	}
	srv.TLSConfig = tc

	ln, err := net.Listen("tcp", net.JoinHostPort(TLSHost, "0"))
	if err != nil {
		panic(err)
	}

	switch mode {
	case ImplicitTLS:
		ln = tls.NewListener(ln, tc)
	default:
		// The client has to upgrade with STARTTLS before it may
		// authenticate.
		srv.AllowInsecureAuth = false
	}

	return &InProcessServer{
		Server:             srv,
		InMemoryEmailStore: is,
		ln:                 ln,
	}
}

// Start starts the test server. Blocking.
func (is *InProcessServer) Start() error {
	err := is.Server.Serve(is.ln)
	if err != nil && strings.Contains(err.Error(), "closed") {
		return nil
	}
	return err
}

// Close shuts down the test server. You must initialize a new
// InProcessServer instead of restarting this one.
func (is *InProcessServer) Close() {
	is.Server.Close()
}

// Address returns the host:port of the test SMTP server.
func (is *InProcessServer) Address() string {
	return is.ln.Addr().String()
}
