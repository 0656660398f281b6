package smtpclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ptgott/one-mailer/email"
)

// State is where a Session is in the protocol.
type State int

const (
	Disconnected State = iota
	Connected
	TLSReady
	Authenticated
	// Mail, Rcpt, Data and Terminated make up the mail transaction.
	Mail
	Rcpt
	Data
	Terminated
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case TLSReady:
		return "tls-ready"
	case Authenticated:
		return "authenticated"
	case Mail:
		return "mail"
	case Rcpt:
		return "rcpt"
	case Data:
		return "data"
	case Terminated:
		return "terminated"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Protocol stages as they appear in logs and CommandErrors
const (
	stageConnect  = "connect"
	stageGreeting = "greeting"
	stageEHLO     = "ehlo"
	stageStartTLS = "starttls"
	stageAuth     = "auth"
	stageMail     = "mail"
	stageRcpt     = "rcpt"
	stageData     = "data"
	stageQuit     = "quit"
)

// Session sends one message over one connection. Create it with NewSession.
// A Session is single use: once Send has been called, later calls return
// ErrSessionUsed.
type Session struct {
	cfg    Config
	logger zerolog.Logger

	mu    sync.Mutex
	used  bool
	state State

	t *Transport
}

// NewSession validates cfg and applies its defaults. Events go to logger,
// which never sees credentials.
func NewSession(cfg Config, logger zerolog.Logger) (*Session, error) {
	c, err := cfg.CheckAndSetDefaults()
	if err != nil {
		return nil, err
	}
	return &Session{
		cfg:    c,
		logger: logger,
		state:  Disconnected,
	}, nil
}

// Send is the one-shot form of NewSession followed by Session.Send.
func Send(ctx context.Context, cfg Config, logger zerolog.Logger, m *email.Message) error {
	s, err := NewSession(cfg, logger)
	if err != nil {
		return err
	}
	return s.Send(ctx, m)
}

// State returns the protocol state the Session has reached.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Send delivers m to every To, Cc and Bcc recipient, or to none of them. It
// stamps m with a fresh boundary, Message-ID and Date first. The connection
// is closed before Send returns, whatever the outcome. Cancelling ctx aborts
// the send by closing the connection.
//
// A returned error matches one of ErrConnection, ErrProtocol,
// ErrAuthentication, ErrMessage, ErrNoRecipients or ErrSessionUsed.
func (s *Session) Send(ctx context.Context, m *email.Message) (err error) {
	s.mu.Lock()
	if s.used {
		s.mu.Unlock()
		return ErrSessionUsed
	}
	s.used = true
	s.mu.Unlock()

	rcpts := m.EnvelopeRecipients()
	if len(rcpts) == 0 {
		return ErrNoRecipients
	}

	if err := m.Stamp(time.Now()); err != nil {
		return fmt.Errorf("%w: %v", ErrMessage, err)
	}

	stage := stageConnect
	defer func() {
		if s.t != nil {
			if cerr := s.t.Close(); cerr != nil {
				s.logger.Debug().Str("event", "close").Err(cerr).Msg("error closing the connection")
			}
		}
		s.setState(Closed)
		s.logger.Debug().Str("event", "close").Msg("connection closed")

		if err != nil {
			if ctx.Err() != nil {
				err = fmt.Errorf("%w: %w", ctx.Err(), err)
			}
			s.logger.Error().
				Str("event", "send-failed").
				Str("stage", stage).
				Err(err).
				Msg("send failed")
		}
	}()

	s.logger.Info().
		Str("event", "connect").
		Str("address", s.cfg.address()).
		Str("encryption", s.cfg.Encryption.String()).
		Msg("connecting to the SMTP server")

	t, err := Dial(ctx, s.cfg)
	if err != nil {
		return &CommandError{Kind: ErrConnection, Stage: stage, Err: err}
	}
	s.t = t
	stop := context.AfterFunc(ctx, func() { t.Close() })
	defer stop()

	stage = stageGreeting
	if _, err := s.expect(stage, "", ""); err != nil {
		return err
	}
	s.setState(Connected)
	s.logger.Info().Str("event", "connected").Bool("tls", t.IsTLS()).Msg("connected")

	stage = stageEHLO
	if _, err := s.expect(stage, "EHLO "+s.cfg.HeloName, ""); err != nil {
		return err
	}

	if s.cfg.Encryption == EncryptionStartTLS {
		stage = stageStartTLS
		if _, err := s.expect(stage, "STARTTLS", ""); err != nil {
			return err
		}
		if err := t.StartTLS(ctx, s.cfg.tlsConfig()); err != nil {
			return &CommandError{Kind: ErrConnection, Stage: stage, Command: "STARTTLS", Err: err}
		}
		s.logger.Info().Str("event", "tls-upgrade").Msg("upgraded the connection to TLS")

		// RFC 3207 section 4.2: the client must discard what it learned
		// before the upgrade and say EHLO again.
		stage = stageEHLO
		if _, err := s.expect(stage, "EHLO "+s.cfg.HeloName, ""); err != nil {
			return err
		}
	}
	if t.IsTLS() {
		s.setState(TLSReady)
	}

	if s.cfg.AuthRequired {
		stage = stageAuth
		if err := s.authLogin(); err != nil {
			return err
		}
		s.setState(Authenticated)
		s.logger.Info().Str("event", "auth").Msg("authenticated")
	}

	stage = stageMail
	s.setState(Mail)
	if _, err := s.expect(stage, "MAIL FROM:<"+m.From+">", ""); err != nil {
		return err
	}

	stage = stageRcpt
	s.setState(Rcpt)
	for _, r := range rcpts {
		// The first rejection ends the send. Nobody gets a copy unless
		// everybody does.
		if _, err := s.expect(stage, "RCPT TO:<"+r+">", ""); err != nil {
			return err
		}
	}

	stage = stageData
	s.setState(Data)
	if _, err := s.expect(stage, "DATA", ""); err != nil {
		return err
	}
	if err := t.WriteData(m); err != nil {
		ce := &CommandError{Kind: ErrConnection, Stage: stage, Command: "<message>", Err: err}
		if errors.Is(err, ErrMessage) {
			ce.Kind = ErrMessage
		}
		return ce
	}
	r, err := s.reply(stage, "<message>")
	if err != nil {
		return err
	}
	if !r.Classify().OK() {
		return &CommandError{Kind: ErrProtocol, Stage: stage, Command: "<message>", Reply: r.String()}
	}
	s.setState(Terminated)
	s.logger.Info().
		Str("event", "data").
		Str("message_id", m.MessageID()).
		Int("code", r.Code).
		Str("reply", r.String()).
		Msg("the server accepted the message")

	// The message is already queued, so a failed QUIT doesn't fail the send.
	if _, qerr := s.expect(stageQuit, "QUIT", ""); qerr != nil {
		s.logger.Warn().Str("event", "command").Str("stage", stageQuit).Err(qerr).Msg("QUIT failed")
	}

	s.logger.Info().
		Str("event", "send-complete").
		Str("message_id", m.MessageID()).
		Int("recipients", len(rcpts)).
		Int("attachments", len(m.Attachments)).
		Msg("message sent")
	return nil
}

// authLogin runs the AUTH LOGIN exchange. The username and password only
// ever appear on the wire.
func (s *Session) authLogin() error {
	steps := []struct {
		line   string
		logged string
		want   int
	}{
		{"AUTH LOGIN", "AUTH LOGIN", 334},
		{base64.StdEncoding.EncodeToString([]byte(s.cfg.Username)), redacted, 334},
		{base64.StdEncoding.EncodeToString([]byte(s.cfg.Password)), redacted, 235},
	}
	for _, st := range steps {
		r, err := s.command(stageAuth, st.line, st.logged)
		if err != nil {
			return err
		}
		if c := r.Classify(); c.Code != st.want || !c.OK() {
			return &CommandError{
				Kind:    ErrAuthentication,
				Stage:   stageAuth,
				Command: st.logged,
				Reply:   r.String(),
			}
		}
	}
	return nil
}

// expect sends line (or nothing, if line is empty, to read the greeting)
// and requires a reply that isn't a rejection. logged replaces line in logs
// and errors when it's not empty.
func (s *Session) expect(stage, line, logged string) (Reply, error) {
	if logged == "" {
		logged = line
	}

	var r Reply
	var err error
	if line == "" {
		r, err = s.reply(stage, logged)
	} else {
		r, err = s.command(stage, line, logged)
	}
	if err != nil {
		return r, err
	}

	if !r.Classify().OK() {
		return r, &CommandError{
			Kind:    ErrProtocol,
			Stage:   stage,
			Command: logged,
			Reply:   r.String(),
		}
	}
	return r, nil
}

func (s *Session) command(stage, line, logged string) (Reply, error) {
	s.logger.Debug().
		Str("event", "command").
		Str("stage", stage).
		Str("command", logged).
		Msg("sending command")

	if err := s.t.WriteLine(line); err != nil {
		return Reply{}, &CommandError{Kind: ErrConnection, Stage: stage, Command: logged, Err: err}
	}
	return s.reply(stage, logged)
}

func (s *Session) reply(stage, logged string) (Reply, error) {
	r, err := s.t.ReadReply()
	if err != nil {
		return Reply{}, &CommandError{Kind: ErrConnection, Stage: stage, Command: logged, Err: err}
	}
	s.logger.Debug().
		Str("event", "reply").
		Str("stage", stage).
		Int("code", r.Code).
		Str("reply", r.String()).
		Msg("received reply")
	return r, nil
}
