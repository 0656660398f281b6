package smtpclient

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection means we couldn't reach the server, or the connection
	// failed partway through (I/O error, timeout, TLS handshake).
	ErrConnection = errors.New("connection error")
	// ErrProtocol means the server rejected a command or sent something we
	// couldn't parse as a reply.
	ErrProtocol = errors.New("protocol error")
	// ErrAuthentication means the AUTH LOGIN exchange didn't end in 235.
	ErrAuthentication = errors.New("authentication error")
	// ErrMessage means we couldn't produce the DATA payload, e.g., an
	// attachment vanished after it was admitted.
	ErrMessage = errors.New("can't render the message")
	// ErrNoRecipients means the message has no To, Cc or Bcc recipients.
	ErrNoRecipients = errors.New("the message has no recipients")
	// ErrSessionUsed means Send was called twice on the same Session.
	ErrSessionUsed = errors.New("the session has already been used")
)

// redacted stands in for credentials in logs and errors.
const redacted = "[redacted]"

// CommandError describes the command a send failed on. Kind is one of the
// sentinels above, so errors.Is(err, ErrProtocol) and friends work on it.
type CommandError struct {
	Kind error
	// Protocol stage, e.g., "ehlo" or "rcpt"
	Stage string
	// The command as sent, with credentials replaced by "[redacted]"
	Command string
	// The server's raw reply, if we got one
	Reply string
	// The underlying I/O or rendering error, if any
	Err error
}

func (e *CommandError) Error() string {
	s := fmt.Sprintf("%v at the %v stage", e.Kind, e.Stage)
	if e.Command != "" {
		s += fmt.Sprintf(" (command %q)", e.Command)
	}
	if e.Reply != "" {
		s += fmt.Sprintf(": the server replied %q", e.Reply)
	}
	if e.Err != nil {
		s += fmt.Sprintf(": %v", e.Err)
	}
	return s
}

// Is reports whether target is e's Kind.
func (e *CommandError) Is(target error) bool {
	return target == e.Kind
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
