package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"github.com/ptgott/one-mailer/email"
	"github.com/ptgott/one-mailer/smtpclient"
	"github.com/ptgott/one-mailer/storage"
	"github.com/ptgott/one-mailer/userconfig"
)

// Request is one message to send.
type Request struct {
	// Addresses as "addr" or "Name <addr>"
	To  []string
	Cc  []string
	Bcc []string

	Subject string
	HTML    string
	// Derived from HTML when empty
	Text string
	// Each is "path[;name[;mime type]]"
	Attachments []string

	// Write the MIME document to Config.OutputWr instead of sending it.
	DryRun bool
}

// Config holds what Run needs besides the Request.
type Config struct {
	// Must have been through CheckAndSetDefaults
	Meta *userconfig.Meta
	// Where completed sends are recorded. May be nil.
	Journal *storage.Journal
	// Receives the document in dry-run mode
	OutputWr io.Writer
	Logger   zerolog.Logger
}

// Run builds and sends the message described by r, then records it in the
// journal. It returns the Message-ID. There is exactly one delivery attempt.
// A journal failure is logged but doesn't fail the run, since by then the
// server has the message.
func Run(ctx context.Context, c *Config, r Request) (string, error) {
	m, err := BuildMessage(c, r)
	if err != nil {
		return "", err
	}

	if r.DryRun {
		if c.OutputWr == nil {
			return "", errors.New("a writer is unavailable for receiving the output message")
		}
		if _, err := m.WriteTo(c.OutputWr); err != nil {
			return "", fmt.Errorf("can't render the message: %w", err)
		}
		return m.MessageID(), nil
	}

	c.Logger.Info().
		Int("recipients", len(m.EnvelopeRecipients())).
		Int("attachments", len(m.Attachments)).
		Msg("attempting to send an email")

	if err := smtpclient.Send(ctx, c.Meta.SMTP, c.Logger, m); err != nil {
		return "", err
	}

	if c.Journal != nil {
		if err := c.Journal.Record(storage.NewSendRecord(m, time.Now())); err != nil {
			c.Logger.Warn().Err(err).Msg("can't record the send in the journal")
		}
	}

	return m.MessageID(), nil
}

// BuildMessage turns r into a Message from the configured sender. Rejected
// attachments are left out; the Validator logs each rejection.
func BuildMessage(c *Config, r Request) (*email.Message, error) {
	m := c.Meta.Sender.NewMessage()
	m.SetSubject(r.Subject)

	for _, l := range []struct {
		field string
		vals  []string
		add   func(addr, name string)
	}{
		{"to", r.To, m.AddRecipient},
		{"cc", r.Cc, m.AddCc},
		{"bcc", r.Bcc, m.AddBcc},
	} {
		for _, v := range l.vals {
			a, err := mail.ParseAddress(v)
			if err != nil {
				return nil, fmt.Errorf("can't parse the %v address %q: %w", l.field, v, err)
			}
			l.add(a.Address, a.Name)
		}
	}

	m.SetBodyHTML(r.HTML, r.Text)

	v := email.NewValidator(c.Meta.Attachments.MaxSizeBytes, c.Logger)
	for _, a := range r.Attachments {
		path, name, mimeType := SplitAttachment(a)
		if err := m.AddAttachment(v, path, name, mimeType); err != nil {
			c.Logger.Debug().Err(err).Str("path", path).Msg("leaving out an attachment")
		}
	}

	return m, nil
}

// SplitAttachment splits "path[;name[;mime type]]". Empty fields take their
// defaults when the attachment is admitted.
func SplitAttachment(s string) (path, name, mimeType string) {
	p := strings.SplitN(s, ";", 3)
	path = p[0]
	if len(p) > 1 {
		name = p[1]
	}
	if len(p) > 2 {
		mimeType = p[2]
	}
	return
}
