package email

import (
	"time"

	"github.com/ptgott/one-mailer/html"
)

// DefaultMailer is used for the X-Mailer header and the footer of the HTML
// body when a Message doesn't name its sending system.
const DefaultMailer = "One Mailer"

// Recipient is a single mailbox the message is addressed to.
type Recipient struct {
	Email       string
	DisplayName string
}

// String renders r the way it appears in an address header, e.g.,
// "Bob Smith <bob@example.com>".
func (r Recipient) String() string {
	return formatAddress(r.DisplayName, r.Email)
}

// Attachment is a file admitted by a Validator. SizeBytes is the size at
// admission time.
type Attachment struct {
	SourcePath  string
	DisplayName string
	MIMEType    string
	SizeBytes   int64
}

// Message represents one email for one send. Build it, send it, and discard
// it. Per-send values (boundary, Message-ID, Date) are assigned by Stamp.
type Message struct {
	From     string
	FromName string
	// Defaults to From
	ReplyTo string

	// Each is kept in insertion order. Bcc recipients only ever appear in
	// the envelope.
	To  []Recipient
	Cc  []Recipient
	Bcc []Recipient

	Subject string
	HTML    string
	// text/plain alternative to HTML
	Text string

	Attachments []Attachment

	// Domain used after the "@" in the Message-ID header. Defaults to the
	// domain of From.
	MessageIDDomain string
	// Name of the sending system. Defaults to DefaultMailer.
	Mailer string

	boundary  string
	messageID string
	date      time.Time
}

// NewMessage returns an empty Message sent from the given address.
func NewMessage(from, fromName string) *Message {
	return &Message{
		From:     from,
		FromName: fromName,
	}
}

// AddRecipient adds a "To" recipient.
func (m *Message) AddRecipient(email, name string) {
	m.To = append(m.To, Recipient{Email: email, DisplayName: name})
}

// AddCc adds a "Cc" recipient.
func (m *Message) AddCc(email, name string) {
	m.Cc = append(m.Cc, Recipient{Email: email, DisplayName: name})
}

// AddBcc adds a blind recipient. It receives the message but never appears
// in its headers.
func (m *Message) AddBcc(email, name string) {
	m.Bcc = append(m.Bcc, Recipient{Email: email, DisplayName: name})
}

// SetSubject sets the Subject header.
func (m *Message) SetSubject(s string) {
	m.Subject = s
}

// SetBodyHTML sets the HTML body. If textFallback is empty, the text/plain
// part is derived by stripping the markup from body.
func (m *Message) SetBodyHTML(body, textFallback string) {
	m.HTML = body
	if textFallback == "" {
		textFallback = html.ToText(body)
	}
	m.Text = textFallback
}

// EnvelopeRecipients returns the addresses to use for RCPT TO: To, then Cc,
// then Bcc, each in insertion order.
func (m *Message) EnvelopeRecipients() []string {
	r := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	for _, l := range [][]Recipient{m.To, m.Cc, m.Bcc} {
		for _, rc := range l {
			r = append(r, rc.Email)
		}
	}
	return r
}

// MessageID returns the Message-ID assigned by the last call to Stamp,
// without angle brackets. It's empty for a message that was never stamped.
func (m *Message) MessageID() string {
	return m.messageID
}

// Boundary returns the multipart boundary assigned by the last call to
// Stamp.
func (m *Message) Boundary() string {
	return m.boundary
}

func (m *Message) mailer() string {
	if m.Mailer == "" {
		return DefaultMailer
	}
	return m.Mailer
}

func (m *Message) replyTo() string {
	if m.ReplyTo == "" {
		return m.From
	}
	return m.ReplyTo
}

// text is the text/plain body, derived from the HTML when no fallback was
// given.
func (m *Message) text() string {
	if m.Text == "" {
		return html.ToText(m.HTML)
	}
	return m.Text
}
