package smtptest

import (
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
)

// ParsedAttachment is a decoded attachment part.
type ParsedAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ParsedMessage is what a mail reader makes of a payload received by a test
// server. Text and HTML have their transfer encoding removed.
type ParsedMessage struct {
	Subject string
	From    []*mail.Address
	To      []*mail.Address
	Cc      []*mail.Address
	Text    string
	HTML    string
	// Media type of every leaf part, in order
	PartTypes   []string
	Attachments []ParsedAttachment
}

// ParseMessage reads a raw RFC 5322 message so tests can check it the way a
// mail client would see it. If a test that calls this starts failing, make
// sure the message still parses with a standards-compliant reader before
// blaming the assertions.
func ParseMessage(raw string) (*ParsedMessage, error) {
	mr, err := mail.CreateReader(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("can't read the message header: %w", err)
	}
	defer mr.Close()

	pm := &ParsedMessage{}
	if pm.Subject, err = mr.Header.Subject(); err != nil {
		return nil, fmt.Errorf("can't decode the subject: %w", err)
	}
	for _, f := range []struct {
		key string
		dst *[]*mail.Address
	}{
		{"From", &pm.From},
		{"To", &pm.To},
		{"Cc", &pm.Cc},
	} {
		if *f.dst, err = mr.Header.AddressList(f.key); err != nil {
			return nil, fmt.Errorf("can't parse the %v header: %w", f.key, err)
		}
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("can't read the next part: %w", err)
		}

		b, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, fmt.Errorf("can't read a part body: %w", err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			pm.PartTypes = append(pm.PartTypes, ct)
			switch ct {
			case "text/plain":
				pm.Text = string(b)
			case "text/html":
				pm.HTML = string(b)
			}
		case *mail.AttachmentHeader:
			ct, _, _ := h.ContentType()
			pm.PartTypes = append(pm.PartTypes, ct)
			fn, err := h.Filename()
			if err != nil {
				return nil, fmt.Errorf("can't decode an attachment filename: %w", err)
			}
			pm.Attachments = append(pm.Attachments, ParsedAttachment{
				Filename:    fn,
				ContentType: ct,
				Data:        b,
			})
		}
	}

	return pm, nil
}
