package email

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/quotedprintable"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/ptgott/one-mailer/html"
)

const (
	crlf = "\r\n"
	// RFC 2045 section 6.8
	base64LineLength = 76
	// RFC 5322 section 2.1.1
	maxHeaderLineLength  = 998
	foldHeaderLineLength = 78
	// Bytes per forced encoded-word, so that even fully escaped it stays
	// within RFC 2047's 75 characters
	encodedWordChunk = 20
	// Boundaries start with "=_", which can't appear in quoted-printable
	// output ("=" is always followed by two hex digits) or in base64, so
	// part content never contains a delimiter line.
	boundaryPrefix = "=_"
)

// Stamp assigns the values that must be fresh for every send: the
// multipart boundary, the Message-ID, and the Date. The Session calls this
// once per send. WriteTo stamps a message that was never stamped.
func (m *Message) Stamp(now time.Time) error {
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return fmt.Errorf("can't generate a MIME boundary: %w", err)
	}
	m.boundary = boundaryPrefix + id.String()
	m.messageID = uuid.NewString() + "@" + m.messageIDDomain()
	m.date = now
	return nil
}

func (m *Message) messageIDDomain() string {
	if m.MessageIDDomain != "" {
		return m.MessageIDDomain
	}
	if i := strings.LastIndex(m.From, "@"); i >= 0 && i < len(m.From)-1 {
		return m.From[i+1:]
	}
	return "localhost"
}

// WriteTo writes the complete MIME document (headers and multipart/mixed
// body) to w, with CRLF line endings throughout. The output doesn't include
// the SMTP end-of-data marker. Attachment files are read at this point.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	if m.boundary == "" {
		if err := m.Stamp(time.Now()); err != nil {
			return 0, err
		}
	}

	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)

	err := m.write(bw)
	if ferr := bw.Flush(); err == nil {
		err = ferr
	}
	return cw.n, err
}

// Bytes returns the document WriteTo would write.
func (m *Message) Bytes() ([]byte, error) {
	var b strings.Builder
	if _, err := m.WriteTo(&b); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func (m *Message) write(w *bufio.Writer) error {
	for _, h := range m.headers() {
		if _, err := w.WriteString(h[0] + ": " + h[1] + crlf); err != nil {
			return err
		}
	}
	if _, err := w.WriteString(crlf); err != nil {
		return err
	}

	err := m.writePart(w, []string{
		"Content-Type: text/plain; charset=UTF-8",
		"Content-Transfer-Encoding: quoted-printable",
	}, func(pw io.Writer) error {
		return writeQuotedPrintable(pw, m.text())
	})
	if err != nil {
		return fmt.Errorf("can't write the text/plain part: %w", err)
	}

	page, err := html.Wrap(html.Page{
		Title:  m.Subject,
		Body:   m.HTML,
		Sender: m.mailer(),
	})
	if err != nil {
		return fmt.Errorf("can't render the HTML body: %w", err)
	}
	err = m.writePart(w, []string{
		"Content-Type: text/html; charset=UTF-8",
		"Content-Transfer-Encoding: quoted-printable",
	}, func(pw io.Writer) error {
		return writeQuotedPrintable(pw, page)
	})
	if err != nil {
		return fmt.Errorf("can't write the text/html part: %w", err)
	}

	for _, a := range m.Attachments {
		name := encodeParam(a.DisplayName)
		mt, ok := normalizeMIMEType(a.MIMEType)
		if !ok {
			mt = defaultMIMEType
		}
		err := m.writePart(w, []string{
			fmt.Sprintf("Content-Type: %v; name=\"%v\"", mt, name),
			fmt.Sprintf("Content-Disposition: attachment; filename=\"%v\"", name),
			"Content-Transfer-Encoding: base64",
		}, func(pw io.Writer) error {
			return writeBase64File(pw, a.SourcePath)
		})
		if err != nil {
			return fmt.Errorf("can't write attachment %v: %w", a.DisplayName, err)
		}
	}

	_, err = w.WriteString("--" + m.boundary + "--")
	return err
}

// headers returns the top-level header fields in the order they're sent.
// Bcc is deliberately absent.
func (m *Message) headers() [][2]string {
	h := [][2]string{
		{"Date", m.date.Format(time.RFC1123Z)},
		{"Message-ID", "<" + m.messageID + ">"},
		{"Return-Path", "<" + m.From + ">"},
		{"From", formatAddress(m.FromName, m.From)},
	}
	if len(m.To) > 0 {
		h = append(h, [2]string{"To", addressList("To", m.To)})
	}
	if len(m.Cc) > 0 {
		h = append(h, [2]string{"Cc", addressList("Cc", m.Cc)})
	}
	return append(h,
		[2]string{"Reply-To", m.replyTo()},
		[2]string{"Subject", foldHeader("Subject", mime.QEncoding.Encode("UTF-8", m.Subject))},
		[2]string{"MIME-Version", "1.0"},
		[2]string{"X-Mailer", m.mailer()},
		[2]string{"Content-Type", fmt.Sprintf("multipart/mixed; boundary=\"%v\"", m.boundary)},
	)
}

// writePart writes one body part: the delimiter line, the part's header
// lines, a blank line, the content, and the CRLF that belongs to the next
// delimiter. body must not end its output with a line break of its own.
func (m *Message) writePart(w io.Writer, headers []string, body func(io.Writer) error) error {
	var b strings.Builder
	b.WriteString("--" + m.boundary + crlf)
	for _, h := range headers {
		b.WriteString(h + crlf)
	}
	b.WriteString(crlf)
	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}
	if err := body(w); err != nil {
		return err
	}
	_, err := io.WriteString(w, crlf)
	return err
}

// writeQuotedPrintable encodes s in text mode, which turns line breaks into
// CRLF.
func writeQuotedPrintable(w io.Writer, s string) error {
	qw := quotedprintable.NewWriter(w)
	if _, err := io.WriteString(qw, s); err != nil {
		return err
	}
	return qw.Close()
}

// writeBase64File streams the file at path to w as base64 in lines of
// base64LineLength characters.
func writeBase64File(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := base64.NewEncoder(base64.StdEncoding, &lineWrapper{w: w, width: base64LineLength})
	if _, err := io.Copy(enc, f); err != nil {
		return err
	}
	return enc.Close()
}

// lineWrapper inserts CRLF every width bytes. It never writes a trailing
// CRLF, since the part writer adds the one in front of the next delimiter.
type lineWrapper struct {
	w     io.Writer
	width int
	col   int
}

func (l *lineWrapper) Write(p []byte) (int, error) {
	var n int
	for len(p) > 0 {
		if l.col == l.width {
			if _, err := io.WriteString(l.w, crlf); err != nil {
				return n, err
			}
			l.col = 0
		}
		c := l.width - l.col
		if c > len(p) {
			c = len(p)
		}
		k, err := l.w.Write(p[:c])
		n += k
		l.col += k
		if err != nil {
			return n, err
		}
		p = p[c:]
	}
	return n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// addressList joins rs with ", ". If that makes the header line too long
// for RFC 5322, the list is folded after each comma instead.
func addressList(field string, rs []Recipient) string {
	s := make([]string, len(rs))
	for i, r := range rs {
		s[i] = r.String()
	}
	l := strings.Join(s, ", ")
	if len(field)+2+len(l) > maxHeaderLineLength {
		return strings.Join(s, ","+crlf+" ")
	}
	return l
}

// foldHeader breaks value across lines at its spaces so that no line of
// the field runs past 78 characters where a space allows it. A run without
// spaces that would still be too long for RFC 5322 is split into ASCII
// encoded-words, which decoders join back without spaces.
func foldHeader(field, value string) string {
	var toks []string
	for _, w := range strings.Split(value, " ") {
		if len(field)+2+len(w) > maxHeaderLineLength {
			toks = append(toks, forceEncodedWords(w)...)
			continue
		}
		toks = append(toks, w)
	}

	var b strings.Builder
	col := len(field) + 2
	for i, tok := range toks {
		switch {
		case i == 0:
		case tok != "" && col+1+len(tok) > foldHeaderLineLength:
			b.WriteString(crlf)
			col = 0
			fallthrough
		default:
			b.WriteString(" ")
			col++
		}
		b.WriteString(tok)
		col += len(tok)
	}
	return b.String()
}

// forceEncodedWords Q-encodes s as a series of short encoded-words. s is
// ASCII, since mime.QEncoding already encoded anything else.
func forceEncodedWords(s string) []string {
	var words []string
	for len(s) > 0 {
		n := encodedWordChunk
		if n > len(s) {
			n = len(s)
		}
		var b strings.Builder
		b.WriteString("=?UTF-8?q?")
		for i := 0; i < n; i++ {
			c := s[i]
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
				b.WriteByte(c)
			default:
				fmt.Fprintf(&b, "=%02X", c)
			}
		}
		b.WriteString("?=")
		words = append(words, b.String())
		s = s[n:]
	}
	return words
}

// formatAddress renders a mailbox as `Name <email>`. Names with RFC 5322
// specials are quoted, and non-ASCII names are RFC 2047 encoded.
func formatAddress(name, addr string) string {
	if name == "" {
		return "<" + addr + ">"
	}
	return encodePhrase(name) + " <" + addr + ">"
}

func encodePhrase(s string) string {
	for _, r := range s {
		if r > 126 || (r < 32 && r != '\t') {
			return mime.QEncoding.Encode("UTF-8", s)
		}
	}
	if strings.ContainsAny(s, `()<>[]:;@\,."`) {
		r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
		return `"` + r.Replace(s) + `"`
	}
	return s
}

// encodeParam prepares a filename for use inside a quoted header parameter.
func encodeParam(s string) string {
	for _, r := range s {
		if r > 126 || r < 32 {
			return mime.QEncoding.Encode("UTF-8", s)
		}
	}
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
