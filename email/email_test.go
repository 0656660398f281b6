package email

import (
	"bytes"
	"errors"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptgott/one-mailer/smtptest"
)

// writeTestFile creates a file of n pseudo-random-looking bytes in a temp
// directory and returns its path.
func writeTestFile(t *testing.T, name string, n int) string {
	t.Helper()
	b := make([]byte, n)
	for i := range b {
		b[i] = byte((i*31 + 7) % 256)
	}
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, b, 0o600))
	return p
}

func newTestMessage() *Message {
	m := NewMessage("sender@example.com", "Example Sender")
	m.AddRecipient("bob@example.com", "Bob Smith")
	m.SetSubject("Monthly report")
	m.SetBodyHTML("<h1>Report</h1><p>Everything is fine.</p>", "")
	return m
}

// splitHeaders returns the header block (without the blank line) and the
// body of a raw message.
func splitHeaders(t *testing.T, raw string) (string, string) {
	t.Helper()
	s := strings.SplitN(raw, "\r\n\r\n", 2)
	require.Len(t, s, 2, "expecting a blank line after the headers")
	return s[0], s[1]
}

func headerValue(headers, name string) (string, bool) {
	for _, l := range strings.Split(headers, "\r\n") {
		if strings.HasPrefix(l, name+": ") {
			return strings.TrimPrefix(l, name+": "), true
		}
	}
	return "", false
}

func TestAddressHeaders(t *testing.T) {
	testCases := []struct {
		description string
		to          []Recipient
		cc          []Recipient
		bcc         []Recipient
		expectedTo  string // blank means absent
		expectedCc  string // blank means absent
	}{
		{
			description: "single to, no cc",
			to:          []Recipient{{"bob@example.com", "Bob"}},
			expectedTo:  "Bob <bob@example.com>",
		},
		{
			description: "insertion order is preserved",
			to: []Recipient{
				{"zed@example.com", "Zed"},
				{"amy@example.com", "Amy"},
				{"max@example.com", "Max"},
			},
			cc: []Recipient{
				{"carol@example.com", "Carol"},
				{"alice@example.com", "Alice"},
			},
			expectedTo: "Zed <zed@example.com>, Amy <amy@example.com>, Max <max@example.com>",
			expectedCc: "Carol <carol@example.com>, Alice <alice@example.com>",
		},
		{
			description: "bcc only still omits every address header",
			bcc:         []Recipient{{"hidden@example.com", "Hidden"}},
		},
		{
			description: "names with specials are quoted",
			to:          []Recipient{{"jr@example.com", "Smith, Jr."}},
			expectedTo:  `"Smith, Jr." <jr@example.com>`,
		},
		{
			description: "blank display name",
			to:          []Recipient{{"nobody@example.com", ""}},
			expectedTo:  "<nobody@example.com>",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			m := NewMessage("sender@example.com", "Sender")
			for _, r := range tc.to {
				m.AddRecipient(r.Email, r.DisplayName)
			}
			for _, r := range tc.cc {
				m.AddCc(r.Email, r.DisplayName)
			}
			for _, r := range tc.bcc {
				m.AddBcc(r.Email, r.DisplayName)
			}
			m.SetBodyHTML("<p>hi</p>", "")

			b, err := m.Bytes()
			require.NoError(t, err)
			h, _ := splitHeaders(t, string(b))

			to, ok := headerValue(h, "To")
			assert.Equal(t, tc.expectedTo != "", ok, "presence of the To header")
			assert.Equal(t, tc.expectedTo, to)

			cc, ok := headerValue(h, "Cc")
			assert.Equal(t, tc.expectedCc != "", ok, "presence of the Cc header")
			assert.Equal(t, tc.expectedCc, cc)

			_, ok = headerValue(h, "Bcc")
			assert.False(t, ok, "the Bcc header must never be sent")
			for _, r := range tc.bcc {
				assert.NotContains(t, string(b), r.Email)
			}
		})
	}
}

func TestEnvelopeRecipients(t *testing.T) {
	m := NewMessage("sender@example.com", "")
	m.AddBcc("bcc@example.com", "")
	m.AddCc("cc@example.com", "")
	m.AddRecipient("to1@example.com", "")
	m.AddRecipient("to2@example.com", "")

	assert.Equal(t, []string{
		"to1@example.com",
		"to2@example.com",
		"cc@example.com",
		"bcc@example.com",
	}, m.EnvelopeRecipients())
}

func TestHeaderOrder(t *testing.T) {
	m := newTestMessage()
	m.AddCc("carol@example.com", "Carol")
	require.NoError(t, m.Stamp(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)))

	b, err := m.Bytes()
	require.NoError(t, err)
	h, _ := splitHeaders(t, string(b))

	var names []string
	for _, l := range strings.Split(h, "\r\n") {
		names = append(names, strings.SplitN(l, ":", 2)[0])
	}
	assert.Equal(t, []string{
		"Date",
		"Message-ID",
		"Return-Path",
		"From",
		"To",
		"Cc",
		"Reply-To",
		"Subject",
		"MIME-Version",
		"X-Mailer",
		"Content-Type",
	}, names)

	d, _ := headerValue(h, "Date")
	assert.Equal(t, "Fri, 01 Mar 2024 09:30:00 +0000", d)
	from, _ := headerValue(h, "From")
	assert.Equal(t, "Example Sender <sender@example.com>", from)
	rp, _ := headerValue(h, "Return-Path")
	assert.Equal(t, "<sender@example.com>", rp)
	mid, _ := headerValue(h, "Message-ID")
	assert.Regexp(t, `^<[0-9a-f-]{36}@example\.com>$`, mid)
	ct, _ := headerValue(h, "Content-Type")
	assert.Equal(t, `multipart/mixed; boundary="`+m.Boundary()+`"`, ct)
	xm, _ := headerValue(h, "X-Mailer")
	assert.Equal(t, DefaultMailer, xm)
}

func TestStampIsFreshPerSend(t *testing.T) {
	m := newTestMessage()
	now := time.Now()
	require.NoError(t, m.Stamp(now))
	b1, id1 := m.Boundary(), m.MessageID()
	require.NoError(t, m.Stamp(now))

	assert.NotEqual(t, b1, m.Boundary())
	assert.NotEqual(t, id1, m.MessageID())
	assert.True(t, strings.HasPrefix(m.Boundary(), "=_"))
}

func TestMessageIDDomain(t *testing.T) {
	m := newTestMessage()
	m.MessageIDDomain = "mail.example.org"
	require.NoError(t, m.Stamp(time.Now()))
	assert.True(t, strings.HasSuffix(m.MessageID(), "@mail.example.org"))
}

// TestMultipartStructure walks the body with the standard library's
// multipart reader the way a receiving client would.
func TestMultipartStructure(t *testing.T) {
	v := NewValidator(0, zerolog.Nop())
	m := newTestMessage()
	p := writeTestFile(t, "report.pdf", 3000)
	require.NoError(t, m.AddAttachment(v, p, "", ""))

	b, err := m.Bytes()
	require.NoError(t, err)

	bre := regexp.MustCompile(`Content-Type: multipart/mixed; boundary="([^"]+)"`)
	match := bre.FindStringSubmatch(string(b))
	require.Len(t, match, 2, "could not find the boundary parameter")

	_, body := splitHeaders(t, string(b))
	assert.True(t, strings.HasSuffix(body, "--"+match[1]+"--"))

	rdr := multipart.NewReader(bytes.NewBufferString(body), match[1])
	expected := []string{
		"text/plain; charset=UTF-8",
		"text/html; charset=UTF-8",
		`application/pdf; name="report.pdf"`,
	}
	var got []string
	for {
		part, err := rdr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, part.Header.Get("Content-Type"))
	}
	assert.Equal(t, expected, got)
}

func TestLineEndingsAreCRLF(t *testing.T) {
	v := NewValidator(0, zerolog.Nop())
	m := newTestMessage()
	m.SetBodyHTML("<p>line one\nline two</p>\n<p>line three</p>", "plain one\nplain two\n")
	require.NoError(t, m.AddAttachment(v, writeTestFile(t, "a.bin", 500), "", ""))

	b, err := m.Bytes()
	require.NoError(t, err)
	for i, c := range b {
		if c == '\n' {
			require.True(t, i > 0 && b[i-1] == '\r', "bare LF at offset %v", i)
		}
	}
}

func TestBase64Wrapping(t *testing.T) {
	testCases := []struct {
		description string
		size        int
	}{
		{description: "exactly one line", size: 57},
		{description: "several full lines plus a short one", size: 2000},
		{description: "multiple of the line length", size: 57 * 10},
		{description: "empty file", size: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			v := NewValidator(0, zerolog.Nop())
			m := newTestMessage()
			require.NoError(t, m.AddAttachment(v, writeTestFile(t, "data.bin", tc.size), "", ""))

			b, err := m.Bytes()
			require.NoError(t, err)

			s := strings.SplitN(string(b), "Content-Transfer-Encoding: base64\r\n\r\n", 2)
			require.Len(t, s, 2)
			encoded := strings.SplitN(s[1], "\r\n--"+m.Boundary(), 2)[0]
			if tc.size == 0 {
				assert.Empty(t, encoded)
				return
			}

			lines := strings.Split(encoded, "\r\n")
			for i, l := range lines {
				if i < len(lines)-1 {
					assert.Len(t, l, 76, "line %v", i)
				} else {
					assert.LessOrEqual(t, len(l), 76)
					assert.NotEmpty(t, l)
				}
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	v := NewValidator(0, zerolog.Nop())
	m := NewMessage("sender@example.com", "Sender")
	m.AddRecipient("bob@example.com", "Bob")
	m.AddCc("carol@example.com", "Carol")
	m.SetSubject("Facture n° 42 – ready")
	m.SetBodyHTML(
		`<p class="lead">Hello Bob, your total is <b>42 €</b>. A very long line that goes well past seventy-six characters so that soft line breaks are needed.</p>`,
		"Hello Bob, your total is 42 €.",
	)

	pdf := writeTestFile(t, "invoice.pdf", 4096)
	csv := filepath.Join(t.TempDir(), "rows.csv")
	require.NoError(t, os.WriteFile(csv, []byte("a,b\r\n1,2\r\n"), 0o600))
	require.NoError(t, m.AddAttachment(v, pdf, "Invoice 42.pdf", "application/pdf"))
	require.NoError(t, m.AddAttachment(v, csv, "", "text/csv"))

	b, err := m.Bytes()
	require.NoError(t, err)

	pm, err := smtptest.ParseMessage(string(b))
	require.NoError(t, err)

	assert.Equal(t, m.Subject, pm.Subject)
	require.Len(t, pm.From, 1)
	assert.Equal(t, "sender@example.com", pm.From[0].Address)
	require.Len(t, pm.To, 1)
	assert.Equal(t, "Bob", pm.To[0].Name)
	require.Len(t, pm.Cc, 1)
	assert.Equal(t, m.Text, pm.Text)
	assert.Contains(t, pm.HTML, m.HTML)
	assert.Contains(t, pm.HTML, "sent automatically by "+DefaultMailer)

	pdfBytes, err := os.ReadFile(pdf)
	require.NoError(t, err)
	csvBytes, err := os.ReadFile(csv)
	require.NoError(t, err)

	require.Len(t, pm.Attachments, 2)
	assert.Equal(t, "Invoice 42.pdf", pm.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", pm.Attachments[0].ContentType)
	assert.Equal(t, pdfBytes, pm.Attachments[0].Data)
	assert.Equal(t, "rows.csv", pm.Attachments[1].Filename)
	assert.Equal(t, "text/csv", pm.Attachments[1].ContentType)
	assert.Equal(t, csvBytes, pm.Attachments[1].Data)
}

func TestNoAttachmentsMeansTwoParts(t *testing.T) {
	m := newTestMessage()
	b, err := m.Bytes()
	require.NoError(t, err)

	pm, err := smtptest.ParseMessage(string(b))
	require.NoError(t, err)
	assert.Empty(t, pm.Attachments)
	assert.Equal(t, []string{"text/plain", "text/html"}, pm.PartTypes)
	// quoted-printable line breaks come back as CRLF
	assert.Equal(t, "Report\n\nEverything is fine.", strings.ReplaceAll(pm.Text, "\r\n", "\n"))
}

func TestWriteToFailsForVanishedAttachment(t *testing.T) {
	v := NewValidator(0, zerolog.Nop())
	m := newTestMessage()
	p := writeTestFile(t, "gone.bin", 10)
	require.NoError(t, m.AddAttachment(v, p, "", ""))
	require.NoError(t, os.Remove(p))

	_, err := m.WriteTo(io.Discard)
	assert.Error(t, err)
}

func TestLongSubjectIsFolded(t *testing.T) {
	testCases := []struct {
		description string
		subject     string
	}{
		{
			description: "non-ASCII words",
			subject:     strings.TrimSpace(strings.Repeat("Überweisung für Rechnung ", 60)),
		},
		{
			description: "plain ASCII words",
			subject:     strings.TrimSpace(strings.Repeat("Monthly invoice reminder ", 60)),
		},
		{
			description: "one ASCII run with no spaces",
			subject:     strings.Repeat("x", 1500),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			m := newTestMessage()
			m.SetSubject(tc.subject)
			b, err := m.Bytes()
			require.NoError(t, err)

			headers, _ := splitHeaders(t, string(b))
			for _, l := range strings.Split(string(b), "\r\n") {
				assert.LessOrEqual(t, len(l), 998, "line of %v bytes: %.40q", len(l), l)
			}
			for _, l := range strings.Split(headers, "\r\n") {
				if strings.HasPrefix(l, " ") {
					assert.LessOrEqual(t, len(l), 78, "folded line of %v bytes: %.40q", len(l), l)
				}
			}

			pm, err := smtptest.ParseMessage(string(b))
			require.NoError(t, err)
			assert.Equal(t, tc.subject, pm.Subject)
		})
	}
}

func TestShortSubjectIsOneLine(t *testing.T) {
	m := newTestMessage()
	b, err := m.Bytes()
	require.NoError(t, err)
	headers, _ := splitHeaders(t, string(b))
	v, ok := headerValue(headers, "Subject")
	require.True(t, ok)
	assert.Equal(t, "Monthly report", v)
}

// A media type smuggling extra header lines never reaches the output, even
// when the Attachment was built without the Validator.
func TestAttachmentTypeCantAddHeaders(t *testing.T) {
	v := NewValidator(0, zerolog.Nop())
	p := writeTestFile(t, "a.bin", 10)

	m := newTestMessage()
	require.NoError(t, m.AddAttachment(v, p, "a.txt", "text/plain\r\nBcc: leak@example.com"))
	m.Attachments = append(m.Attachments, Attachment{
		SourcePath:  p,
		DisplayName: "b.bin",
		MIMEType:    "application/pdf\r\nX-Injected: yes",
		SizeBytes:   10,
	})

	b, err := m.Bytes()
	require.NoError(t, err)
	assert.NotContains(t, string(b), "\r\nBcc:")
	assert.NotContains(t, string(b), "\r\nX-Injected:")

	pm, err := smtptest.ParseMessage(string(b))
	require.NoError(t, err)
	require.Len(t, pm.Attachments, 2)
	assert.Equal(t, "application/octet-stream", pm.Attachments[1].ContentType)
}

func TestTextDerivedFromHTMLField(t *testing.T) {
	m := NewMessage("sender@example.com", "")
	m.AddRecipient("bob@example.com", "")
	m.Subject = "Set directly"
	m.HTML = "<p>Hello <b>there</b></p>"

	b, err := m.Bytes()
	require.NoError(t, err)
	pm, err := smtptest.ParseMessage(string(b))
	require.NoError(t, err)
	assert.Contains(t, pm.Text, "Hello there")
	assert.Empty(t, m.Text)
}
