package smtpclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		description string
		line        string
		expected    Classification
	}{
		{
			description: "greeting",
			line:        "220 mail.example.com ESMTP",
			expected:    Classification{Verdict: Accepted, Code: 220},
		},
		{
			description: "final EHLO line",
			line:        "250 STARTTLS",
			expected:    Classification{Verdict: Accepted, Code: 250},
		},
		{
			description: "continuation line",
			line:        "250-PIPELINING",
			expected:    Classification{Verdict: Accepted, Code: 250},
		},
		{
			description: "bare code",
			line:        "250",
			expected:    Classification{Verdict: Accepted, Code: 250},
		},
		{
			description: "AUTH challenge",
			line:        "334 VXNlcm5hbWU6",
			expected:    Classification{Verdict: NeedsContinue, Code: 334},
		},
		{
			description: "DATA go-ahead",
			line:        "354 End data with <CR><LF>.<CR><LF>",
			expected:    Classification{Verdict: NeedsContinue, Code: 354},
		},
		{
			description: "transient failure",
			line:        "421 Service not available",
			expected:    Classification{Verdict: Rejected, Code: 421},
		},
		{
			description: "permanent failure",
			line:        "550 5.1.1 No such user",
			expected:    Classification{Verdict: Rejected, Code: 550},
		},
		{
			description: "not a reply",
			line:        "hello there",
			expected:    Classification{Verdict: Rejected},
		},
		{
			description: "too short",
			line:        "25",
			expected:    Classification{Verdict: Rejected},
		},
		{
			description: "digits without a separator",
			line:        "2500 OK",
			expected:    Classification{Verdict: Rejected},
		},
		{
			description: "empty",
			line:        "",
			expected:    Classification{Verdict: Rejected},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			c := Classify(tc.line)
			assert.Equal(t, tc.expected, c)
			assert.Equal(t, tc.line != "" && (tc.line[0] == '2' || tc.line[0] == '3') && c.Code != 0, c.OK())
		})
	}
}

func TestReplyClassifiesByFinalLine(t *testing.T) {
	r := Reply{Code: 250, Lines: []string{"250-localhost", "250-AUTH LOGIN", "250 STARTTLS"}}
	assert.Equal(t, Classification{Verdict: Accepted, Code: 250}, r.Classify())
	assert.Equal(t, "250-localhost\n250-AUTH LOGIN\n250 STARTTLS", r.String())

	assert.False(t, Reply{}.Classify().OK())
}
