package html

import (
	"strings"
	"testing"

	css "github.com/andybalholm/cascadia"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestToText(t *testing.T) {
	testCases := []struct {
		description string
		input       string
		expected    string
	}{
		{
			description: "plain text passes through",
			input:       "Hello there",
			expected:    "Hello there",
		},
		{
			description: "inline markup is removed",
			input:       "<p>Hello <b>there</b>, <a href=\"https://example.com\">friend</a></p>",
			expected:    "Hello there, friend",
		},
		{
			description: "block elements break lines",
			input:       "<h1>Invoice</h1><p>First</p><p>Second</p>",
			expected:    "Invoice\n\nFirst\n\nSecond",
		},
		{
			description: "br breaks a line",
			input:       "one<br>two<br/>three",
			expected:    "one\ntwo\nthree",
		},
		{
			description: "entities are decoded",
			input:       "<p>Fish &amp; chips &lt;3</p>",
			expected:    "Fish & chips <3",
		},
		{
			description: "script and style contents are dropped",
			input:       "<style>p { color: red; }</style><p>Visible</p><script>alert(1)</script>",
			expected:    "Visible",
		},
		{
			description: "whitespace is collapsed",
			input:       "<div>\n\t  lots   of\n   space  </div>",
			expected:    "lots of\nspace",
		},
		{
			description: "empty input",
			input:       "",
			expected:    "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			assert.Equal(t, tc.expected, ToText(tc.input))
		})
	}
}

func TestWrap(t *testing.T) {
	body := `<h1>Your invoice</h1><p id="amount">Total: 10 &euro;</p>`
	out, err := Wrap(Page{
		Title:  "Invoice <42>",
		Body:   body,
		Sender: "One Mailer",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	// The caller's HTML must arrive untouched
	assert.Contains(t, out, body)
	// but the title is escaped
	assert.Contains(t, out, "<title>Invoice &lt;42&gt;</title>")

	doc, err := html.Parse(strings.NewReader(out))
	require.NoError(t, err)

	footer := css.MustCompile("div.footer").MatchAll(doc)
	require.Len(t, footer, 1)
	assert.Contains(t, footer[0].FirstChild.Data, "sent automatically by One Mailer")

	amount := css.MustCompile("body p#amount").MatchAll(doc)
	require.Len(t, amount, 1)

	styles := css.MustCompile("head style").MatchAll(doc)
	assert.Len(t, styles, 1)
}
