package html

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Elements that end a line of text when they open or close.
var blockElements = map[atom.Atom]struct{}{
	atom.P:          {},
	atom.Div:        {},
	atom.Br:         {},
	atom.Li:         {},
	atom.Tr:         {},
	atom.H1:         {},
	atom.H2:         {},
	atom.H3:         {},
	atom.H4:         {},
	atom.H5:         {},
	atom.H6:         {},
	atom.Table:      {},
	atom.Ul:         {},
	atom.Ol:         {},
	atom.Blockquote: {},
	atom.Hr:         {},
}

// ToText strips the markup from an HTML document or fragment, leaving the
// text a reader would see. Entities are decoded and the contents of script
// and style elements are dropped. Block-level elements start a new line.
func ToText(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))

	var b strings.Builder
	skip := 0 // depth inside script/style

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// Usually io.EOF. Anything else means the input was cut short,
			// and we keep whatever text we collected.
			return tidy(b.String())
		case html.TextToken:
			if skip > 0 {
				continue
			}
			b.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.DataAtom == atom.Script || tok.DataAtom == atom.Style {
				switch tt {
				case html.StartTagToken:
					skip++
				case html.EndTagToken:
					if skip > 0 {
						skip--
					}
				}
				continue
			}
			if _, ok := blockElements[tok.DataAtom]; ok {
				b.WriteString("\n")
			}
		}
	}
}

// tidy trims each line and collapses runs of blank lines into one.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
