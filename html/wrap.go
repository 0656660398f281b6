package html

import (
	"html/template"
	"strings"
)

// Page contains what we need to populate the email page template.
type Page struct {
	// Shown in the <title> element. Escaped.
	Title string
	// Caller-supplied HTML, inserted verbatim.
	Body string
	// Name of the sending system, shown in the footer disclaimer
	Sender string
}

// Using inline styles only, since most clients strip <link> elements.
// See:
// https://www.smashingmagazine.com/2017/01/introduction-building-sending-html-email-for-web-developers/
const pageHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>{{ .Title }}</title>
  <style>
    body {
      font-family: Arial, sans-serif;
      background-color: #ffffff;
      color: #333333;
      margin: 0;
      padding: 20px;
    }
    h1, h2, h3 {
      color: #005f99;
      margin-bottom: 10px;
    }
    p {
      line-height: 1.6;
      margin-bottom: 15px;
    }
    a {
      color: #0077cc;
      text-decoration: none;
    }
    a:hover {
      text-decoration: underline;
    }
    .footer {
      font-size: 12px;
      color: #777777;
      margin-top: 30px;
      border-top: 1px solid #eeeeee;
      padding-top: 10px;
    }
  </style>
</head>
<body>
  {{ .Body }}
  <div class="footer">
    This message was sent automatically by {{ .Sender }}. Please do not reply to this message.
  </div>
</body>
</html>`

// The template text is constant, so a parse failure is a programming error.
var pageTmpl = template.Must(template.New("page").Parse(pageHTML))

// Wrap places p.Body inside the email page template. The body is trusted
// caller HTML and is not escaped.
func Wrap(p Page) (string, error) {
	var str strings.Builder
	err := pageTmpl.Execute(&str, struct {
		Title  string
		Body   template.HTML
		Sender string
	}{
		Title:  p.Title,
		Body:   template.HTML(p.Body),
		Sender: p.Sender,
	})
	if err != nil {
		return "", err
	}
	return str.String(), nil
}
