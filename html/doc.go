// Package html is responsible for the HTML and plain text bodies that go into
// an email. It wraps caller-supplied HTML in the decorative page template we
// send to recipients and derives a text/plain fallback from HTML. It's not
// concerned with MIME encoding or with sending anything.
package html
