// Package email is responsible for composing an email: its envelope,
// headers, text and HTML bodies, and attachments. It turns a Message into
// the exact MIME multipart/mixed byte stream we hand to an SMTP server in
// the DATA phase. It does not talk to SMTP servers itself (see smtpclient).
//
// Attachments pass through a Validator before they join a Message, so a
// missing or oversized file is dropped long before a send begins.
package email
