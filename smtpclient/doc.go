// Package smtpclient delivers a composed email.Message to a single SMTP
// server. A Session walks one connection through the protocol (greeting,
// EHLO, optional STARTTLS, optional AUTH LOGIN, then the mail transaction)
// and closes it on every exit path. There are no retries, queues or
// connection pools: one Send is one attempt.
package smtpclient
