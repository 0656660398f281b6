// Package dispatch ties the other packages together for a single send: it
// builds a Message from the sender config and a Request, admits attachments,
// hands the Message to smtpclient, and journals the result. The CLI is a
// thin layer over Run.
package dispatch
