package smtptest

// Server contains state information for an SMTP server that runs for the
// length of a test. The SMTP server should be able to return the payloads
// of messages sent to it during the test.
type Server interface {
	// Start runs the server and blocks until it stops, so callers should
	// run it in its own goroutine. Retry behavior is left to the caller.
	Start() error

	// Close terminates the server and any resources it holds. It doesn't
	// return an error so it's easy to defer.
	Close()

	// RetrieveEmails returns the payloads of all email messages sent to the
	// server after time t in Unix epoch nanoseconds.
	RetrieveEmails(t int64) ([]string, error)

	// Address returns the host:port of the server.
	Address() string
}

var (
	_ Server = (*InProcessServer)(nil)
	_ Server = (*ScriptedServer)(nil)
)
