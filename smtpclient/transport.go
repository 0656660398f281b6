package smtpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"sync"
	"time"
)

// Transport is a line-oriented connection to an SMTP server. It knows
// nothing about which commands to send when (see Session).
type Transport struct {
	// The connection as dialed. StartTLS replaces conn but not raw.
	raw     net.Conn
	conn    net.Conn
	text    *textproto.Conn
	timeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the server in cfg, bounded by cfg.ConnectTimeout. With
// implicit TLS the handshake happens here too.
func Dial(ctx context.Context, cfg Config) (*Transport, error) {
	d := &net.Dialer{Timeout: cfg.ConnectTimeout}

	var conn net.Conn
	var err error
	if cfg.Encryption == EncryptionImplicitTLS {
		td := &tls.Dialer{NetDialer: d, Config: cfg.tlsConfig()}
		conn, err = td.DialContext(ctx, "tcp", cfg.address())
	} else {
		conn, err = d.DialContext(ctx, "tcp", cfg.address())
	}
	if err != nil {
		return nil, fmt.Errorf("can't connect to %v: %w", cfg.address(), err)
	}

	return &Transport{
		raw:     conn,
		conn:    conn,
		text:    textproto.NewConn(conn),
		timeout: cfg.CommandTimeout,
	}, nil
}

func (t *Transport) deadline() error {
	if t.timeout <= 0 {
		return nil
	}
	return t.conn.SetDeadline(time.Now().Add(t.timeout))
}

// WriteLine sends line followed by CRLF.
func (t *Transport) WriteLine(line string) error {
	if err := t.deadline(); err != nil {
		return err
	}
	return t.text.PrintfLine("%s", line)
}

// ReadReply reads one complete reply, following "NNN-" continuation lines.
// A line without a parseable code ends the reply; the caller sees it as a
// rejection.
func (t *Transport) ReadReply() (Reply, error) {
	if err := t.deadline(); err != nil {
		return Reply{}, err
	}
	var r Reply
	for {
		l, err := t.text.ReadLine()
		if err != nil {
			return Reply{}, err
		}
		r.Lines = append(r.Lines, l)
		if !continues(l) {
			r.Code = Classify(l).Code
			return r, nil
		}
	}
}

// StartTLS upgrades the connection in place. Call it only after the server
// has accepted STARTTLS.
func (t *Transport) StartTLS(ctx context.Context, cfg *tls.Config) error {
	if err := t.deadline(); err != nil {
		return err
	}
	tc := tls.Client(t.conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("TLS handshake failed: %w", err)
	}
	t.conn = tc
	t.text = textproto.NewConn(tc)
	return nil
}

// IsTLS reports whether the connection is encrypted.
func (t *Transport) IsTLS() bool {
	_, ok := t.conn.(*tls.Conn)
	return ok
}

// WriteData streams p as a DATA payload with dot stuffing, then writes the
// end-of-data marker. If p fails to render, the marker is withheld so the
// server never queues a truncated message, and the error matches ErrMessage.
func (t *Transport) WriteData(p io.WriterTo) error {
	if err := t.deadline(); err != nil {
		return err
	}
	ew := &errWriter{w: t.text.DotWriter()}
	if _, err := p.WriteTo(ew); err != nil {
		if ew.err != nil {
			return ew.err
		}
		return fmt.Errorf("%w: %v", ErrMessage, err)
	}
	// Close adds a CRLF if needed, then ".\r\n", and flushes.
	return ew.w.Close()
}

// errWriter remembers the first error from the connection side so we can
// tell it apart from an error rendering the payload.
type errWriter struct {
	w   io.WriteCloser
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err != nil && e.err == nil {
		e.err = err
	}
	return n, err
}

// Close releases the connection. Calling it more than once, or from another
// goroutine to interrupt a blocked read, is fine.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.raw.Close()
	})
	return t.closeErr
}
