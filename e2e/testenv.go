package e2e

import (
	"fmt"
	"net"
	"testing"

	"github.com/99designs/keyring"
	"github.com/rs/zerolog"

	"github.com/ptgott/one-mailer/credential"
	"github.com/ptgott/one-mailer/dispatch"
	"github.com/ptgott/one-mailer/smtptest"
	"github.com/ptgott/one-mailer/storage"
)

const keyringItem = "e2e-smtp-password"

// testEnvironmentConfig exposes options that should be available and
// perhaps changeable when spinning up a test environment.
type testEnvironmentConfig struct {
	mode smtptest.TLSMode
	// Password the keyring hands out
	password string
	maxSize  string
}

// testEnvironment manages all dependencies required to simulate a "real"
// environment. Callers should create this via startTestEnvironment, which
// registers teardown with the test.
type testEnvironment struct {
	SMTPServer *smtptest.InProcessServer
	Journal    *storage.Journal
	Dispatch   *dispatch.Config
}

// startTestEnvironment starts an SMTP server, opens a journal in a temp
// directory, and loads the application config exactly as the CLI would.
func startTestEnvironment(t *testing.T, c testEnvironmentConfig) (*testEnvironment, error) {
	key, cert, err := smtptest.GenerateTLSFiles(t)
	if err != nil {
		return nil, err
	}
	srv := smtptest.NewInProcessServer(key, cert, c.mode)
	go srv.Start()
	t.Cleanup(srv.Close)

	host, port, err := net.SplitHostPort(srv.Address())
	if err != nil {
		return nil, err
	}

	enc := "starttls"
	if c.mode == smtptest.ImplicitTLS {
		enc = "ssl"
	}
	if c.maxSize == "" {
		c.maxSize = "5MB"
	}

	meta, err := createUserConfig(appConfigOptions{
		Host:        host,
		Port:        port,
		Encryption:  enc,
		KeyringItem: keyringItem,
		StorageDir:  t.TempDir(),
		MaxSize:     c.maxSize,
	})
	if err != nil {
		return nil, fmt.Errorf("can't create the app config: %w", err)
	}

	ks := credential.NewStore(keyring.NewArrayKeyring([]keyring.Item{
		{Key: keyringItem, Data: []byte(c.password)},
	}))
	if err := meta.ResolveSecrets(ks); err != nil {
		return nil, err
	}

	checked, err := meta.CheckAndSetDefaults()
	if err != nil {
		return nil, err
	}
	// Not configurable from YAML
	checked.SMTP.TLSConfig, err = smtptest.ClientTLSConfig(cert)
	if err != nil {
		return nil, err
	}

	j, err := storage.OpenJournal(checked.Journal, zerolog.Nop())
	if err != nil {
		return nil, err
	}
	t.Cleanup(func() { j.Close() })

	return &testEnvironment{
		SMTPServer: srv,
		Journal:    j,
		Dispatch: &dispatch.Config{
			Meta:    &checked,
			Journal: j,
			Logger:  zerolog.Nop(),
		},
	}, nil
}
