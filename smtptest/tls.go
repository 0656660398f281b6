package smtptest

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flashmob/go-guerrilla/tests/testcert"
)

// TLSHost is the host the generated certificate is valid for. Test servers
// listen on it and clients should dial it.
const TLSHost = "127.0.0.1"

// GenerateTLSFiles writes a TLS key and certificate to a temporary test
// directory that is removed after the test suite runs. It returns the file
// paths of the key and certificate. The certificate is a root cert.
func GenerateTLSFiles(t *testing.T) (keyPath string, certPath string, err error) {
	d := t.TempDir() + string(filepath.Separator)
	err = testcert.GenerateCert(
		TLSHost,
		"",                         // defaults to now
		time.Duration(1)*time.Hour, // the test suite won't run for this long
		true,                       // is a CA cert
		2048,                       // usually seen in online tutorials
		"",                         // using the default ecdsa curve,
		d,
	)

	if err != nil {
		return
	}

	// These path names are hardcoded into testcert.GenerateCert
	keyPath = d + TLSHost + ".key.pem"
	certPath = d + TLSHost + ".cert.pem"

	return
}

// ServerTLSConfig loads the key pair written by GenerateTLSFiles for use by
// a test server.
func ServerTLSConfig(keyPath, certPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
	}, nil
}

// ClientTLSConfig returns a client config that trusts only the certificate
// at certPath, so tests can verify the server without skipping checks.
func ClientTLSConfig(certPath string) (*tls.Config, error) {
	pem, err := os.ReadFile(certPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("no certificates found in the PEM file")
	}
	return &tls.Config{
		RootCAs:    pool,
		ServerName: TLSHost,
	}, nil
}
