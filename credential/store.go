package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// ErrNotFound means the keyring has no entry under the requested key.
var ErrNotFound = errors.New("no such keyring entry")

const defaultServiceName = "one-mailer"

// Config chooses the keyring to open.
type Config struct {
	// Keyring service name. Defaults to "one-mailer".
	ServiceName string `yaml:"serviceName"`
	// Directory for the encrypted-file fallback backend, used where no
	// OS keyring is available
	FileDir string `yaml:"fileDir"`
	// Passphrase for the encrypted-file backend
	FilePassphrase string `yaml:"filePassphrase"`
}

// Store wraps a keyring.Keyring.
type Store struct {
	ring keyring.Keyring
}

// Open opens the first available OS keyring backend.
func Open(c Config) (*Store, error) {
	sn := c.ServiceName
	if sn == "" {
		sn = defaultServiceName
	}
	fd := c.FileDir
	if fd == "" {
		fd = "~/.config/" + sn + "/credentials"
	}
	fp := c.FilePassphrase
	if fp == "" {
		fp = sn + "-file-key"
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName: sn,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fd,
		FilePasswordFunc:         keyring.FixedStringPrompt(fp),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("can't open the keyring: %w", err)
	}
	return NewStore(ring), nil
}

// NewStore uses ring as-is. Tests pass a keyring.NewArrayKeyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Get returns the secret stored under key.
func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("can't read credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("can't read credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores value under key, replacing any existing entry.
func (s *Store) Set(key, value string) error {
	if key == "" {
		return errors.New("a credential needs a key")
	}
	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: defaultServiceName + ": " + key,
	})
	if err != nil {
		return fmt.Errorf("can't store credential %q: %w", key, err)
	}
	return nil
}
