package userconfig

import (
	"errors"
	"fmt"
	"io"

	units "github.com/docker/go-units"
	yaml "gopkg.in/yaml.v2"

	"github.com/ptgott/one-mailer/credential"
	"github.com/ptgott/one-mailer/email"
	"github.com/ptgott/one-mailer/smtpclient"
	"github.com/ptgott/one-mailer/storage"
)

// Meta represents all current config options that the application can use,
// i.e., after validation and parsing
type Meta struct {
	SMTP        smtpclient.Config `yaml:"smtp"`
	Sender      SenderConfig      `yaml:"sender"`
	Attachments AttachmentConfig  `yaml:"attachments"`
	Journal     storage.KVConfig  `yaml:"journal"`
	Keyring     credential.Config `yaml:"keyring"`
}

// SenderConfig describes who our messages come from.
type SenderConfig struct {
	From     string
	FromName string
	// Defaults to From
	ReplyTo string
	// Right-hand side of generated Message-IDs. Defaults to the domain of
	// From.
	MessageIDDomain string
	// X-Mailer header and the name in the HTML footer
	Mailer string
}

// UnmarshalYAML parses a user-provided YAML configuration, returning any
// parsing errors.
func (s *SenderConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	err := unmarshal(&v)

	if err != nil {
		return fmt.Errorf("can't parse the sender config: %v", err)
	}

	f, ok := v["from"]
	if !ok || f == "" {
		return errors.New("the sender config must include a \"from\" address")
	}
	s.From = f
	s.FromName = v["fromName"]
	s.ReplyTo = v["replyTo"]
	s.MessageIDDomain = v["messageIdDomain"]
	s.Mailer = v["mailer"]

	return nil
}

// CheckAndSetDefaults validates s and either returns a copy of s with default
// settings applied or returns an error due to an invalid configuration
func (s *SenderConfig) CheckAndSetDefaults() (SenderConfig, error) {
	if s.From == "" {
		return SenderConfig{}, errors.New("must supply a \"from\" address")
	}
	n := *s
	if n.ReplyTo == "" {
		n.ReplyTo = n.From
	}
	if n.Mailer == "" {
		n.Mailer = email.DefaultMailer
	}
	return n, nil
}

// NewMessage starts a message from the configured sender.
func (s *SenderConfig) NewMessage() *email.Message {
	m := email.NewMessage(s.From, s.FromName)
	m.ReplyTo = s.ReplyTo
	m.MessageIDDomain = s.MessageIDDomain
	m.Mailer = s.Mailer
	return m
}

// AttachmentConfig limits what may be attached to a message.
type AttachmentConfig struct {
	// Largest file we'll attach, in bytes
	MaxSizeBytes int64
}

// UnmarshalYAML parses a user-provided YAML configuration, returning any
// parsing errors. maxSize takes decimal units, e.g., "5MB" or "750kB".
func (a *AttachmentConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	err := unmarshal(&v)

	if err != nil {
		return fmt.Errorf("can't parse the attachment config: %v", err)
	}

	if s, ok := v["maxSize"]; ok {
		n, err := units.FromHumanSize(s)
		if err != nil {
			return fmt.Errorf("can't parse maxSize as a size: %v", err)
		}
		a.MaxSizeBytes = n
	}

	return nil
}

// CheckAndSetDefaults validates a and either returns a copy of a with default
// settings applied or returns an error due to an invalid configuration
func (a *AttachmentConfig) CheckAndSetDefaults() (AttachmentConfig, error) {
	if a.MaxSizeBytes < 0 {
		return AttachmentConfig{}, errors.New("maxSize can't be negative")
	}
	n := *a
	if n.MaxSizeBytes == 0 {
		n.MaxSizeBytes = email.DefaultMaxAttachmentSize
	}
	return n, nil
}

// SecretStore looks up secrets by key. credential.Store implements it.
type SecretStore interface {
	Get(key string) (string, error)
}

// ResolveSecrets fills in the SMTP password from s when the config names a
// keyring item instead of giving the password inline.
func (m *Meta) ResolveSecrets(s SecretStore) error {
	if m.SMTP.Password != "" || m.SMTP.KeyringItem == "" {
		return nil
	}
	p, err := s.Get(m.SMTP.KeyringItem)
	if err != nil {
		return fmt.Errorf("can't read the SMTP password from the keyring: %w", err)
	}
	m.SMTP.Password = p
	return nil
}

// NeedsSecrets reports whether ResolveSecrets has anything to look up.
func (m *Meta) NeedsSecrets() bool {
	return m.SMTP.Password == "" && m.SMTP.KeyringItem != ""
}

// CheckAndSetDefaults validates m and either returns a copy of m with default
// settings applied or returns an error due to an invalid configuration
func (m *Meta) CheckAndSetDefaults() (Meta, error) {
	c := Meta{Keyring: m.Keyring}

	s, err := m.SMTP.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.SMTP = s

	sc, err := m.Sender.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Sender = sc

	a, err := m.Attachments.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Attachments = a

	j, err := m.Journal.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Journal = j

	return c, nil

}

// Parse generates usable configurations from possibly arbitrary user input.
// An error indicates a problem with parsing or validation. The Reader r
// can be either JSON or YAML.
func Parse(r io.Reader) (*Meta, error) {
	var m Meta
	err := yaml.NewDecoder(r).Decode(&m)
	if err != nil {
		return &Meta{}, fmt.Errorf("can't read the config file as YAML: %v", err)
	}

	if m.SMTP.Host == "" {
		return &Meta{}, errors.New("must include an \"smtp\" section")
	}

	if m.Sender == (SenderConfig{}) {
		return &Meta{}, errors.New("must include a \"sender\" section")
	}

	return &m, nil

}
