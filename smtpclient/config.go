package smtpclient

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// EncryptionMode decides how a connection gets TLS, if at all.
type EncryptionMode int

const (
	// Connect in plaintext, then upgrade with STARTTLS. The default.
	EncryptionStartTLS EncryptionMode = iota
	// Wrap the connection in TLS at open time ("ssl" in older configs)
	EncryptionImplicitTLS
	// Never use TLS
	EncryptionNone
)

func (e EncryptionMode) String() string {
	switch e {
	case EncryptionImplicitTLS:
		return "implicit"
	case EncryptionNone:
		return "none"
	}
	return "starttls"
}

// ParseEncryptionMode accepts the mode names users tend to write. "ssl"
// means implicit TLS and "tls" means STARTTLS, as in most mailer configs.
func ParseEncryptionMode(s string) (EncryptionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tls", "starttls":
		return EncryptionStartTLS, nil
	case "ssl", "implicit":
		return EncryptionImplicitTLS, nil
	case "none":
		return EncryptionNone, nil
	}
	return 0, fmt.Errorf("unknown encryption mode %q (use starttls, implicit or none)", s)
}

// Default ports per encryption mode
const (
	portImplicitTLS = 465
	portStartTLS    = 587
	portPlain       = 25
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultCommandTimeout = 30 * time.Second
	defaultHeloName       = "localhost"
)

// Config holds connection and authentication settings for one SMTP server.
// Use CheckAndSetDefaults before handing it to a Session.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// Name of an OS keyring entry holding the password. Only consulted
	// when Password is empty (see userconfig.Meta.ResolveSecrets).
	KeyringItem string
	// Perform AUTH LOGIN after EHLO. Defaults to true in YAML configs.
	AuthRequired bool
	Encryption   EncryptionMode
	// Bounds the TCP connect and, for implicit TLS, the handshake
	ConnectTimeout time.Duration
	// Deadline for each read or write after connecting
	CommandTimeout time.Duration
	// Name we give in EHLO
	HeloName             string
	SkipCertVerification bool
	// Overrides the TLS settings derived from the fields above. Not
	// configurable in YAML. Tests use this to trust a generated CA.
	TLSConfig *tls.Config `yaml:"-"`
}

// UnmarshalYAML implements the yaml.Unmarshaler interface. Validation is
// performed here.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	err := unmarshal(&v)

	if err != nil {
		return fmt.Errorf("can't parse the SMTP config: %v", err)
	}

	h, ok := v["host"]
	if !ok || h == "" {
		return errors.New("the SMTP config must include a host")
	}
	c.Host = h

	if p, ok := v["port"]; ok {
		n, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("can't parse the SMTP port as an integer: %v", err)
		}
		c.Port = n
	}

	c.Username = v["username"]
	c.Password = v["password"]
	c.KeyringItem = v["keyringItem"]
	c.HeloName = v["heloName"]

	c.AuthRequired = true
	if a, ok := v["authRequired"]; ok {
		b, err := strconv.ParseBool(a)
		if err != nil {
			return fmt.Errorf("can't parse authRequired as a boolean: %v", err)
		}
		c.AuthRequired = b
	}

	if s, ok := v["skipCertVerification"]; ok {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("can't parse skipCertVerification as a boolean: %v", err)
		}
		c.SkipCertVerification = b
	}

	e, err := ParseEncryptionMode(v["encryption"])
	if err != nil {
		return err
	}
	c.Encryption = e

	for k, d := range map[string]*time.Duration{
		"connectTimeout": &c.ConnectTimeout,
		"commandTimeout": &c.CommandTimeout,
	} {
		s, ok := v[k]
		if !ok {
			continue
		}
		pd, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("can't parse %v as a duration: %v", k, err)
		}
		*d = pd
	}

	return nil
}

// CheckAndSetDefaults validates c and either returns a copy of c with default
// settings applied or returns an error due to an invalid configuration
func (c *Config) CheckAndSetDefaults() (Config, error) {
	n := *c

	if n.Host == "" {
		return Config{}, errors.New("must supply an SMTP host")
	}

	if n.Port == 0 {
		switch n.Encryption {
		case EncryptionImplicitTLS:
			n.Port = portImplicitTLS
		case EncryptionNone:
			n.Port = portPlain
		default:
			n.Port = portStartTLS
		}
	}
	if n.Port < 1 || n.Port > 65535 {
		return Config{}, fmt.Errorf("the SMTP port %v is out of range", n.Port)
	}

	if n.AuthRequired && (n.Username == "" || n.Password == "") {
		return Config{}, errors.New(
			"authentication is required, so you must supply a username and a password (or keyringItem)",
		)
	}

	if n.ConnectTimeout < 0 || n.CommandTimeout < 0 {
		return Config{}, errors.New("timeouts can't be negative")
	}
	if n.ConnectTimeout == 0 {
		n.ConnectTimeout = defaultConnectTimeout
	}
	if n.CommandTimeout == 0 {
		n.CommandTimeout = defaultCommandTimeout
	}
	if n.HeloName == "" {
		n.HeloName = defaultHeloName
	}

	return n, nil
}

// tlsConfig returns the settings for the client side of a handshake with
// c.Host.
func (c *Config) tlsConfig() *tls.Config {
	if c.TLSConfig != nil {
		tc := c.TLSConfig.Clone()
		if tc.ServerName == "" {
			tc.ServerName = c.Host
		}
		return tc
	}
	return &tls.Config{
		ServerName:         c.Host,
		InsecureSkipVerify: c.SkipCertVerification,
		MinVersion:         tls.VersionTLS12,
	}
}

func (c *Config) address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
