package smtpclient

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestUnmarshalYAML(t *testing.T) {
	testCases := []struct {
		description   string
		input         string
		shouldBeError bool
	}{
		{
			description: "valid case",
			input: `host: smtp.example.com
port: 587
username: MyUser123
password: 123456-A_BCDE
encryption: starttls
connectTimeout: 5s
commandTimeout: 1m
`,
			shouldBeError: false,
		},
		{
			description: "legacy encryption name",
			input: `host: smtp.example.com
encryption: ssl
username: MyUser123
password: 123456-A_BCDE
`,
			shouldBeError: false,
		},
		{
			description: "no host",
			input: `port: 587
username: MyUser123
password: 123456-A_BCDE
`,
			shouldBeError: true,
		},
		{
			description: "port not a number",
			input: `host: smtp.example.com
port: submission
`,
			shouldBeError: true,
		},
		{
			description: "unknown encryption",
			input: `host: smtp.example.com
encryption: rot13
`,
			shouldBeError: true,
		},
		{
			description: "timeout not a duration",
			input: `host: smtp.example.com
connectTimeout: "10"
`,
			shouldBeError: true,
		},
		{
			description: "authRequired not a bool",
			input: `host: smtp.example.com
authRequired: sometimes
`,
			shouldBeError: true,
		},
		{
			description:   "not a map",
			input:         `[]`,
			shouldBeError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			var c Config
			err := yaml.NewDecoder(bytes.NewBufferString(tc.input)).Decode(&c)
			if (err != nil) != tc.shouldBeError {
				t.Errorf(
					"%v: expected error status to be %v but got %v with error %v",
					tc.description,
					tc.shouldBeError,
					err != nil,
					err,
				)
			}
		})
	}
}

func TestUnmarshalYAMLDefaults(t *testing.T) {
	var c Config
	require.NoError(t, yaml.Unmarshal([]byte("host: smtp.example.com\n"), &c))
	assert.True(t, c.AuthRequired)
	assert.Equal(t, EncryptionStartTLS, c.Encryption)

	require.NoError(t, yaml.Unmarshal([]byte("host: smtp.example.com\nauthRequired: false\nencryption: tls\n"), &c))
	assert.False(t, c.AuthRequired)
	assert.Equal(t, EncryptionStartTLS, c.Encryption)
}

func TestCheckAndSetDefaults(t *testing.T) {
	testCases := []struct {
		description   string
		input         Config
		shouldBeError bool
		expectedPort  int
	}{
		{
			description:  "starttls default port",
			input:        Config{Host: "smtp.example.com"},
			expectedPort: 587,
		},
		{
			description:  "implicit TLS default port",
			input:        Config{Host: "smtp.example.com", Encryption: EncryptionImplicitTLS},
			expectedPort: 465,
		},
		{
			description:  "plaintext default port",
			input:        Config{Host: "smtp.example.com", Encryption: EncryptionNone},
			expectedPort: 25,
		},
		{
			description:  "explicit port",
			input:        Config{Host: "smtp.example.com", Port: 2525},
			expectedPort: 2525,
		},
		{
			description:   "no host",
			input:         Config{Port: 25},
			shouldBeError: true,
		},
		{
			description:   "port out of range",
			input:         Config{Host: "smtp.example.com", Port: 70000},
			shouldBeError: true,
		},
		{
			description:   "auth without a password",
			input:         Config{Host: "smtp.example.com", AuthRequired: true, Username: "u"},
			shouldBeError: true,
		},
		{
			description:  "auth with credentials",
			input:        Config{Host: "smtp.example.com", AuthRequired: true, Username: "u", Password: "p"},
			expectedPort: 587,
		},
		{
			description:   "negative timeout",
			input:         Config{Host: "smtp.example.com", CommandTimeout: -time.Second},
			shouldBeError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			c, err := tc.input.CheckAndSetDefaults()
			if tc.shouldBeError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedPort, c.Port)
			assert.Equal(t, 10*time.Second, c.ConnectTimeout)
			assert.Equal(t, 30*time.Second, c.CommandTimeout)
			assert.Equal(t, "localhost", c.HeloName)
		})
	}
}

func TestTLSConfigServerName(t *testing.T) {
	c := Config{Host: "smtp.example.com", SkipCertVerification: true}
	tc := c.tlsConfig()
	assert.Equal(t, "smtp.example.com", tc.ServerName)
	assert.True(t, tc.InsecureSkipVerify)
}
