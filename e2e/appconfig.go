package e2e

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/ptgott/one-mailer/userconfig"
)

// appConfigOptions is used to fill in a config template with details unique to
// a specific test environment. Keep this as small as possible so the input
// remains as close to a "real" YAML document as we can make it.
//
// Fields are exported so we can use them in templates.
type appConfigOptions struct {
	Host        string
	Port        string
	Encryption  string
	KeyringItem string
	StorageDir  string
	MaxSize     string
}

const configTemplate = `---
smtp:
    host: {{ .Host }}
    port: {{ .Port }}
    encryption: {{ .Encryption }}
    username: myuser
    keyringItem: {{ .KeyringItem }}
    connectTimeout: 5s
    commandTimeout: 5s
sender:
    from: billing@example.com
    fromName: Billing Department
attachments:
    maxSize: {{ .MaxSize }}
journal:
    storageDir: {{ .StorageDir }}
    keyTTL: "1h"
`

// createUserConfig renders the config template and parses it the way the
// CLI parses a config file.
func createUserConfig(opts appConfigOptions) (*userconfig.Meta, error) {
	tmpl, err := template.New("conf").Parse(configTemplate)

	// This means the config template string was written incorrectly. Not
	// an issue with the application itself.
	if err != nil {
		return nil, fmt.Errorf("couldn't parse the application config template: %v", err)
	}

	var config bytes.Buffer

	err = tmpl.Execute(&config, opts)

	// This is an issue with the test environment, not the application
	if err != nil {
		return nil, fmt.Errorf("couldn't populate the application config template: %v", err)
	}

	return userconfig.Parse(&config)
}
