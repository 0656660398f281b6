// Package credential reads and writes secrets, such as the SMTP password,
// in the operating system's keyring so they don't have to sit in the config
// file.
package credential
