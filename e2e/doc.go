package e2e

// e2e contains integration tests that run a send the way the CLI does:
// a YAML config goes through userconfig, the password comes out of a
// keyring, and dispatch.Run talks to a real SMTP server and writes to a real
// journal. (These were intended to be end-to-end tests but became
// integration tests instead, hence the name.)
