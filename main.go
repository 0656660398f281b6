package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ptgott/one-mailer/credential"
	"github.com/ptgott/one-mailer/dispatch"
	"github.com/ptgott/one-mailer/storage"
	"github.com/ptgott/one-mailer/userconfig"
)

// listFlag collects every occurrence of a repeatable flag.
type listFlag []string

func (l *listFlag) String() string {
	return strings.Join(*l, ", ")
}

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	// Log with filename and line number. This writes to stderr, so it should
	// be thread safe.
	// https://github.com/rs/zerolog/blob/7ccd4c940bf8a02fcc5f10e5475f9d3daff04d57/log/log.go#L13
	log.Logger = log.With().Caller().Logger()

	// An interrupt cancels the send in progress, which closes the
	// connection, rather than leaving it half-open.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func(c chan os.Signal) {
		<-c
		log.Info().Msg("interrupt: abandoning the send")
		cancel()
	}(sigCh)

	var to, cc, bcc, attach listFlag
	configPath := flag.String(
		"config",
		"./config.yaml",
		"path to a JSON or YAML file containing your configuration",
	)
	level := flag.String(
		"level",
		"info",
		`log level: "info", "debug", or "warn"`,
	)
	flag.Var(&to, "to", `recipient, as "addr" or "Name <addr>" (repeatable)`)
	flag.Var(&cc, "cc", "carbon-copy recipient (repeatable)")
	flag.Var(&bcc, "bcc", "blind carbon-copy recipient (repeatable)")
	flag.Var(&attach, "attach", `file to attach, as "path[;name[;mime type]]" (repeatable)`)
	subject := flag.String("subject", "", "message subject")
	htmlPath := flag.String("html", "", "path to a file containing the HTML body")
	textPath := flag.String(
		"text",
		"",
		"path to a file containing the plain text body (derived from the HTML if absent)",
	)
	lookup := flag.String(
		"lookup",
		"",
		"print the journal record for this Message-ID and exit",
	)
	dryRun := flag.Bool(
		"dryrun",
		false,
		"print the MIME message to stdout instead of sending it",
	)
	storePassword := flag.Bool(
		"store-password",
		false,
		"read the SMTP password from stdin, save it in the keyring under smtp.keyringItem, and exit",
	)
	flag.Parse()

	switch *level {
	case "debug":
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	case "warn":
		log.Logger = log.Logger.Level(zerolog.WarnLevel)
	default:
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	log.Info().
		Str("configPath", *configPath).
		Msg("starting the application")

	f, err := os.Open(*configPath)

	if err != nil {
		log.Error().
			Str("config-path", *configPath).
			Err(err).
			Msg("We can't open the application config file")
		return 1
	}

	config, err := userconfig.Parse(f)
	f.Close()

	if err != nil {
		log.Error().
			Err(err).
			Msg("Problem parsing your config")
		return 1
	}

	if *storePassword {
		return savePassword(config)
	}

	if config.NeedsSecrets() {
		ks, err := credential.Open(config.Keyring)
		if err == nil {
			err = config.ResolveSecrets(ks)
		}
		if err != nil {
			log.Error().
				Err(err).
				Str("keyringItem", config.SMTP.KeyringItem).
				Msg("Problem reading the SMTP password from the keyring")
			return 1
		}
	}

	checkedConfig, err := config.CheckAndSetDefaults()
	if err != nil {
		log.Error().
			Err(err).
			Msg("Problem validating your config")
		return 1
	}

	log.Info().Str("configPath", *configPath).Msg("successfully validated the config")

	journal, err := storage.OpenJournal(checkedConfig.Journal, log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("Problem opening the journal")
		return 1
	}
	defer func() {
		if err := journal.Close(); err != nil {
			log.Warn().Err(err).Msg("Problem closing the journal")
		}
	}()

	if *lookup != "" {
		return printRecord(journal, *lookup)
	}

	req := dispatch.Request{
		To:          to,
		Cc:          cc,
		Bcc:         bcc,
		Subject:     *subject,
		Attachments: attach,
		DryRun:      *dryRun,
	}
	if *htmlPath != "" {
		b, err := os.ReadFile(*htmlPath)
		if err != nil {
			log.Error().Err(err).Str("path", *htmlPath).Msg("Can't read the HTML body")
			return 1
		}
		req.HTML = string(b)
	}
	if *textPath != "" {
		b, err := os.ReadFile(*textPath)
		if err != nil {
			log.Error().Err(err).Str("path", *textPath).Msg("Can't read the text body")
			return 1
		}
		req.Text = string(b)
	}

	id, err := dispatch.Run(ctx, &dispatch.Config{
		Meta:     &checkedConfig,
		Journal:  journal,
		OutputWr: os.Stdout, // for -dryrun
		Logger:   log.Logger,
	}, req)
	if err != nil {
		log.Error().Err(err).Msg("The message was not sent")
		return 1
	}

	if *dryRun {
		fmt.Fprint(os.Stdout, "\r\n")
		return 0
	}
	fmt.Fprintln(os.Stdout, id)
	return 0
}

func printRecord(j *storage.Journal, id string) int {
	r, err := j.Lookup(id)
	if err != nil {
		log.Error().Err(err).Str("message_id", id).Msg("Can't find the message in the journal")
		return 1
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Can't print the record")
		return 1
	}
	fmt.Fprintln(os.Stdout, string(b))
	return 0
}

func savePassword(config *userconfig.Meta) int {
	if config.SMTP.KeyringItem == "" {
		log.Error().Msg("smtp.keyringItem must name the keyring entry to write")
		return 1
	}
	ks, err := credential.Open(config.Keyring)
	if err != nil {
		log.Error().Err(err).Msg("Problem opening the keyring")
		return 1
	}
	fmt.Fprint(os.Stderr, "SMTP password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		log.Error().Err(err).Msg("Can't read the password from stdin")
		return 1
	}
	if err := ks.Set(config.SMTP.KeyringItem, strings.TrimRight(line, "\r\n")); err != nil {
		log.Error().Err(err).Msg("Problem saving the password")
		return 1
	}
	log.Info().Str("keyringItem", config.SMTP.KeyringItem).Msg("saved the SMTP password")
	return 0
}
