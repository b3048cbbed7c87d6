package main

import (
	"flag"
	"io"
	"os"
	"strings"

	"github.com/ptgott/mailroom/backend"
	"github.com/ptgott/mailroom/dispatch"
	"github.com/ptgott/mailroom/message"
	"github.com/ptgott/mailroom/userconfig"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Log with filename and line number. This writes to stderr, so it
	// should be thread safe.
	log.Logger = log.With().Caller().Logger()

	configPath := flag.String(
		"config",
		"./config.yaml",
		"path to a YAML file containing your delivery configuration",
	)
	subject := flag.String(
		"subject",
		"",
		"subject line of the message",
	)
	from := flag.String(
		"from",
		"",
		"sender address (defaults to the configured fromAddress)",
	)
	to := flag.String(
		"to",
		"",
		"comma-separated recipient addresses",
	)
	htmlBody := flag.Bool(
		"html",
		false,
		"treat stdin as HTML and attach a derived plain-text alternative",
	)
	level := flag.String(
		"level",
		"info",
		`log level: "info", "debug", or "warn"`,
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

	if *to == "" {
		log.Error().Msg("must supply at least one recipient via -to")
		os.Exit(1)
	}

	f, err := os.Open(*configPath)
	if err != nil {
		log.Error().
			Str("config-path", *configPath).
			Err(err).
			Msg("We can't open the application config file")
		os.Exit(1)
	}

	config, err := userconfig.Parse(f)
	f.Close()
	if err != nil {
		log.Error().
			Err(err).
			Msg("Problem parsing your config")
		os.Exit(1)
	}

	settings, err := config.CheckAndSetDefaults()
	if err != nil {
		log.Error().
			Err(err).
			Msg("Problem validating your config")
		os.Exit(1)
	}

	b, err := backend.New(settings)
	if err != nil {
		log.Error().
			Err(err).
			Msg("Problem setting up the delivery backend")
		os.Exit(1)
	}

	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		log.Error().
			Err(err).
			Msg("Problem reading the message body from stdin")
		os.Exit(1)
	}

	recipients := strings.Split(*to, ",")
	for i := range recipients {
		recipients[i] = strings.TrimSpace(recipients[i])
	}

	m := &message.Message{
		Subject: *subject,
		From:    *from,
		To:      recipients,
	}
	if *htmlBody {
		// The plain-text rendering goes first so readers that prefer
		// HTML pick the alternative.
		m.Body = message.TextFromHTML(string(body))
		m.AddAlternative(string(body), "html")
	} else {
		m.Body = string(body)
	}

	sent, err := dispatch.SendMessage(b, m, false)
	if err != nil {
		log.Error().
			Err(err).
			Msg("Problem delivering the message")
		os.Exit(1)
	}

	log.Info().
		Int("sent", sent).
		Str("backend", string(settings.Kind)).
		Msg("handed the message to the delivery backend")
}
