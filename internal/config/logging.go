package config

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging configures the global logger. format "json" writes one JSON
// object per line; anything else uses the console writer.
func SetupLogging(level, format, instance string) {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	var l zerolog.Logger
	if strings.EqualFold(format, "json") {
		l = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		l = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = l.With().Str("instance", instance).Logger()
}
