package config

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func parseLevel(level string) (zerolog.Level, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log level %q: %w", level, err)
	}

	return lvl, nil
}

// NewLogger builds the root logger for the configured level and format.
func (c Config) NewLogger(w io.Writer) (zerolog.Logger, error) {
	lvl, err := parseLevel(c.LogLevel)
	if err != nil {
		return zerolog.Nop(), err
	}

	if c.LogFormat == LogFormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// SetupLogging installs the configured logger as the global zerolog logger.
func (c Config) SetupLogging(w io.Writer) error {
	logger, err := c.NewLogger(w)
	if err != nil {
		return err
	}

	zerolog.SetGlobalLevel(logger.GetLevel())
	log.Logger = logger

	return nil
}
