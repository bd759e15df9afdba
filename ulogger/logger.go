// Package ulogger provides the structured logger used across headerd,
// wrapping zerolog the way the teacher's util package wraps it for its
// services.
package ulogger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the minimal logging surface every component depends on.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	New(service string) Logger
}

type zerologLogger struct {
	zerolog.Logger
	service string
}

// New constructs a named logger. Pretty console output unless
// NO_PRETTY_LOGS is set, matching the teacher's default.
func New(service string, logLevel ...string) Logger {
	if service == "" {
		service = "headerd"
	}

	var z zerologLogger

	if os.Getenv("NO_PRETTY_LOGS") != "" {
		z = zerologLogger{
			Logger: zerolog.New(os.Stdout).With().
				Timestamp().
				Logger(),
			service: service,
		}
	} else {
		z = zerologLogger{Logger: prettyLogger(service), service: service}
	}

	if len(logLevel) > 0 {
		z.Logger = z.Logger.Level(parseLevel(logLevel[0]))
	}

	return &z
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func prettyLogger(service string) zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}

	output.FormatTimestamp = func(i interface{}) string {
		s, ok := i.(string)
		if !ok {
			return ""
		}

		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return s
		}

		return parsed.Format("15:04:05")
	}

	output.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("| %-8s| %v", service, i)
	}

	return zerolog.New(output).With().Timestamp().Logger()
}

func (z *zerologLogger) New(service string) Logger {
	return &zerologLogger{Logger: z.Logger, service: service}
}

func (z *zerologLogger) Debugf(format string, args ...interface{}) {
	z.Logger.Debug().Msgf(format, args...)
}

func (z *zerologLogger) Infof(format string, args ...interface{}) {
	z.Logger.Info().Msgf(format, args...)
}

func (z *zerologLogger) Warnf(format string, args ...interface{}) {
	z.Logger.Warn().Msgf(format, args...)
}

func (z *zerologLogger) Errorf(format string, args ...interface{}) {
	z.Logger.Error().Msgf(format, args...)
}

// TestLogger returns a Logger suitable for use in tests: quiet, no pretty
// console formatting overhead.
func TestLogger() Logger {
	return &zerologLogger{Logger: zerolog.Nop(), service: "test"}
}
