// Package logger provides leveled structured logging.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var defaultLogger = zerolog.Nop()

// Init initializes the default logger with the specified level and format.
// Format "text" writes human-readable console lines; anything else writes JSON.
func Init(level string, format string) {
	InitWithWriter(level, format, os.Stderr)
}

// InitWithWriter is Init with an explicit destination.
func InitWithWriter(level string, format string, w io.Writer) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := w
	ctx := zerolog.New(out).With().Timestamp()
	if strings.ToLower(format) == "text" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02 15:04:05.000000", NoColor: true}
		ctx = zerolog.New(out).With().Timestamp().CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 1)
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	defaultLogger = ctx.Logger().Level(lvl)
}

func Debug(format string, args ...interface{}) {
	defaultLogger.Debug().Msgf(format, args...)
}

func Info(format string, args ...interface{}) {
	defaultLogger.Info().Msgf(format, args...)
}

func Warn(format string, args ...interface{}) {
	defaultLogger.Warn().Msgf(format, args...)
}

func Error(format string, args ...interface{}) {
	defaultLogger.Error().Msgf(format, args...)
}

func Fatal(format string, args ...interface{}) {
	defaultLogger.WithLevel(zerolog.FatalLevel).Msgf(format, args...)
	os.Exit(1)
}

// Entry is a logger carrying fixed fields, e.g. a fixture id.
type Entry struct {
	l zerolog.Logger
}

// With returns an Entry that adds key=value to every line.
func With(key string, value interface{}) Entry {
	return Entry{l: defaultLogger.With().Interface(key, value).Logger()}
}

// With adds another field.
func (e Entry) With(key string, value interface{}) Entry {
	return Entry{l: e.l.With().Interface(key, value).Logger()}
}

func (e Entry) Debug(format string, args ...interface{}) {
	e.l.Debug().Msgf(format, args...)
}

func (e Entry) Info(format string, args ...interface{}) {
	e.l.Info().Msgf(format, args...)
}

func (e Entry) Warn(format string, args ...interface{}) {
	e.l.Warn().Msgf(format, args...)
}

func (e Entry) Error(format string, args ...interface{}) {
	e.l.Error().Msgf(format, args...)
}
