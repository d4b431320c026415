// Package logger provides the structured zerolog logger shared by every
// component.
package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

var global = zerolog.Nop()

// New creates a logger writing to the console and, when file is set, to file.
// An unknown level falls back to info.
func New(level, file string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	writers := []io.Writer{
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"},
	}

	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
			return zerolog.Nop(), err
		}
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), err
		}
		writers = append(writers, f)
	}

	return zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().
		Timestamp().
		Str("app", "xhscollect").
		Logger(), nil
}

// Init builds the global logger.
func Init(level, file string) error {
	l, err := New(level, file)
	if err != nil {
		return err
	}
	global = l
	return nil
}

// Get returns the global logger, a no-op logger until Init is called.
func Get() zerolog.Logger {
	return global
}

// Component returns the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return global.With().Str("component", name).Logger()
}
