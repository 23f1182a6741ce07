// Package logging provides the shared zerolog setup used across driftsync.
package logging

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu          sync.Mutex
	base        zerolog.Logger
	initialized bool
)

// Configure sets the base logger's level and output writer. Call once at
// process startup; safe to call again in tests to reset to a known state.
func Configure(level zerolog.Level, writer zerolog.LevelWriter) {
	mu.Lock()
	defer mu.Unlock()

	if writer == nil {
		base = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	} else {
		base = zerolog.New(writer).Level(level).With().Timestamp().Logger()
	}
	initialized = true
}

// WithComponent returns a logger tagged with component=name, the convention
// every driftsync package uses instead of passing *zerolog.Logger around.
func WithComponent(name string) zerolog.Logger {
	mu.Lock()
	if !initialized {
		base = zerolog.New(os.Stderr).Level(zerolog.InfoLevel).With().Timestamp().Logger()
		initialized = true
	}
	logger := base
	mu.Unlock()

	return logger.With().Str("component", name).Logger()
}
