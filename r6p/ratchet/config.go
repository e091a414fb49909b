package ratchet

import (
	"github.com/decred/slog"

	"github.com/TheusHen/r6p/r6p/crypto"
)

// DefaultMaxSkip bounds how many links a single message may jump ahead.
const DefaultMaxSkip = 1000

// Config is fixed at construction and shared by every component of a
// session. Both peers must agree on Salt and the Provider's algorithms.
type Config struct {
	Provider crypto.Provider
	Salt     []byte
	// MaxSkip is the largest number of intermediate keys a receiver will
	// derive to catch up to one message.
	MaxSkip int
	// Logger receives diagnostics on failure paths only.
	Logger slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Provider: crypto.DefaultSuite(),
		Salt:     append([]byte(nil), crypto.DefaultSalt...),
		MaxSkip:  DefaultMaxSkip,
		Logger:   slog.Disabled,
	}
}

// normalize fills zero fields with defaults and detaches Salt from the
// caller's slice.
func (c Config) normalize() Config {
	if c.Provider == nil {
		c.Provider = crypto.DefaultSuite()
	}
	if len(c.Salt) == 0 {
		c.Salt = crypto.DefaultSalt
	}
	c.Salt = append([]byte(nil), c.Salt...)
	if c.MaxSkip <= 0 {
		c.MaxSkip = DefaultMaxSkip
	}
	if c.Logger == nil {
		c.Logger = slog.Disabled
	}
	return c
}
