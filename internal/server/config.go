package server

import (
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultPort is the port the shell client dials.
	DefaultPort = 12345
	// DefaultMaxLineBytes bounds a single request line.
	DefaultMaxLineBytes = 64 * 1024
)

// Config holds listener and per-connection settings.
type Config struct {
	Addr           string        // listen address, e.g. ":12345"
	MaxConnections int           // 0 for unlimited
	IdleTimeout    time.Duration // 0 disables the read deadline
	MaxLineBytes   int           // longest accepted request line
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Addr:         ":12345",
		MaxLineBytes: DefaultMaxLineBytes,
	}
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	if c.MaxConnections < 0 {
		return errors.New("max connections must be non-negative")
	}
	if c.IdleTimeout < 0 {
		return errors.New("idle timeout must be non-negative")
	}
	if c.MaxLineBytes < 0 {
		return errors.New("max line bytes must be non-negative")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.MaxLineBytes == 0 {
		c.MaxLineBytes = DefaultMaxLineBytes
	}
	return c
}
