package routemonitor

import (
	"errors"
	"time"
)

const (
	// DefaultLockTimeout outlasts a typical leadership re-election
	DefaultLockTimeout = 30 * time.Second

	// DefaultParallelism bounds concurrent reaper tasks
	DefaultParallelism = 10
)

// ErrInvalidParallelism is returned for a negative parallelism
var ErrInvalidParallelism = errors.New("reaper parallelism cannot be negative")

// Config configures the route reaper
type Config struct {
	// LockTimeout bounds how long a deactivation event waits for the reaper lock
	LockTimeout time.Duration

	// Parallelism is the number of work items processed concurrently
	Parallelism int
}

// SetDefaults applies default values to unset fields
func (c *Config) SetDefaults() {
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.Parallelism == 0 {
		c.Parallelism = DefaultParallelism
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Parallelism < 0 {
		return ErrInvalidParallelism
	}
	return nil
}
