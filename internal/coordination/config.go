package coordination

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

var (
	// ErrEmptyQueueName is returned when a queue has no name
	ErrEmptyQueueName = errors.New("work queue name cannot be empty")
	// ErrMissingDir is returned when a persistent queue has no data directory
	ErrMissingDir = errors.New("work queue data directory is required unless in-memory")
)

// QueueConfig configures a BadgerWorkQueue
type QueueConfig struct {
	// Name namespaces the queue's keys so several queues can share one database
	Name string

	// Dir is the badger data directory; ignored when InMemory is set
	Dir string

	// InMemory keeps the queue in memory only (tests)
	InMemory bool

	// LeaseTimeout is how long an item may stay in flight before it is handed
	// to another worker
	LeaseTimeout time.Duration

	// PollInterval bounds how long an idle dispatcher waits before rescanning
	PollInterval time.Duration

	// Clock drives leases and polling; defaults to the wall clock
	Clock clock.Clock

	Logger *zap.Logger
}

// SetDefaults applies default values to unset fields
func (c *QueueConfig) SetDefaults() {
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 5 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Validate checks the configuration
func (c *QueueConfig) Validate() error {
	if c.Name == "" {
		return ErrEmptyQueueName
	}
	if !c.InMemory && c.Dir == "" {
		return ErrMissingDir
	}
	return nil
}
