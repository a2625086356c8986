package routemanager

import (
	"errors"
)

var (
	// ErrEmptyNodeID is returned when node ID is empty
	ErrEmptyNodeID = errors.New("node ID cannot be empty")
)

// Config represents configuration for a route Manager
type Config struct {
	// NodeID identifies this control-plane node; routes declared through this
	// manager are tagged with it when the caller leaves SourceNode empty
	NodeID string

	// ResolverBuckets is the number of prefix resolution buckets.
	// Zero or negative selects one bucket per CPU.
	ResolverBuckets int

	// HostBuckets is the number of host re-resolution buckets.
	// Zero or negative selects one bucket per CPU.
	HostBuckets int

	// MonitoredIPCache bounds the resolver's memory of next hops already
	// registered with host discovery
	MonitoredIPCache int
}

// NewConfig creates a new Manager configuration with safe defaults
func NewConfig(nodeID string) *Config {
	return &Config{
		NodeID: nodeID,
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return ErrEmptyNodeID
	}
	return nil
}

// WithResolverBuckets sets the number of prefix resolution buckets
func (c *Config) WithResolverBuckets(n int) *Config {
	c.ResolverBuckets = n
	return c
}

// WithHostBuckets sets the number of host re-resolution buckets
func (c *Config) WithHostBuckets(n int) *Config {
	c.HostBuckets = n
	return c
}

// WithMonitoredIPCache sets the size of the monitored next-hop cache
func (c *Config) WithMonitoredIPCache(n int) *Config {
	c.MonitoredIPCache = n
	return c
}
