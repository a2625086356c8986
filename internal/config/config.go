// Package config loads the routemesh daemon configuration from TOML.
//
// Only keys present in the file override the defaults, so an empty file is a
// valid configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/rmacdonaldsmith/routemesh-go/internal/logging"
	"github.com/rmacdonaldsmith/routemesh-go/pkg/hostservice"
	"github.com/rmacdonaldsmith/routemesh-go/pkg/routing"
)

var (
	// ErrEmptyNodeID is returned when no node id is configured
	ErrEmptyNodeID = errors.New("node_id cannot be empty")
	// ErrMissingDataDir is returned when the reaper queue has no data directory
	ErrMissingDataDir = errors.New("reaper.data_dir is required unless reaper.in_memory is set")
	// ErrMissingSecret is returned when authentication is enabled without a secret
	ErrMissingSecret = errors.New("http.secret_key is required unless http.no_auth is set")
)

// Config is the daemon configuration
type Config struct {
	NodeID          string
	ResolverBuckets int
	HostBuckets     int

	Cluster ClusterConfig
	Hosts   []HostEntry
	Reaper  ReaperConfig
	HTTP    HTTPConfig
	GRPC    GRPCConfig
	Log     logging.Config
}

// ClusterConfig lists the static cluster membership
type ClusterConfig struct {
	Address string
	Peers   []Peer
}

// Peer is a remote cluster member
type Peer struct {
	ID      string
	Address string
}

// HostEntry is a statically known host. VLAN defaults to untagged.
type HostEntry struct {
	MAC  string
	VLAN routing.VlanID
	IPs  []string
}

// Host parses the entry.
func (e HostEntry) Host() (hostservice.Host, error) {
	mac, err := net.ParseMAC(e.MAC)
	if err != nil {
		return hostservice.Host{}, fmt.Errorf("host %q: %w", e.MAC, err)
	}
	if len(e.IPs) == 0 {
		return hostservice.Host{}, fmt.Errorf("host %q has no ips", e.MAC)
	}
	h := hostservice.Host{
		ID:   hostservice.NewHostID(mac, e.VLAN),
		MAC:  mac,
		VLAN: e.VLAN,
	}
	for _, raw := range e.IPs {
		ip, err := netip.ParseAddr(raw)
		if err != nil {
			return hostservice.Host{}, fmt.Errorf("host %q: %w", e.MAC, err)
		}
		h.IPAddresses = append(h.IPAddresses, ip)
	}
	return h, nil
}

// ReaperConfig configures the cluster-failure route reaper
type ReaperConfig struct {
	LockTimeout  time.Duration
	Parallelism  int
	LeaseTimeout time.Duration
	PollInterval time.Duration
	DataDir      string
	InMemory     bool
}

// HTTPConfig configures the HTTP API
type HTTPConfig struct {
	Listen    string
	SecretKey string
	NoAuth    bool
}

// GRPCConfig configures the gRPC health endpoint
type GRPCConfig struct {
	Listen string
}

// Default returns the configuration used when a key is absent from the file.
func Default() Config {
	return Config{
		NodeID: defaultNodeID(),
		Reaper: ReaperConfig{
			LockTimeout:  30 * time.Second,
			Parallelism:  10,
			LeaseTimeout: 5 * time.Minute,
			PollInterval: time.Second,
			DataDir:      "data/reaper",
		},
		HTTP: HTTPConfig{
			Listen: ":8081",
		},
		GRPC: GRPCConfig{
			Listen: ":9091",
		},
		Log: logging.DefaultConfig(),
	}
}

// defaultNodeID generates a default node ID based on hostname
func defaultNodeID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "routemesh-node-1"
	}
	return fmt.Sprintf("routemesh-%s", hostname)
}

// Validate validates the configuration and returns an error if invalid
func (c Config) Validate() error {
	if c.NodeID == "" {
		return ErrEmptyNodeID
	}
	if !c.Reaper.InMemory && c.Reaper.DataDir == "" {
		return ErrMissingDataDir
	}
	if !c.HTTP.NoAuth && c.HTTP.SecretKey == "" {
		return ErrMissingSecret
	}
	if c.Reaper.Parallelism <= 0 {
		return fmt.Errorf("reaper.parallelism must be positive, got %d", c.Reaper.Parallelism)
	}
	for _, p := range c.Cluster.Peers {
		if p.ID == "" {
			return fmt.Errorf("cluster peer %q has an empty id", p.Address)
		}
		if p.ID == c.NodeID {
			return fmt.Errorf("cluster peer id %q duplicates node_id", p.ID)
		}
	}
	for _, h := range c.Hosts {
		if _, err := h.Host(); err != nil {
			return err
		}
	}
	return c.Log.Validate()
}

type fileConfig struct {
	NodeID          string `toml:"node_id"`
	ResolverBuckets int    `toml:"resolver_buckets"`
	HostBuckets     int    `toml:"host_buckets"`

	Cluster struct {
		Address string `toml:"address"`
		Nodes   []struct {
			ID      string `toml:"id"`
			Address string `toml:"address"`
		} `toml:"nodes"`
	} `toml:"cluster"`

	Hosts []struct {
		MAC  string   `toml:"mac"`
		VLAN *int     `toml:"vlan"`
		IPs  []string `toml:"ips"`
	} `toml:"hosts"`

	Reaper struct {
		LockTimeout  string `toml:"lock_timeout"`
		Parallelism  int    `toml:"parallelism"`
		LeaseTimeout string `toml:"lease_timeout"`
		PollInterval string `toml:"poll_interval"`
		DataDir      string `toml:"data_dir"`
		InMemory     bool   `toml:"in_memory"`
	} `toml:"reaper"`

	HTTP struct {
		Listen    string `toml:"listen"`
		SecretKey string `toml:"secret_key"`
		NoAuth    bool   `toml:"no_auth"`
	} `toml:"http"`

	GRPC struct {
		Listen string `toml:"listen"`
	} `toml:"grpc"`

	Log struct {
		Level      string `toml:"level"`
		Encoding   string `toml:"encoding"`
		File       string `toml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
		MaxAgeDays int    `toml:"max_age_days"`
	} `toml:"log"`
}

// Load reads path and overlays the keys it defines onto Default().
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return overlay(raw, meta)
}

// Parse is Load for in-memory TOML.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return overlay(raw, meta)
}

func overlay(raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}

	cfg := Default()

	if meta.IsDefined("node_id") {
		cfg.NodeID = strings.TrimSpace(raw.NodeID)
	}
	if meta.IsDefined("resolver_buckets") {
		cfg.ResolverBuckets = raw.ResolverBuckets
	}
	if meta.IsDefined("host_buckets") {
		cfg.HostBuckets = raw.HostBuckets
	}

	if meta.IsDefined("cluster", "address") {
		cfg.Cluster.Address = strings.TrimSpace(raw.Cluster.Address)
	}
	for _, n := range raw.Cluster.Nodes {
		cfg.Cluster.Peers = append(cfg.Cluster.Peers, Peer{
			ID:      strings.TrimSpace(n.ID),
			Address: strings.TrimSpace(n.Address),
		})
	}

	for _, h := range raw.Hosts {
		entry := HostEntry{MAC: strings.TrimSpace(h.MAC), VLAN: routing.VlanNone}
		if h.VLAN != nil {
			if *h.VLAN < 0 || *h.VLAN > 4095 {
				return Config{}, fmt.Errorf("host %q: vlan %d out of range", entry.MAC, *h.VLAN)
			}
			entry.VLAN = routing.VlanID(*h.VLAN)
		}
		for _, ip := range h.IPs {
			entry.IPs = append(entry.IPs, strings.TrimSpace(ip))
		}
		cfg.Hosts = append(cfg.Hosts, entry)
	}

	durations := []struct {
		key    string
		raw    string
		target *time.Duration
	}{
		{"lock_timeout", raw.Reaper.LockTimeout, &cfg.Reaper.LockTimeout},
		{"lease_timeout", raw.Reaper.LeaseTimeout, &cfg.Reaper.LeaseTimeout},
		{"poll_interval", raw.Reaper.PollInterval, &cfg.Reaper.PollInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined("reaper", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse reaper.%s: %w", d.key, err)
		}
		*d.target = v
	}
	if meta.IsDefined("reaper", "parallelism") {
		cfg.Reaper.Parallelism = raw.Reaper.Parallelism
	}
	if meta.IsDefined("reaper", "data_dir") {
		cfg.Reaper.DataDir = strings.TrimSpace(raw.Reaper.DataDir)
	}
	if meta.IsDefined("reaper", "in_memory") {
		cfg.Reaper.InMemory = raw.Reaper.InMemory
	}

	if meta.IsDefined("http", "listen") {
		cfg.HTTP.Listen = strings.TrimSpace(raw.HTTP.Listen)
	}
	if meta.IsDefined("http", "secret_key") {
		cfg.HTTP.SecretKey = raw.HTTP.SecretKey
	}
	if meta.IsDefined("http", "no_auth") {
		cfg.HTTP.NoAuth = raw.HTTP.NoAuth
	}
	if meta.IsDefined("grpc", "listen") {
		cfg.GRPC.Listen = strings.TrimSpace(raw.GRPC.Listen)
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(raw.Log.Level))
	}
	if meta.IsDefined("log", "encoding") {
		cfg.Log.Encoding = strings.ToLower(strings.TrimSpace(raw.Log.Encoding))
	}
	if meta.IsDefined("log", "file") {
		cfg.Log.File = strings.TrimSpace(raw.Log.File)
	}
	if meta.IsDefined("log", "max_size_mb") {
		cfg.Log.MaxSizeMB = raw.Log.MaxSizeMB
	}
	if meta.IsDefined("log", "max_backups") {
		cfg.Log.MaxBackups = raw.Log.MaxBackups
	}
	if meta.IsDefined("log", "max_age_days") {
		cfg.Log.MaxAgeDays = raw.Log.MaxAgeDays
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
