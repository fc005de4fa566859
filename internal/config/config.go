// Package config loads peerkeeper settings from YAML or TOML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"peerkeeper/internal/backoff"
	"peerkeeper/internal/monitor"
	"peerkeeper/internal/storage"
)

// Config represents configuration data for the supervisor process.
type Config struct {
	NodeID            string        `yaml:"node_id" toml:"node_id"`
	ListenAddr        string        `yaml:"listen_addr" toml:"listen_addr"`
	Debug             bool          `yaml:"debug" toml:"debug"`
	KeepAliveInterval Duration      `yaml:"keep_alive_interval" toml:"keep_alive_interval"`
	ConnectTimeout    Duration      `yaml:"connect_timeout" toml:"connect_timeout"`
	PingTimeout       Duration      `yaml:"ping_timeout" toml:"ping_timeout"`
	Backoff           BackoffConfig `yaml:"backoff" toml:"backoff"`
	Peers             []string      `yaml:"peers" toml:"peers"`
	PeerListURL       string        `yaml:"peer_list_url" toml:"peer_list_url"`
	PeerListToken     string        `yaml:"peer_list_token" toml:"peer_list_token"`
	ExcludedPrefixes  []string      `yaml:"excluded_prefixes" toml:"excluded_prefixes"`
	NetworkWatch      bool          `yaml:"network_watch" toml:"network_watch"`
	HistoryFile       string        `yaml:"history_file" toml:"history_file"`
	HistoryLimit      int           `yaml:"history_limit" toml:"history_limit"`
	AutoStart         bool          `yaml:"auto_start" toml:"auto_start"`
}

// BackoffConfig selects the reconnect policy.
type BackoffConfig struct {
	Variant     string   `yaml:"variant" toml:"variant"`
	Initial     Duration `yaml:"initial" toml:"initial"`
	MaxRetries  int      `yaml:"max_retries" toml:"max_retries"`
	MaxInterval Duration `yaml:"max_interval" toml:"max_interval"`
}

// Duration accepts Go duration strings ("1m30s") in both file formats.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalYAML parses the scalar as a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// DefaultConfig returns sensible defaults in case no configuration file is provided.
func DefaultConfig() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "peerkeeper-local"
	}
	timing := monitor.DefaultTiming()
	bo := backoff.DefaultConfig()

	return Config{
		NodeID:            hostname,
		ListenAddr:        ":8080",
		KeepAliveInterval: Duration(timing.KeepAliveInterval),
		ConnectTimeout:    Duration(timing.ConnectTimeout),
		PingTimeout:       Duration(timing.PingTimeout),
		Backoff: BackoffConfig{
			Variant:     bo.Variant,
			Initial:     Duration(bo.Initial),
			MaxRetries:  bo.MaxRetries,
			MaxInterval: Duration(bo.MaxInterval),
		},
		ExcludedPrefixes: append([]string(nil), monitor.DefaultExcludedPrefixes...),
		NetworkWatch:     true,
		HistoryLimit:     storage.DefaultLimit,
		AutoStart:        true,
	}
}

// Load reads configuration from a YAML file, or TOML when the path ends in
// .toml. Missing files fall back to defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(content, &cfg)
	} else {
		err = yaml.Unmarshal(content, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	def := DefaultConfig()
	if c.NodeID == "" {
		c.NodeID = def.NodeID
	}
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = def.KeepAliveInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = def.PingTimeout
	}
	if c.Backoff.Initial <= 0 {
		c.Backoff.Initial = def.Backoff.Initial
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if _, err := c.Policy(); err != nil {
		return fmt.Errorf("backoff: %w", err)
	}
	return nil
}

// Policy builds the configured backoff policy.
func (c Config) Policy() (backoff.Policy, error) {
	return backoff.FromConfig(backoff.Config{
		Variant:     c.Backoff.Variant,
		Initial:     c.Backoff.Initial.Std(),
		MaxRetries:  c.Backoff.MaxRetries,
		MaxInterval: c.Backoff.MaxInterval.Std(),
	})
}

// Timing returns the supervisor intervals.
func (c Config) Timing() monitor.Timing {
	return monitor.Timing{
		KeepAliveInterval: c.KeepAliveInterval.Std(),
		ConnectTimeout:    c.ConnectTimeout.Std(),
		PingTimeout:       c.PingTimeout.Std(),
	}
}
