// Package config loads the roster's YAML configuration.
//
// Config file locations (priority order):
//  1. $MESHROSTER_CONFIG
//  2. ./meshroster.yaml
//  3. $XDG_CONFIG_HOME/meshroster/config.yaml
//  4. ~/.config/meshroster/config.yaml
//  5. /etc/meshroster/config.yaml
//
// Missing sections and zero values are filled with defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when a value is absent
const (
	DefaultDatabasePath     = "./meshroster.db"
	DefaultServerAddr       = ":8420"
	DefaultRequestTimeout   = 2 * time.Minute
	DefaultProbeCommand     = "meshtastic"
	DefaultProbeFallback    = "python3 -m meshtastic"
	DefaultProbeTimeout     = 8 * time.Second
	DefaultProbeAttempts    = 3
	DefaultProbeRetryDelay  = time.Second
	DefaultCacheTTL         = 8 * time.Second
	DefaultSerialAttempts   = 3
	DefaultSerialDelay      = 500 * time.Millisecond
	DefaultBaudRate         = 115200
	DefaultMDNSTimeout      = 5 * time.Second
	DefaultNmapPorts        = "4403"
	DefaultNmapTimeout      = 2 * time.Minute
	DefaultAllocationMode   = "auto"
	DefaultRemoteSSHPort    = 22
	DefaultRemoteSSHTimeout = 10 * time.Second
)

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		return DefaultConfig(), "", nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return &cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	cfg := &Config{
		Scanners: ScannersConfig{Serial: true},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	setDuration(&c.Server.RequestTimeout, DefaultRequestTimeout)

	if c.Probe.Command == "" {
		c.Probe.Command = DefaultProbeCommand
	}
	if len(c.Probe.InfoArgs) == 0 {
		c.Probe.InfoArgs = []string{"--info"}
	}
	setDuration(&c.Probe.Timeout, DefaultProbeTimeout)
	if c.Probe.Attempts <= 0 {
		c.Probe.Attempts = DefaultProbeAttempts
	}
	setDuration(&c.Probe.RetryDelay, DefaultProbeRetryDelay)
	if r := c.Probe.Remote; r != nil {
		if r.Port == 0 {
			r.Port = DefaultRemoteSSHPort
		}
		setDuration(&r.Timeout, DefaultRemoteSSHTimeout)
	}

	setDuration(&c.Cache.TTL, DefaultCacheTTL)

	if c.Serial.CheckAttempts <= 0 {
		c.Serial.CheckAttempts = DefaultSerialAttempts
	}
	setDuration(&c.Serial.CheckDelay, DefaultSerialDelay)
	if c.Serial.BaudRate <= 0 {
		c.Serial.BaudRate = DefaultBaudRate
	}

	setDuration(&c.Scanners.MDNS.Timeout, DefaultMDNSTimeout)
	if c.Scanners.Nmap.Ports == "" {
		c.Scanners.Nmap.Ports = DefaultNmapPorts
	}
	setDuration(&c.Scanners.Nmap.Timeout, DefaultNmapTimeout)

	if c.Allocation.Mode == "" {
		c.Allocation.Mode = DefaultAllocationMode
	}
}

func setDuration(d *Duration, def time.Duration) {
	if *d <= 0 {
		*d = Duration(def)
	}
}

// Validate reports settings that cannot work
func (c *Config) Validate() error {
	var problems []string

	switch strings.ToLower(c.Allocation.Mode) {
	case "auto", "manual":
	default:
		problems = append(problems, fmt.Sprintf("allocation.mode must be auto or manual, got %q", c.Allocation.Mode))
	}
	if c.Scanners.Nmap.Enabled && len(c.Scanners.Nmap.Targets) == 0 {
		problems = append(problems, "scanners.nmap.enabled requires at least one target")
	}
	if r := c.Probe.Remote; r != nil {
		if r.Host == "" {
			problems = append(problems, "probe.remote.host is required")
		}
		if r.User == "" {
			problems = append(problems, "probe.remote.user is required")
		}
		if r.Password == "" && r.KeyFile == "" {
			problems = append(problems, "probe.remote needs a password or key_file")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ScannersEnabled lists the names of enabled candidate scanners
func (c *Config) ScannersEnabled() []string {
	var names []string
	if c.Scanners.Serial {
		names = append(names, "serial")
	}
	if c.Scanners.MDNS.Enabled {
		names = append(names, "mdns")
	}
	if c.Scanners.Nmap.Enabled {
		names = append(names, "nmap")
	}
	if len(c.Scanners.Static) > 0 {
		names = append(names, "static")
	}
	return names
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	probeAt := "local"
	if c.Probe.Remote != nil {
		probeAt = fmt.Sprintf("%s@%s", c.Probe.Remote.User, c.Probe.Remote.Host)
	}
	summary := fmt.Sprintf("Database: %s, Listen: %s\n", c.Database.Path, c.Server.Addr)
	summary += fmt.Sprintf("Probe: %q (%s), attempts %d, timeout %s, cache %s\n",
		c.Probe.Command, probeAt, c.Probe.Attempts, c.Probe.Timeout.Duration(), c.Cache.TTL.Duration())
	summary += fmt.Sprintf("Scanners: %s", strings.Join(c.ScannersEnabled(), " "))
	return summary
}
