package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version    int              `yaml:"version"`
	Database   DatabaseConfig   `yaml:"database"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Probe      ProbeConfig      `yaml:"probe"`
	Cache      CacheConfig      `yaml:"cache"`
	Serial     SerialConfig     `yaml:"serial"`
	Scanners   ScannersConfig   `yaml:"scanners"`
	Allocation AllocationConfig `yaml:"allocation"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds the admin HTTP listener settings
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// RequestTimeout bounds validate and commit requests
	RequestTimeout Duration `yaml:"request_timeout"`
}

// LogConfig holds the log level (debug, info, warn, error; empty = silent)
type LogConfig struct {
	Level string `yaml:"level"`
}

// ProbeConfig controls how the probe tool is invoked
type ProbeConfig struct {
	Command string `yaml:"command"`
	// Fallback is tried when Command is not installed. nil selects the
	// default; an explicit empty string disables it.
	Fallback   *string       `yaml:"fallback,omitempty"`
	InfoArgs   []string      `yaml:"info_args,omitempty"`
	Timeout    Duration      `yaml:"timeout"`
	Attempts   int           `yaml:"attempts"`
	RetryDelay Duration      `yaml:"retry_delay"`
	Remote     *RemoteConfig `yaml:"remote,omitempty"`
}

// FallbackCommand returns the effective fallback command line
func (p ProbeConfig) FallbackCommand() string {
	if p.Fallback == nil {
		return DefaultProbeFallback
	}
	return *p.Fallback
}

// RemoteConfig runs the probe tool over SSH on a gateway host
type RemoteConfig struct {
	Host       string   `yaml:"host"`
	Port       int      `yaml:"port,omitempty"`
	User       string   `yaml:"user"`
	Password   string   `yaml:"password,omitempty"`
	KeyFile    string   `yaml:"key_file,omitempty"`
	Passphrase string   `yaml:"passphrase,omitempty"`
	Timeout    Duration `yaml:"timeout,omitempty"`
}

// CacheConfig controls the probe result cache
type CacheConfig struct {
	TTL Duration `yaml:"ttl"`
}

// SerialConfig controls the serial port liveness check
type SerialConfig struct {
	SkipCheck     bool     `yaml:"skip_check,omitempty"`
	CheckAttempts int      `yaml:"check_attempts"`
	CheckDelay    Duration `yaml:"check_delay"`
	BaudRate      int      `yaml:"baud_rate"`
}

// ScannersConfig selects candidate sources used when a commit names none
type ScannersConfig struct {
	Serial bool       `yaml:"serial"`
	MDNS   MDNSConfig `yaml:"mdns"`
	Nmap   NmapConfig `yaml:"nmap"`
	Static []string   `yaml:"static,omitempty"`
}

// MDNSConfig configures the mDNS scanner
type MDNSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Timeout Duration `yaml:"timeout,omitempty"`
}

// NmapConfig configures the nmap scanner
type NmapConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Targets           []string `yaml:"targets,omitempty"`
	Ports             string   `yaml:"ports,omitempty"`
	Timeout           Duration `yaml:"timeout,omitempty"`
	SkipHostDiscovery bool     `yaml:"skip_host_discovery,omitempty"`
}

// AllocationConfig holds defaults for commit requests
type AllocationConfig struct {
	Mode          string `yaml:"mode"`
	ManualPrimary string `yaml:"manual_primary,omitempty"`
	AutoCommit    bool   `yaml:"auto_commit"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
