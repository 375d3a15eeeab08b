// Package config loads the inventory file: which devices exist, how to reach
// them and which definition drives their CLI.
//
//	log_level: info
//	log_format: json
//	redis:
//	  addr: localhost:6379
//	devices:
//	  r1:
//	    definition: devices/ios.yaml
//	    transport:
//	      kind: ssh
//	      params: {host: 10.0.0.1, user: admin, password: ${R1_PASSWORD}}
//	    credentials: {username: admin, password: ${R1_PASSWORD}}
//	    reconnect: {enabled: true, max_retries: 3}
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aretw0/promptgraph/internal/logging"
	"github.com/aretw0/promptgraph/pkg/connect"
	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/session"
	"gopkg.in/yaml.v3"
)

// ErrDeviceNotFound is returned when the inventory has no such device.
var ErrDeviceNotFound = errors.New("device not found")

// Config is the inventory.
type Config struct {
	LogLevel  string            `mapstructure:"log_level"`
	LogFormat string            `mapstructure:"log_format"`
	HTTP      HTTP              `mapstructure:"http"`
	Metrics   Metrics           `mapstructure:"metrics"`
	Redis     *Redis            `mapstructure:"redis"`
	Devices   map[string]Device `mapstructure:"devices"`
}

// HTTP configures the serve command.
type HTTP struct {
	Listen string `mapstructure:"listen"`
}

// Metrics configures the Prometheus collectors.
type Metrics struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// Redis enables cross-process console leases.
type Redis struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// Device describes one appliance.
type Device struct {
	// Definition is the device definition file, relative to the inventory.
	Definition     string             `mapstructure:"definition"`
	Transport      Transport          `mapstructure:"transport"`
	Credentials    domain.Credentials `mapstructure:"credentials"`
	Reconnect      Reconnect          `mapstructure:"reconnect"`
	HopWise        *bool              `mapstructure:"hop_wise"`
	CommandTimeout time.Duration      `mapstructure:"command_timeout"`
	HopTimeout     time.Duration      `mapstructure:"hop_timeout"`
	ProbeWait      time.Duration      `mapstructure:"probe_wait"`
	// Transcript appends everything the device prints to this file.
	Transcript string `mapstructure:"transcript"`
}

// Transport selects a connect.Factory kind and its parameters.
type Transport struct {
	Kind   string         `mapstructure:"kind"`
	Params map[string]any `mapstructure:"params"`
}

// Reconnect is the YAML form of session.ReconnectPolicy.
type Reconnect struct {
	Enabled    bool          `mapstructure:"enabled"`
	MaxRetries int           `mapstructure:"max_retries"`
	Markers    []string      `mapstructure:"markers"`
	Pause      time.Duration `mapstructure:"pause"`
}

// Policy converts r, defaulting MaxRetries when recovery is enabled.
func (r Reconnect) Policy() session.ReconnectPolicy {
	p := session.ReconnectPolicy{
		Enabled:    r.Enabled,
		MaxRetries: r.MaxRetries,
		Markers:    r.Markers,
		Pause:      r.Pause,
	}
	if p.Enabled && p.MaxRetries == 0 {
		p.MaxRetries = session.DefaultReconnectPolicy().MaxRetries
	}
	return p
}

// Load reads the inventory at path. Definition paths are resolved against the
// directory of path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes an inventory. ${VAR} references are expanded from the
// environment before decoding.
func Parse(data []byte, baseDir string) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}
	cfg := &Config{LogLevel: "info"}
	if err := connect.Decode(raw, cfg); err != nil {
		return nil, err
	}
	for name, d := range cfg.Devices {
		if d.Definition != "" && baseDir != "" && !filepath.IsAbs(d.Definition) {
			d.Definition = filepath.Join(baseDir, d.Definition)
		}
		if d.Transcript != "" && baseDir != "" && !filepath.IsAbs(d.Transcript) {
			d.Transcript = filepath.Join(baseDir, d.Transcript)
		}
		cfg.Devices[name] = d
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing required field, joined.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseFormat(c.LogFormat); err != nil {
		errs = append(errs, fmt.Errorf("log_format: %w", err))
	}
	if c.Redis != nil && c.Redis.Addr == "" {
		errs = append(errs, fmt.Errorf("redis: addr is required"))
	}
	for _, name := range c.DeviceNames() {
		d := c.Devices[name]
		if d.Definition == "" {
			errs = append(errs, fmt.Errorf("device %q: definition is required", name))
		}
		if d.Transport.Kind == "" {
			errs = append(errs, fmt.Errorf("device %q: transport kind is required", name))
		}
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// DeviceNames lists the devices in order.
func (c *Config) DeviceNames() []string {
	names := make([]string, 0, len(c.Devices))
	for name := range c.Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Device returns the named device.
func (c *Config) Device(name string) (Device, error) {
	d, ok := c.Devices[name]
	if !ok {
		return Device{}, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
	}
	return d, nil
}
