// Package config loads and validates the collector configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"nwwatch/internal/nwwatch"
)

const (
	// Defaults applied when a setting is omitted.
	defaultIntervalSeconds     = 5
	defaultPingIntervalSeconds = 1
	defaultHistorySize         = 10
	defaultMaxOutputLines      = 500
	defaultWorkers             = 20
	defaultConnectTimeout      = 100
	defaultReconnectAttempts   = 3
	defaultBackoffBase         = 1.0
	defaultSSHPort             = 22

	// Per-command interval bounds for this deployment.
	minCommandInterval = 5
	maxCommandInterval = 60
)

// SSH holds connection-related settings shared by all devices.
type SSH struct {
	PersistentConnections    *bool   `yaml:"persistent_connections,omitempty"`
	ConnectionTimeoutSeconds int     `yaml:"connection_timeout,omitempty"`
	MaxReconnectAttempts     int     `yaml:"max_reconnect_attempts,omitempty"`
	ReconnectBackoffBase     float64 `yaml:"reconnect_backoff_base,omitempty"`
}

// Config is the validated, immutable collector configuration. The engine
// never revalidates it; Load rejects invalid files before the engine
// starts.
type Config struct {
	IntervalSeconds     int                    `yaml:"interval_seconds,omitempty"`
	PingIntervalSeconds int                    `yaml:"ping_interval_seconds,omitempty"`
	HistorySize         int                    `yaml:"history_size,omitempty"`
	MaxOutputLines      int                    `yaml:"max_output_lines,omitempty"`
	Workers             int                    `yaml:"workers,omitempty"`
	SSH                 SSH                    `yaml:"ssh,omitempty"`
	GlobalFilters       nwwatch.CommandFilters `yaml:"global_filters,omitempty"`
	Devices             []nwwatch.Device       `yaml:"devices"`
	Commands            []nwwatch.Command      `yaml:"commands"`
}

// Load reads, parses and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates raw YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.IntervalSeconds == 0 {
		c.IntervalSeconds = defaultIntervalSeconds
	}
	if c.PingIntervalSeconds == 0 {
		c.PingIntervalSeconds = defaultPingIntervalSeconds
	}
	if c.HistorySize == 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.MaxOutputLines == 0 {
		c.MaxOutputLines = defaultMaxOutputLines
	}
	if c.Workers == 0 {
		c.Workers = defaultWorkers
	}
	if c.SSH.ConnectionTimeoutSeconds == 0 {
		c.SSH.ConnectionTimeoutSeconds = defaultConnectTimeout
	}
	if c.SSH.MaxReconnectAttempts == 0 {
		c.SSH.MaxReconnectAttempts = defaultReconnectAttempts
	}
	if c.SSH.ReconnectBackoffBase == 0 {
		c.SSH.ReconnectBackoffBase = defaultBackoffBase
	}
	for i := range c.Devices {
		if c.Devices[i].Port == 0 {
			c.Devices[i].Port = defaultSSHPort
		}
	}
}

func (c *Config) validate() error {
	if c.IntervalSeconds < 0 {
		return fmt.Errorf("interval_seconds must not be negative, got %d", c.IntervalSeconds)
	}
	if c.PingIntervalSeconds < 0 {
		return fmt.Errorf("ping_interval_seconds must not be negative, got %d", c.PingIntervalSeconds)
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("history_size must not be negative, got %d", c.HistorySize)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.SSH.MaxReconnectAttempts < 0 {
		return fmt.Errorf("ssh.max_reconnect_attempts must not be negative, got %d", c.SSH.MaxReconnectAttempts)
	}
	if c.SSH.ReconnectBackoffBase < 0 {
		return fmt.Errorf("ssh.reconnect_backoff_base must not be negative, got %v", c.SSH.ReconnectBackoffBase)
	}

	seenDevices := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.Name == "" {
			return fmt.Errorf("device %d: name is required", i)
		}
		if seenDevices[d.Name] {
			return fmt.Errorf("duplicate device name %q", d.Name)
		}
		seenDevices[d.Name] = true
		if d.Host == "" {
			return fmt.Errorf("device %q: host is required", d.Name)
		}
		if d.Username == "" {
			return fmt.Errorf("device %q: username is required", d.Name)
		}
		if d.DeviceType == "" {
			return fmt.Errorf("device %q: device_type is required", d.Name)
		}
		if d.Port < 0 || d.Port > 65535 {
			return fmt.Errorf("device %q: invalid port %d", d.Name, d.Port)
		}
	}

	seenCommands := make(map[string]bool, len(c.Commands))
	for i, cmd := range c.Commands {
		if cmd.Text == "" {
			return fmt.Errorf("command %d: command_text is required", i)
		}
		if seenCommands[cmd.Text] {
			return fmt.Errorf("duplicate command %q", cmd.Text)
		}
		seenCommands[cmd.Text] = true
		if cmd.Schedule != "" && cmd.IntervalSeconds != 0 {
			return fmt.Errorf("command %q: schedule and interval_seconds are mutually exclusive", cmd.Text)
		}
		if cmd.Schedule != "" {
			if _, err := cron.ParseStandard(cmd.Schedule); err != nil {
				return fmt.Errorf("command %q: invalid cron schedule %q: %w", cmd.Text, cmd.Schedule, err)
			}
		}
		if cmd.IntervalSeconds != 0 &&
			(cmd.IntervalSeconds < minCommandInterval || cmd.IntervalSeconds > maxCommandInterval) {
			return fmt.Errorf("command %q: interval_seconds must be between %d and %d, got %d",
				cmd.Text, minCommandInterval, maxCommandInterval, cmd.IntervalSeconds)
		}
	}

	return nil
}

// Interval returns the global default command interval.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// PingInterval returns the reachability probe interval.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

// ConnectTimeout returns the per-device connect/command timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.SSH.ConnectionTimeoutSeconds) * time.Second
}

// BackoffBase returns the base delay for reconnect backoff.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.SSH.ReconnectBackoffBase * float64(time.Second))
}

// PersistentConnections reports whether device sessions are reused
// across commands. Enabled unless explicitly turned off.
func (c *Config) PersistentConnections() bool {
	return c.SSH.PersistentConnections == nil || *c.SSH.PersistentConnections
}

// LineExclusions returns the line filter for a command, preferring the
// command-specific override over the global filter.
func (c *Config) LineExclusions(commandText string) []string {
	if f := c.commandFilters(commandText); f != nil && f.LineExcludeSubstrings != nil {
		return f.LineExcludeSubstrings
	}
	return c.GlobalFilters.LineExcludeSubstrings
}

// OutputExclusions returns the output-exclusion substrings for a
// command, preferring the command-specific override over the global
// filter.
func (c *Config) OutputExclusions(commandText string) []string {
	if f := c.commandFilters(commandText); f != nil && f.OutputExcludeSubstrings != nil {
		return f.OutputExcludeSubstrings
	}
	return c.GlobalFilters.OutputExcludeSubstrings
}

func (c *Config) commandFilters(commandText string) *nwwatch.CommandFilters {
	for i := range c.Commands {
		if c.Commands[i].Text == commandText {
			return c.Commands[i].Filters
		}
	}
	return nil
}

// DevicePassword resolves a device password from the environment. The
// plaintext is never stored in the configuration; only the environment
// key travels through config.
func (c *Config) DevicePassword(device nwwatch.Device) (string, error) {
	if device.PasswordEnvKey == "" {
		return "", fmt.Errorf("no password_env_key set for device %q", device.Name)
	}
	password := os.Getenv(device.PasswordEnvKey)
	if password == "" {
		return "", fmt.Errorf("password not provided for device %q: environment variable %q is not set",
			device.Name, device.PasswordEnvKey)
	}
	return password, nil
}

// ErrNoDevices is returned by Check when the configuration has no
// devices to collect from.
var ErrNoDevices = errors.New("no devices configured")

// Check verifies the configuration is usable for collection.
func (c *Config) Check() error {
	if len(c.Devices) == 0 {
		return ErrNoDevices
	}
	return nil
}
