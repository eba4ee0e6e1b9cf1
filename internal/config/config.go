// Package config provides configuration parsing and validation for udpgroup.
package config

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/postalsys/udpgroup/internal/group"
	"github.com/postalsys/udpgroup/internal/pathway"
	"github.com/postalsys/udpgroup/internal/udp"
)

// Config represents the complete udpgroup configuration.
type Config struct {
	Group    GroupConfig          `yaml:"group"`
	Delivery DeliveryConfig       `yaml:"delivery"`
	Pathways []pathway.Descriptor `yaml:"pathways"`
	Log      LogConfig            `yaml:"log"`
	Health   HealthConfig         `yaml:"health"`
	Control  ControlConfig        `yaml:"control"`
}

// GroupConfig contains socket settings.
type GroupConfig struct {
	ListenPort      int      `yaml:"listen_port"`
	ListenAddress   string   `yaml:"listen_address"`
	UDPVersion      string   `yaml:"udp_version"`
	RecvBufferSize  ByteSize `yaml:"recv_buffer_size"`
	SendBufferSize  ByteSize `yaml:"send_buffer_size"`
	MaxDatagramSize int      `yaml:"max_datagram_size"`
	ReadBatch       int      `yaml:"read_batch"`
}

// DeliveryConfig controls per-pathway queueing.
type DeliveryConfig struct {
	QueueSize int     `yaml:"queue_size"`
	Policy    string  `yaml:"policy"`
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HealthConfig defines health check server settings.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ControlConfig defines control socket settings.
type ControlConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SocketPath string `yaml:"socket_path"`
}

// ByteSize is a size in bytes that decodes from either an integer or a
// human-readable string such as "256KiB" or "1MB".
type ByteSize uint64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a number or string", value.Line)
	}
	n, err := ParseSize(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*b = ByteSize(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	if b == 0 {
		return 0, nil
	}
	return humanize.IBytes(uint64(b)), nil
}

// String returns the size in IEC units.
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// ParseSize parses a byte size. Empty and "0" mean zero.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n, nil
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Group: GroupConfig{
			UDPVersion:      udp.NetworkUDP4,
			MaxDatagramSize: 65535,
			ReadBatch:       16,
		},
		Delivery: DeliveryConfig{
			QueueSize: 256,
			Policy:    pathway.PolicyBlock.String(),
		},
		Pathways: []pathway.Descriptor{},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Control: ControlConfig{
			Enabled:    false,
			SocketPath: "./udpgroup.sock",
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	// Start with defaults
	cfg := Default()

	// Parse YAML
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		// ${VAR:-default}
		if idx := strings.Index(name, ":-"); idx != -1 {
			if val, ok := os.LookupEnv(name[:idx]); ok {
				return val
			}
			return name[idx+2:]
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match // Keep original if not found
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Validate group
	if c.Group.ListenPort < 1 || c.Group.ListenPort > 65535 {
		errs = append(errs, "group.listen_port is required (1-65535)")
	}
	if !isValidUDPVersion(c.Group.UDPVersion) {
		errs = append(errs, fmt.Sprintf("invalid group.udp_version: %s (must be udp4 or udp6)", c.Group.UDPVersion))
	}
	if c.Group.RecvBufferSize > math.MaxInt32 {
		errs = append(errs, "group.recv_buffer_size is too large")
	}
	if c.Group.SendBufferSize > math.MaxInt32 {
		errs = append(errs, "group.send_buffer_size is too large")
	}
	if c.Group.MaxDatagramSize < 1 || c.Group.MaxDatagramSize > 65535 {
		errs = append(errs, "group.max_datagram_size must be between 1 and 65535")
	}
	if c.Group.ReadBatch < 1 || c.Group.ReadBatch > 1024 {
		errs = append(errs, "group.read_batch must be between 1 and 1024")
	}

	// Validate delivery
	if c.Delivery.QueueSize < 1 {
		errs = append(errs, "delivery.queue_size must be positive")
	}
	if _, err := pathway.ParsePolicy(c.Delivery.Policy); err != nil {
		errs = append(errs, fmt.Sprintf("delivery.policy: %v", err))
	}
	if c.Delivery.RateLimit < 0 {
		errs = append(errs, "delivery.rate_limit must not be negative")
	}
	if c.Delivery.RateBurst < 0 {
		errs = append(errs, "delivery.rate_burst must not be negative")
	}

	// Validate pathways
	for i, d := range c.Pathways {
		if err := d.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("pathways[%d]: %v", i, err))
		}
	}

	// Validate logging
	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}

	// Validate servers
	if c.Health.Enabled && c.Health.Address == "" {
		errs = append(errs, "health.address is required when enabled")
	}
	if c.Control.Enabled && c.Control.SocketPath == "" {
		errs = append(errs, "control.socket_path is required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func isValidUDPVersion(v string) bool {
	switch v {
	case udp.NetworkUDP4, udp.NetworkUDP6:
		return true
	}
	return false
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	}
	return false
}

// GroupConfig converts the file configuration into a group.Config.
func (c *Config) GroupConfig() (group.Config, error) {
	policy, err := pathway.ParsePolicy(c.Delivery.Policy)
	if err != nil {
		return group.Config{}, err
	}

	return group.Config{
		Socket: udp.Config{
			Network:         c.Group.UDPVersion,
			ListenAddress:   c.Group.ListenAddress,
			ListenPort:      c.Group.ListenPort,
			RecvBufferSize:  int(c.Group.RecvBufferSize),
			SendBufferSize:  int(c.Group.SendBufferSize),
			MaxDatagramSize: c.Group.MaxDatagramSize,
			ReadBatch:       c.Group.ReadBatch,
		},
		Delivery: pathway.ChannelConfig{
			QueueSize: c.Delivery.QueueSize,
			Policy:    policy,
			RateLimit: c.Delivery.RateLimit,
			RateBurst: c.Delivery.RateBurst,
		},
	}, nil
}

// String returns the configuration as YAML.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
