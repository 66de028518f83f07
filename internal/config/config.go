// Package config provides configuration management for dnp3ips.
// It uses Viper for loading configuration from files, environment variables,
// and command-line flags with sensible defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidConfig is wrapped by validation errors.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for dnp3ips.
type Config struct {
	DNP3    DNP3Config    `mapstructure:"dnp3" yaml:"dnp3"`
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Rules   RulesConfig   `mapstructure:"rules" yaml:"rules"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// DNP3Config holds protocol inspector settings.
type DNP3Config struct {
	// Ports treated as DNP3 (TCP and UDP)
	Ports []int `mapstructure:"ports" yaml:"ports"`
	// Per-direction reassembly buffer limit (bytes)
	MaxBufferSize int `mapstructure:"max_buffer_size" yaml:"max_buffer_size"`
	// Drop frames whose link-layer CRCs do not verify
	CheckCRC bool `mapstructure:"check_crc" yaml:"check_crc"`
}

// EngineConfig holds worker pool settings.
type EngineConfig struct {
	// Number of flow workers (0 = one per CPU)
	Workers int `mapstructure:"workers" yaml:"workers"`
	// Per-worker packet queue length
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
	// Flows idle for longer than this are released
	FlowIdleTimeout time.Duration `mapstructure:"flow_idle_timeout" yaml:"flow_idle_timeout"`
}

// CaptureConfig holds configuration for packet capture.
type CaptureConfig struct {
	// Maximum bytes to capture per packet
	Snaplen int `mapstructure:"snaplen" yaml:"snaplen"`
	// Enable promiscuous mode
	Promiscuous bool `mapstructure:"promiscuous" yaml:"promiscuous"`
	// Packet buffer timeout
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// Default interface
	Interface string `mapstructure:"interface" yaml:"interface"`
	// BPF filter (empty = derived from dnp3.ports)
	Filter string `mapstructure:"filter" yaml:"filter"`
}

// RulesConfig lists the rule files to load.
type RulesConfig struct {
	Files []string `mapstructure:"files" yaml:"files"`
}

// OutputConfig holds alert output settings.
type OutputConfig struct {
	// Alert format: json, text
	Format string `mapstructure:"format" yaml:"format"`
	// Alert file (empty = stdout)
	File string `mapstructure:"file" yaml:"file"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	// Listen address for /metrics (empty = disabled)
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	// Log level: debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`
	// Log file (empty = stderr only)
	File string `mapstructure:"file" yaml:"file"`
	// Log format: console, json
	Format string `mapstructure:"format" yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DNP3: DNP3Config{
			Ports:         []int{20000},
			MaxBufferSize: 2048,
			CheckCRC:      true,
		},
		Engine: EngineConfig{
			Workers:         runtime.NumCPU(),
			QueueSize:       1024,
			FlowIdleTimeout: 5 * time.Minute,
		},
		Capture: CaptureConfig{
			Snaplen:     65535,
			Promiscuous: true,
			Timeout:     time.Second,
			Interface:   "",
			Filter:      "",
		},
		Rules: RulesConfig{
			Files: []string{},
		},
		Output: OutputConfig{
			Format: "json",
			File:   "",
		},
		Metrics: MetricsConfig{
			Listen: "",
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   "",
			Format: "console",
		},
	}
}

// global holds the global configuration instance.
var global *Config

// Global returns the global configuration instance.
func Global() *Config {
	if global == nil {
		global = DefaultConfig()
	}
	return global
}

// SetGlobal sets the global configuration instance.
func SetGlobal(cfg *Config) {
	global = cfg
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	v := newViper()

	// Config file search paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	homeDir, _ := os.UserHomeDir()
	v.AddConfigPath(filepath.Join(homeDir, ".config", "dnp3ips"))
	v.AddConfigPath("/etc/dnp3ips")
	v.AddConfigPath(".")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return decode(v)
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	return decode(v)
}

// newViper returns a viper instance with defaults and environment binding.
func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	// DNP3IPS_ENGINE_WORKERS overrides engine.workers
	v.SetEnvPrefix("DNP3IPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	// Expand home directory in paths
	for i, f := range cfg.Rules.Files {
		cfg.Rules.Files[i] = expandPath(f)
	}
	cfg.Output.File = expandPath(cfg.Output.File)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	SetGlobal(cfg)
	return cfg, nil
}

// setDefaults sets default values in viper.
func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	// DNP3 defaults
	v.SetDefault("dnp3.ports", def.DNP3.Ports)
	v.SetDefault("dnp3.max_buffer_size", def.DNP3.MaxBufferSize)
	v.SetDefault("dnp3.check_crc", def.DNP3.CheckCRC)

	// Engine defaults
	v.SetDefault("engine.workers", def.Engine.Workers)
	v.SetDefault("engine.queue_size", def.Engine.QueueSize)
	v.SetDefault("engine.flow_idle_timeout", def.Engine.FlowIdleTimeout)

	// Capture defaults
	v.SetDefault("capture.snaplen", def.Capture.Snaplen)
	v.SetDefault("capture.promiscuous", def.Capture.Promiscuous)
	v.SetDefault("capture.timeout", def.Capture.Timeout)
	v.SetDefault("capture.interface", "")
	v.SetDefault("capture.filter", "")

	v.SetDefault("rules.files", []string{})

	// Output defaults
	v.SetDefault("output.format", def.Output.Format)
	v.SetDefault("output.file", "")

	v.SetDefault("metrics.listen", "")

	// Logging defaults
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.format", def.Logging.Format)
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	for _, p := range c.DNP3.Ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("%w: dnp3.ports: %d out of range", ErrInvalidConfig, p)
		}
	}
	if c.DNP3.MaxBufferSize <= 0 {
		return fmt.Errorf("%w: dnp3.max_buffer_size must be positive", ErrInvalidConfig)
	}
	if c.Engine.Workers < 0 {
		return fmt.Errorf("%w: engine.workers must not be negative", ErrInvalidConfig)
	}
	if c.Engine.QueueSize <= 0 {
		return fmt.Errorf("%w: engine.queue_size must be positive", ErrInvalidConfig)
	}
	switch c.Output.Format {
	case "json", "text":
	default:
		return fmt.Errorf("%w: output.format %q", ErrInvalidConfig, c.Output.Format)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: logging.format %q", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "dnp3ips", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// BPFFilter returns the capture filter, deriving one from the DNP3 ports
// when none is configured.
func (c *Config) BPFFilter() string {
	if c.Capture.Filter != "" {
		return c.Capture.Filter
	}
	parts := make([]string, 0, len(c.DNP3.Ports))
	for _, p := range c.DNP3.Ports {
		parts = append(parts, fmt.Sprintf("port %d", p))
	}
	return strings.Join(parts, " or ")
}
