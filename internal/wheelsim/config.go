package wheelsim

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// Simulator modes.
const (
	ModeNormal   = "normal"
	ModeDegraded = "degraded"
	ModeOffline  = "offline"
)

// Config represents the complete configuration for the wheel simulator
type Config struct {
	HTTP        HTTPConfig            `yaml:"http"`
	Maintenance MaintenanceConfig     `yaml:"maintenance"`
	Mode        string                `yaml:"mode"`
	MaxRPM      int32                 `yaml:"maxRpm"`
	QueueSize   int                   `yaml:"queueSize"`
	Nodes       map[string]NodeConfig `yaml:"nodes"`
}

// HTTPConfig holds HTTP server settings
type HTTPConfig struct {
	Port         int    `yaml:"port"`
	Path         string `yaml:"path"`
	ServerHeader string `yaml:"serverHeader"`
}

// MaintenanceConfig holds the fault-injection TCP port settings. Port 0
// disables it.
type MaintenanceConfig struct {
	Port         int      `yaml:"port"`
	AllowedCIDRs []string `yaml:"allowedCidrs"`
}

// NodeConfig describes one simulated drive
type NodeConfig struct {
	DiameterMM      float64 `yaml:"diameterMm"`
	Reduction       float64 `yaml:"reduction"`
	InitialPosition int32   `yaml:"initialPosition"`
	StartEnabled    bool    `yaml:"startEnabled"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port: 8090,
			Path: "/motor_api",
		},
		Maintenance: MaintenanceConfig{
			Port:         8091,
			AllowedCIDRs: []string{"127.0.0.0/8", "::1/128"},
		},
		Mode:      ModeNormal,
		MaxRPM:    6000,
		QueueSize: 64,
		Nodes: map[string]NodeConfig{
			"left":  {DiameterMM: 200, Reduction: 1},
			"right": {DiameterMM: 200, Reduction: 1},
		},
	}
}

// Load loads configuration from an optional YAML file and environment variables
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if mode := os.Getenv("WHEELSIM_MODE"); mode != "" {
		cfg.Mode = mode
	}
	if port := os.Getenv("WHEELSIM_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.HTTP.Port = p
		}
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if !validMode(c.Mode) {
		return fmt.Errorf("invalid mode %q, must be one of: %s, %s, %s", c.Mode, ModeNormal, ModeDegraded, ModeOffline)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTP.Port)
	}
	if c.Maintenance.Port < 0 || c.Maintenance.Port > 65535 {
		return fmt.Errorf("invalid maintenance port %d", c.Maintenance.Port)
	}
	for _, cidr := range c.Maintenance.AllowedCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid maintenance CIDR %q: %w", cidr, err)
		}
	}
	if c.MaxRPM <= 0 {
		return fmt.Errorf("maxRpm must be > 0, got %d", c.MaxRPM)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queueSize must be > 0, got %d", c.QueueSize)
	}
	if len(c.Nodes) == 0 {
		return fmt.Errorf("at least one node must be configured")
	}
	for name, n := range c.Nodes {
		if n.DiameterMM <= 0 {
			return fmt.Errorf("node %s: diameterMm must be > 0, got %v", name, n.DiameterMM)
		}
		if n.Reduction <= 0 {
			return fmt.Errorf("node %s: reduction must be > 0, got %v", name, n.Reduction)
		}
	}
	return nil
}

func validMode(mode string) bool {
	switch mode {
	case ModeNormal, ModeDegraded, ModeOffline:
		return true
	}
	return false
}
