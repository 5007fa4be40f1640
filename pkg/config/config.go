// Package config loads and validates the YAML configuration for a
// collaboration run: round budget, protocol, routing, shared memory
// backend, runtime knobs, and participant definitions.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/concord-dev/concord/agent"
)

// Config represents the top-level configuration.
type Config struct {
	// MaxRounds bounds every collaboration run. Default: 10.
	MaxRounds int `yaml:"max_rounds"`

	// Protocol names the interaction protocol: "none", "request_response",
	// "broadcast", "contract_net", or "auction". Default: "none".
	Protocol string `yaml:"protocol"`

	Routing RoutingConfig `yaml:"routing,omitempty"`
	Memory  MemoryConfig  `yaml:"memory,omitempty"`
	Runtime RuntimeConfig `yaml:"runtime,omitempty"`

	// Participants are instantiated through the factory registry in
	// declaration order, which also fixes routing tie-break order.
	Participants []agent.Def `yaml:"participants"`
}

// RoutingConfig configures capability-based task routing.
type RoutingConfig struct {
	// Fallback is "first" (route to the first registered participant when
	// nothing matches) or "error". Default: "first".
	Fallback string `yaml:"fallback"`

	// Keywords maps a capability tag to the task substrings implying it.
	// Empty means every task word is a candidate tag.
	Keywords map[string][]string `yaml:"keywords,omitempty"`
}

// MemoryConfig configures the shared blackboard backend.
type MemoryConfig struct {
	// Backend is "memory" or "redis". Default: "memory".
	Backend string `yaml:"backend"`

	Redis RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig holds connection settings for the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
	PoolSize int    `yaml:"pool_size,omitempty"`
}

// RuntimeConfig holds runtime knobs.
type RuntimeConfig struct {
	// ParallelTurns runs participant turns within a round concurrently.
	ParallelTurns bool `yaml:"parallel_turns"`

	// SendRate limits messages per sender per second; 0 disables limiting.
	SendRate  float64 `yaml:"send_rate"`
	SendBurst int     `yaml:"send_burst"`

	// EnableMetrics starts the HTTP metrics/health server.
	EnableMetrics bool `yaml:"enable_metrics"`
	MetricsPort   int  `yaml:"metrics_port"`
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is operator input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes configuration to a YAML file.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.MaxRounds == 0 {
		c.MaxRounds = 10
	}
	if c.Protocol == "" {
		c.Protocol = "none"
	}
	if c.Routing.Fallback == "" {
		c.Routing.Fallback = "first"
	}
	if c.Memory.Backend == "" {
		c.Memory.Backend = "memory"
	}
	if c.Memory.Backend == "redis" && c.Memory.Redis.Addr == "" {
		c.Memory.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	}
	if c.Runtime.SendRate > 0 && c.Runtime.SendBurst == 0 {
		c.Runtime.SendBurst = 1
	}
	if c.Runtime.MetricsPort == 0 {
		c.Runtime.MetricsPort = 8080
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Protocol {
	case "none", "request_response", "broadcast", "contract_net", "auction":
	default:
		return fmt.Errorf("unknown protocol: %s", c.Protocol)
	}

	switch c.Routing.Fallback {
	case "first", "error":
	default:
		return fmt.Errorf("unknown routing fallback: %s", c.Routing.Fallback)
	}

	switch c.Memory.Backend {
	case "memory":
	case "redis":
		if c.Memory.Redis.Addr == "" {
			return fmt.Errorf("memory backend redis requires an addr")
		}
	default:
		return fmt.Errorf("unknown memory backend: %s", c.Memory.Backend)
	}

	if c.MaxRounds < 1 {
		return fmt.Errorf("max_rounds must be at least 1")
	}

	if len(c.Participants) == 0 {
		return fmt.Errorf("at least one participant must be configured")
	}
	seen := make(map[string]bool, len(c.Participants))
	for i, def := range c.Participants {
		if def.ID == "" {
			return fmt.Errorf("participant %d: id is required", i)
		}
		if def.Kind == "" {
			return fmt.Errorf("participant %q: kind is required", def.ID)
		}
		if seen[def.ID] {
			return fmt.Errorf("duplicate participant id: %s", def.ID)
		}
		seen[def.ID] = true
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
