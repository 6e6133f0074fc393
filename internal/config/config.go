// ABOUTME: Configuration loading and parsing for fleetgate
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when the file leaves a field unset.
const (
	DefaultHTTPAddr     = ":8000"
	DefaultHeartbeatTTL = 90 * time.Second
	DefaultPollTimeout  = 28 * time.Second
	DefaultMediaTTL     = 10 * time.Minute
)

// Config represents the complete fleetgate configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Relay     RelayConfig     `yaml:"relay"`
	Agents    AgentsConfig    `yaml:"agents"`
	Media     MediaConfig     `yaml:"media"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TransportConfig selects how agents and panels attach to the gateway
type TransportConfig struct {
	// Mode is "websocket" (persistent connections) or "longpoll"
	// (heartbeat plus blocking command polls for agents).
	Mode string `yaml:"mode"`
}

// RelayConfig selects how agent events reach panels
type RelayConfig struct {
	// Mode is "broadcast" (push to every panel) or "mailbox"
	// (stored per agent, pulled by panels).
	Mode string `yaml:"mode"`
}

// AgentsConfig holds agent-related timing configuration
type AgentsConfig struct {
	HeartbeatTTL time.Duration `yaml:"-"`
	PollTimeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HeartbeatTTLRaw string `yaml:"heartbeat_ttl"`
	PollTimeoutRaw  string `yaml:"poll_timeout"`
}

// MediaConfig holds media cache retention configuration
type MediaConfig struct {
	TTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling. "0" disables expiry.
	TTLRaw string `yaml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Transport.Mode == "" {
		c.Transport.Mode = "websocket"
	}
	if c.Relay.Mode == "" {
		c.Relay.Mode = "broadcast"
	}
	if c.Agents.HeartbeatTTLRaw == "" {
		c.Agents.HeartbeatTTL = DefaultHeartbeatTTL
	}
	if c.Agents.PollTimeoutRaw == "" {
		c.Agents.PollTimeout = DefaultPollTimeout
	}
	if c.Media.TTLRaw == "" {
		c.Media.TTL = DefaultMediaTTL
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Transport.Mode {
	case "websocket", "longpoll":
	default:
		return fmt.Errorf("transport.mode must be \"websocket\" or \"longpoll\", got %q", c.Transport.Mode)
	}

	switch c.Relay.Mode {
	case "broadcast", "mailbox":
	default:
		return fmt.Errorf("relay.mode must be \"broadcast\" or \"mailbox\", got %q", c.Relay.Mode)
	}

	if c.Agents.HeartbeatTTL <= 0 {
		return fmt.Errorf("agents.heartbeat_ttl must be positive")
	}
	if c.Agents.PollTimeout <= 0 {
		return fmt.Errorf("agents.poll_timeout must be positive")
	}
	if c.Agents.PollTimeout >= c.Agents.HeartbeatTTL {
		return fmt.Errorf("agents.poll_timeout must be shorter than agents.heartbeat_ttl")
	}
	if c.Media.TTL < 0 {
		return fmt.Errorf("media.ttl must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agents.HeartbeatTTLRaw != "" {
		cfg.Agents.HeartbeatTTL, err = time.ParseDuration(cfg.Agents.HeartbeatTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_ttl %q: %w", cfg.Agents.HeartbeatTTLRaw, err)
		}
	}

	if cfg.Agents.PollTimeoutRaw != "" {
		cfg.Agents.PollTimeout, err = time.ParseDuration(cfg.Agents.PollTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_timeout %q: %w", cfg.Agents.PollTimeoutRaw, err)
		}
	}

	if cfg.Media.TTLRaw != "" {
		cfg.Media.TTL, err = time.ParseDuration(cfg.Media.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing media ttl %q: %w", cfg.Media.TTLRaw, err)
		}
	}

	return nil
}
