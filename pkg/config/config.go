package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const authKeyLen = 16

// Config holds application configuration
type Config struct {
	LogLevel          string        `yaml:"log_level" json:"log_level" default:"info"`
	Address           string        `yaml:"address" json:"address"`
	Name              string        `yaml:"name" json:"name"`
	AuthKey           string        `yaml:"auth_key" json:"auth_key" default:"30313233343536373839404142434445"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" json:"connect_timeout" default:"30s"`
	ConnectAttempts   int           `yaml:"connect_attempts" json:"connect_attempts" default:"5"`
	AutoReconnect     bool          `yaml:"auto_reconnect" json:"auto_reconnect" default:"true"`
	HeartRateInterval time.Duration `yaml:"heart_rate_interval" json:"heart_rate_interval" default:"1m"`
	FetchLookback     time.Duration `yaml:"fetch_lookback" json:"fetch_lookback" default:"2400h"`
	OutputFormat      string        `yaml:"output_format" json:"output_format" default:"text"` // text, json
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values a session cannot start without.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, err := c.AuthKeyBytes(); err != nil {
		return err
	}
	switch c.OutputFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported output format %q (use text or json)", c.OutputFormat)
	}
	if c.ConnectAttempts < 1 {
		return fmt.Errorf("connect_attempts must be at least 1, got %d", c.ConnectAttempts)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got %s", c.ConnectTimeout)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// AuthKeyBytes decodes the hex handshake secret.
func (c *Config) AuthKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(c.AuthKey), ":", ""))
	if err != nil {
		return nil, fmt.Errorf("auth key is not valid hex: %w", err)
	}
	if len(key) != authKeyLen {
		return nil, fmt.Errorf("auth key must be %d bytes, got %d", authKeyLen, len(key))
	}
	return key, nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := c.Level()
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
