package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Account       AccountConfig    `yaml:"account"`
	Automation    AutomationConfig `yaml:"automation,omitempty"`
	Fetch         FetchConfig      `yaml:"fetch,omitempty"`
	MQTT          MQTTConfig       `yaml:"mqtt,omitempty"`
	HomeAssistant HAConfig         `yaml:"home_assistant,omitempty"`
}

// AccountConfig holds the PSEG-LI portal credentials and session cookie.
// The cookie is written back here after every successful refresh so the
// session survives restarts.
type AccountConfig struct {
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Cookie   string `yaml:"cookie,omitempty"`
}

// AutomationConfig points at the browser-automation login addon.
type AutomationConfig struct {
	URL string `yaml:"url,omitempty"` // e.g. "http://localhost:8000"
}

// FetchConfig controls the usage fetch and the serve loop.
type FetchConfig struct {
	BaseURL         string `yaml:"base_url,omitempty"`         // override for testing
	IntervalMinutes int    `yaml:"interval_minutes,omitempty"` // scheduled backfill interval
}

// MQTTConfig holds MQTT broker configuration for publishing latest readings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // e.g., "localhost:1883"
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
}

// HAConfig holds Home Assistant HTTP API configuration, used for
// persistent notifications when the session cannot be refreshed
type HAConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`   // e.g., "http://homeassistant.local:8123"
	Token   string `yaml:"token"` // Long-lived access token
}

// Load reads the config file and applies environment overrides. A missing
// file is not an error; credentials can come entirely from the environment.
func Load(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if v := os.Getenv("PSEGSYNC_USERNAME"); v != "" {
		cfg.Account.Username = v
	}
	if v := os.Getenv("PSEGSYNC_PASSWORD"); v != "" {
		cfg.Account.Password = v
	}
	if v := os.Getenv("PSEGSYNC_COOKIE"); v != "" {
		cfg.Account.Cookie = v
	}
	if v := os.Getenv("PSEGSYNC_AUTOMATION_URL"); v != "" {
		cfg.Automation.URL = v
	}

	return &cfg, nil
}

// Save writes the config to file
func Save(configPath string, cfg *Config) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default config file path (local directory)
func DefaultConfigPath() string {
	return "config.yaml"
}

// GetInterval returns the scheduled backfill interval with a default of 15 minutes
func (c *Config) GetInterval() time.Duration {
	if c.Fetch.IntervalMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.Fetch.IntervalMinutes) * time.Minute
}

// GetTopicPrefix returns the MQTT topic prefix with a default of "psegsync"
func (c *Config) GetTopicPrefix() string {
	if c.MQTT.TopicPrefix == "" {
		return "psegsync"
	}
	return c.MQTT.TopicPrefix
}
