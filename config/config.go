// Package config loads sdp.yml, .env files and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up in the working directory.
const DefaultPath = "sdp.yml"

// Config holds every runtime setting.
type Config struct {
	APIURL       string        `yaml:"api_url"`
	StreamURL    string        `yaml:"stream_url,omitempty"`
	DataDir      string        `yaml:"data_dir"`
	OutputDir    string        `yaml:"output_dir,omitempty"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Port         string        `yaml:"port"`
	Debug        bool          `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		APIURL:       "http://localhost:8080/api",
		DataDir:      "./data",
		PollInterval: 30 * time.Second,
		Port:         "8080",
	}
}

// Load reads path on top of the defaults, then applies .env and environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	// Load .env file if it exists (ignore errors if it doesn't)
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("SDP_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv("SDP_STREAM_URL"); v != "" {
		c.StreamURL = v
	}
	if v := os.Getenv("SDP_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("SDP_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("SDP_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SDP_POLL_INTERVAL %q: %w", v, err)
		}
		c.PollInterval = d
	}
	if v := os.Getenv("SDP_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SDP_DEBUG %q: %w", v, err)
		}
		c.Debug = b
	}
	return nil
}

// Validate checks the fields every command depends on.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://") {
		return fmt.Errorf("api_url must be an http(s) URL, got %q", c.APIURL)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	return nil
}

// Stream returns the changelog stream URL, derived from APIURL when unset.
func (c *Config) Stream() string {
	if c.StreamURL != "" {
		return c.StreamURL
	}
	return strings.TrimRight(c.APIURL, "/") + "/changelog/stream"
}

// DBPath returns the sqlite file inside DataDir, creating the directory.
func (c *Config) DBPath() (string, error) {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return filepath.Join(c.DataDir, "sdp.db"), nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
