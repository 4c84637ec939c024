// Package config provides configuration management for the Peloton CLI.
// It handles loading and parsing the YAML configuration file and resolving
// the Peloton account credentials from the process environment.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
// Credentials never live here; they are resolved from the environment only.
type Config struct {
	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// BrowserTLS routes identity-provider requests through a TLS transport that
	// presents a Firefox fingerprint. Auth0 sits behind bot detection that may
	// reject Go's default TLS handshake.
	BrowserTLS bool `yaml:"browser-tls" json:"browser-tls"`

	// LoggingToFile redirects application logs to rotating files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogDir is the directory where rotated log files are written.
	// Defaults to "logs" next to the working directory.
	LogDir string `yaml:"log-dir" json:"log-dir"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoginTimeoutSeconds bounds each request of the OAuth login flow. Default 30.
	LoginTimeoutSeconds int `yaml:"login-timeout-seconds,omitempty" json:"login-timeout-seconds,omitempty"`

	// FetchTimeoutSeconds bounds each authenticated resource request. Default 10.
	FetchTimeoutSeconds int `yaml:"fetch-timeout-seconds,omitempty" json:"fetch-timeout-seconds,omitempty"`
}

// DefaultConfig returns a Config populated with default values.
func DefaultConfig() *Config {
	return &Config{
		LogDir:              "logs",
		LoginTimeoutSeconds: 30,
		FetchTimeoutSeconds: 10,
	}
}

// LoadConfig reads a YAML configuration file from the given path.
// A missing file is not an error; defaults apply. A present but malformed
// file is an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if cfg.LoginTimeoutSeconds <= 0 {
		cfg.LoginTimeoutSeconds = 30
	}
	if cfg.FetchTimeoutSeconds <= 0 {
		cfg.FetchTimeoutSeconds = 10
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "logs"
	}
	return cfg, nil
}
