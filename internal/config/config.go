// Package config provides configuration management for the sync client's
// login tooling. It handles loading and parsing YAML configuration files and
// provides structured access to the server connection, OAuth client, proxy,
// and logging settings.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// ServerURL is the base URL of the server to log in against.
	ServerURL string `yaml:"server-url" json:"server-url"`

	// ClientID identifies this application to the server's OAuth2 provider.
	ClientID string `yaml:"client-id" json:"client-id"`

	// Scope is the optional OAuth scope requested during authorization.
	Scope string `yaml:"scope,omitempty" json:"scope,omitempty"`

	// ExpectedUser, when set, pins the login to one account; tokens issued
	// for any other user are rejected.
	ExpectedUser string `yaml:"expected-user,omitempty" json:"expected-user,omitempty"`

	// AuthDir is the directory credentials are persisted to after login.
	AuthDir string `yaml:"auth-dir" json:"auth-dir"`

	// ProxyURL is the URL of an optional proxy server to use for outbound
	// requests (socks5, http, or https).
	ProxyURL string `yaml:"proxy-url,omitempty" json:"proxy-url,omitempty"`

	// RequestTimeoutSeconds bounds each network call of the login flow.
	// <= 0 uses the built-in default.
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds,omitempty" json:"request-timeout-seconds,omitempty"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug,omitempty" json:"debug,omitempty"`

	// LogFile, when set, mirrors log output to a rotating file.
	LogFile string `yaml:"log-file,omitempty" json:"log-file,omitempty"`
}

// RequestTimeout returns the configured per-call timeout, or zero when the
// default should apply.
func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// LoadConfig reads and parses the YAML configuration file at the given path.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if strings.TrimSpace(cfg.AuthDir) == "" {
		home, errHome := os.UserHomeDir()
		if errHome != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", errHome)
		}
		cfg.AuthDir = home + "/.syncdesk"
	}
	if strings.HasPrefix(cfg.AuthDir, "~/") {
		home, errHome := os.UserHomeDir()
		if errHome != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", errHome)
		}
		cfg.AuthDir = home + cfg.AuthDir[1:]
	}

	return &cfg, nil
}
