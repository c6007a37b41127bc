// Package config provides configuration parsing and validation for the
// proxy daemon.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete daemon configuration. CLI flags take
// precedence over values loaded from a file (see cmd/dualproxyd).
type Config struct {
	ProxyAddr   string     `yaml:"proxy_addr"`
	ControlAddr string     `yaml:"control_addr"`
	LogLevel    string     `yaml:"log_level"`
	LogFormat   string     `yaml:"log_format"`
	Dial        DialConfig `yaml:"dial"`
}

// DialConfig tunes outbound connection behavior.
type DialConfig struct {
	// ConnectTimeoutSeconds is read from the config file and validated
	// (it must not be negative), but nothing passes it to the outbound
	// dialer: dials made through internal/dial carry no connect timeout.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		ProxyAddr:   "0.0.0.0:1080",
		ControlAddr: "127.0.0.1:8080",
		LogLevel:    "info",
		LogFormat:   "text",
		Dial: DialConfig{
			ConnectTimeoutSeconds: 10,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, starting from Default and
// overlaying whatever the document sets.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their
// values, supporting ${VAR} and ${VAR:-default}.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			varName, defaultVal := name[:idx], name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.ProxyAddr == "" {
		errs = append(errs, "proxy_addr is required")
	}
	if !isValidLogLevel(c.LogLevel) {
		errs = append(errs, fmt.Sprintf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel))
	}
	if !isValidLogFormat(c.LogFormat) {
		errs = append(errs, fmt.Sprintf("invalid log_format: %s (must be text or json)", c.LogFormat))
	}
	if c.Dial.ConnectTimeoutSeconds < 0 {
		errs = append(errs, "dial.connect_timeout_seconds must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}
