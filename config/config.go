// Package config holds application-level configuration: logging setup and
// the DiscoveryConfiguration defaults/overrides, grounded on
// pkg/config/config.go's Config/NewLogger pattern and expanded with
// struct-tag defaults and optional YAML overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/blecentral/model"
)

// Config holds top-level application configuration.
type Config struct {
	LogLevel     logrus.Level  `json:"log_level" yaml:"logLevel"`
	ScanTimeout  time.Duration `json:"scan_timeout" yaml:"scanTimeout"`
	ConnTimeout  time.Duration `json:"conn_timeout" yaml:"connTimeout"`
	OutputFormat string        `json:"output_format" yaml:"outputFormat"`

	Discovery model.DiscoveryConfiguration `json:"discovery" yaml:"discovery"`
}

// DefaultConfig returns default configuration values, with
// DiscoveryConfiguration populated from its struct-tag defaults.
func DefaultConfig() *Config {
	c := &Config{
		LogLevel:     logrus.InfoLevel,
		ScanTimeout:  10 * time.Second,
		ConnTimeout:  30 * time.Second,
		OutputFormat: "table",
	}
	defaults.SetDefaults(&c.Discovery)
	return c
}

// NewLogger creates a configured logger instance.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// LoadOverrides reads a YAML file at path and merges it over a copy of c,
// returning the merged configuration. Fields absent from the file keep
// c's existing values. A missing file is not an error; c is returned
// unmodified.
func (c *Config) LoadOverrides(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	merged := *c
	if err := yaml.Unmarshal(raw, &merged); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &merged, nil
}
