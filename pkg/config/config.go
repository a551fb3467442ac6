// Package config defines the YAML configuration surface for securestream
// endpoints and validates it before any sockets are created.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Listen    ListenConfig    `yaml:"listen,omitempty" json:"listen,omitempty"`
	Target    TargetConfig    `yaml:"target,omitempty" json:"target,omitempty"`
	Security  SecurityConfig  `yaml:"security" json:"security"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty" json:"telemetry,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty" json:"logging,omitempty"`
}

// Load reads and validates a configuration file. Validation covers only the
// sections relevant to the given role: a serve config needs listen, a dial
// config needs target, so cross-role sections are validated lazily by the
// caller via ValidateServe or ValidateDial.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Security.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Logging.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidateServe checks the sections a server endpoint requires.
func (c *Config) ValidateServe() error {
	if err := c.Listen.Validate(); err != nil {
		return err
	}
	if c.Security.CertFile == "" || c.Security.KeyFile == "" {
		return NewConfigMissingError("security.cert_file").
			WithSuggestion("Server endpoints must present a certificate")
	}
	return nil
}

// ValidateDial checks the sections a client endpoint requires.
func (c *Config) ValidateDial() error {
	return c.Target.Validate()
}
