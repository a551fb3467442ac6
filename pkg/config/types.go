package config

import (
	"crypto/tls"
	"fmt"
	"strings"
)

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field       string
	Value       interface{}
	Reason      string
	Suggestions []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in field '%s': %s", e.Field, e.Reason)
}

func (e *ConfigError) WithSuggestion(suggestion string) *ConfigError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

func NewConfigMissingError(field string) *ConfigError {
	return &ConfigError{
		Field:  field,
		Reason: fmt.Sprintf("required field '%s' is missing", field),
	}
}

func NewConfigValidationError(field string, value interface{}, reason string) *ConfigError {
	return &ConfigError{
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// TLSVersion represents supported TLS protocol versions
type TLSVersion string

const (
	TLSVersion10 TLSVersion = "1.0"
	TLSVersion11 TLSVersion = "1.1"
	TLSVersion12 TLSVersion = "1.2"
	TLSVersion13 TLSVersion = "1.3"
)

// ParseTLSVersion converts a string to a TLSVersion with validation
func ParseTLSVersion(version string) (TLSVersion, error) {
	if version == "" {
		return TLSVersion12, nil
	}

	normalized := strings.TrimSpace(version)
	switch TLSVersion(normalized) {
	case TLSVersion10, TLSVersion11, TLSVersion12, TLSVersion13:
		return TLSVersion(normalized), nil
	default:
		return "", fmt.Errorf("unsupported TLS version %q", version)
	}
}

// Uint16 returns the crypto/tls constant for the version.
func (v TLSVersion) Uint16() uint16 {
	switch v {
	case TLSVersion10:
		return tls.VersionTLS10
	case TLSVersion11:
		return tls.VersionTLS11
	case TLSVersion13:
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}

// SecurityConfig describes the TLS material and peer-verification policy for
// a listener or dialer.
type SecurityConfig struct {
	CertFile         string   `yaml:"cert_file,omitempty" json:"cert_file,omitempty"`
	KeyFile          string   `yaml:"key_file,omitempty" json:"key_file,omitempty"`
	CAFile           string   `yaml:"ca_file,omitempty" json:"ca_file,omitempty"`
	MinVersion       string   `yaml:"min_version,omitempty" json:"min_version,omitempty"`
	CipherSuites     []string `yaml:"cipher_suites,omitempty" json:"cipher_suites,omitempty"`
	RequireVerify    bool     `yaml:"require_peer_verification" json:"require_peer_verification"`
	AccessPolicyFile string   `yaml:"access_policy_file,omitempty" json:"access_policy_file,omitempty"`
	WatchFiles       bool     `yaml:"watch_files,omitempty" json:"watch_files,omitempty"`
}

// Validate performs validation of security configuration
func (c *SecurityConfig) Validate() error {
	if c.MinVersion != "" {
		if _, err := ParseTLSVersion(c.MinVersion); err != nil {
			return NewConfigValidationError("min_version", c.MinVersion, err.Error()).
				WithSuggestion("Use a valid TLS version: 1.0, 1.1, 1.2, or 1.3").
				WithSuggestion("Consider using TLS 1.2 or higher for better security")
		}
	}

	if c.CertFile != "" && c.KeyFile == "" {
		return NewConfigMissingError("key_file").
			WithSuggestion("Provide a path to the private key matching cert_file")
	}
	if c.KeyFile != "" && c.CertFile == "" {
		return NewConfigMissingError("cert_file").
			WithSuggestion("Provide a path to the certificate matching key_file")
	}

	for _, cipher := range c.CipherSuites {
		cipher = strings.TrimSpace(cipher)
		if strings.Contains(cipher, "RC4") || strings.Contains(cipher, "3DES") {
			return NewConfigValidationError("cipher_suites", cipher, "insecure cipher suites detected").
				WithSuggestion("Remove insecure cipher suites (RC4, 3DES) from configuration").
				WithSuggestion("Use modern cipher suites with forward secrecy (ECDHE)")
		}
	}

	return nil
}

// ListenConfig describes the server-side listening endpoint.
type ListenConfig struct {
	Address string `yaml:"address" json:"address"`
}

func (c *ListenConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return NewConfigMissingError("listen.address")
	}
	return nil
}

// TargetConfig describes the client-side dial target.
type TargetConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

func (c *TargetConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return NewConfigMissingError("target.host")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return NewConfigValidationError("target.port", c.Port, "port must be between 1 and 65535")
	}
	return nil
}

// TelemetryConfig describes the OTLP trace export options.
type TelemetryConfig struct {
	ServiceName string            `yaml:"service_name,omitempty" json:"service_name,omitempty"`
	Endpoint    string            `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Environment string            `yaml:"environment,omitempty" json:"environment,omitempty"`
	Insecure    bool              `yaml:"insecure,omitempty" json:"insecure,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// LoggingConfig describes structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

func (c *LoggingConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return NewConfigValidationError("logging.level", c.Level, "unsupported log level").
			WithSuggestion("Use one of: debug, info, warn, error")
	}
	switch strings.ToLower(strings.TrimSpace(c.Format)) {
	case "", "text", "json":
	default:
		return NewConfigValidationError("logging.format", c.Format, "unsupported log format").
			WithSuggestion("Use one of: text, json")
	}
	return nil
}
