package config

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadServeConfig(t *testing.T) {
	path := writeConfig(t, `
listen:
  address: ":8443"
security:
  cert_file: /etc/certs/server.pem
  key_file: /etc/certs/server-key.pem
  ca_file: /etc/certs/ca.pem
  min_version: "1.3"
  require_peer_verification: true
  cipher_suites:
    - TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256
logging:
  level: debug
  format: json
telemetry:
  service_name: edge-terminator
  endpoint: collector:4317
  insecure: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateServe())

	assert.Equal(t, ":8443", cfg.Listen.Address)
	assert.True(t, cfg.Security.RequireVerify)
	assert.Equal(t, "1.3", cfg.Security.MinVersion)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "edge-terminator", cfg.Telemetry.ServiceName)
	assert.True(t, cfg.Telemetry.Insecure)
}

func TestLoadDialConfig(t *testing.T) {
	path := writeConfig(t, `
target:
  host: svc.example.com
  port: 8443
security:
  ca_file: /etc/certs/ca.pem
  require_peer_verification: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateDial())
	assert.Equal(t, "svc.example.com", cfg.Target.Host)
	assert.Equal(t, 8443, cfg.Target.Port)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "security: [not a mapping"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestSecurityConfigValidation(t *testing.T) {
	t.Run("bad min version", func(t *testing.T) {
		c := SecurityConfig{MinVersion: "0.9"}
		err := c.Validate()
		require.Error(t, err)
		var ce *ConfigError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "min_version", ce.Field)
		assert.NotEmpty(t, ce.Suggestions)
	})

	t.Run("cert without key", func(t *testing.T) {
		c := SecurityConfig{CertFile: "cert.pem"}
		assert.Error(t, c.Validate())
	})

	t.Run("key without cert", func(t *testing.T) {
		c := SecurityConfig{KeyFile: "key.pem"}
		assert.Error(t, c.Validate())
	})

	t.Run("insecure ciphers rejected", func(t *testing.T) {
		c := SecurityConfig{CipherSuites: []string{"TLS_RSA_WITH_RC4_128_SHA"}}
		assert.Error(t, c.Validate())
	})

	t.Run("empty config is valid", func(t *testing.T) {
		c := SecurityConfig{}
		assert.NoError(t, c.Validate())
	})
}

func TestValidateServeRequiresListenAndCert(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.ValidateServe())

	cfg.Listen.Address = ":8443"
	assert.Error(t, cfg.ValidateServe(), "serve needs certificate material")

	cfg.Security.CertFile = "cert.pem"
	cfg.Security.KeyFile = "key.pem"
	assert.NoError(t, cfg.ValidateServe())
}

func TestValidateDialRequiresTarget(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.ValidateDial())

	cfg.Target.Host = "svc.example.com"
	cfg.Target.Port = 0
	assert.Error(t, cfg.ValidateDial())

	cfg.Target.Port = 70000
	assert.Error(t, cfg.ValidateDial())

	cfg.Target.Port = 8443
	assert.NoError(t, cfg.ValidateDial())
}

func TestParseTLSVersion(t *testing.T) {
	v, err := ParseTLSVersion("")
	require.NoError(t, err)
	assert.Equal(t, TLSVersion12, v)

	v, err = ParseTLSVersion(" 1.3 ")
	require.NoError(t, err)
	assert.Equal(t, TLSVersion13, v)

	_, err = ParseTLSVersion("2.0")
	assert.Error(t, err)
}

func TestTLSVersionUint16(t *testing.T) {
	assert.EqualValues(t, tls.VersionTLS10, TLSVersion10.Uint16())
	assert.EqualValues(t, tls.VersionTLS11, TLSVersion11.Uint16())
	assert.EqualValues(t, tls.VersionTLS12, TLSVersion12.Uint16())
	assert.EqualValues(t, tls.VersionTLS13, TLSVersion13.Uint16())
	assert.EqualValues(t, tls.VersionTLS12, TLSVersion("bogus").Uint16())
}

func TestLoggingConfigValidation(t *testing.T) {
	assert.NoError(t, (&LoggingConfig{}).Validate())
	assert.NoError(t, (&LoggingConfig{Level: "warn", Format: "text"}).Validate())
	assert.Error(t, (&LoggingConfig{Level: "verbose"}).Validate())
	assert.Error(t, (&LoggingConfig{Format: "xml"}).Validate())
}

func TestConfigErrorSuggestions(t *testing.T) {
	err := NewConfigMissingError("cert_file").
		WithSuggestion("Provide a path to a valid TLS certificate file")
	assert.Contains(t, err.Error(), "cert_file")
	assert.Len(t, err.Suggestions, 1)
}
