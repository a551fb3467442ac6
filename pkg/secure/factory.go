package secure

import (
	"log/slog"
	"net"
	"sync"

	"github.com/harborgrid/securestream/internal/engine"
	"github.com/harborgrid/securestream/pkg/transport"
)

// Factory holds one security Context and an optional AccessManager, and mints
// secure sockets for one side of the handshake. Constructing a Factory takes
// a reference on the engine lifecycle; Close releases it, so process-global
// engine state follows the Factory population, not individual sockets.
type Factory struct {
	mu        sync.Mutex
	ctx       *Context
	access    AccessManager
	accessSet bool
	server    bool
	logger    *slog.Logger
	metrics   *MetricsCollector
	watcher   *CertificateWatcher
	closed    bool
}

// Option configures a Factory at construction.
type Option func(*Factory)

// WithServerRole makes the factory mint server-role sockets.
func WithServerRole() Option {
	return func(f *Factory) { f.server = true }
}

// WithLogger supplies the structured logger used by the factory and its
// sockets.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithAccessManager installs the peer-authorization policy shared by all
// sockets from this factory.
func WithAccessManager(am AccessManager) Option {
	return func(f *Factory) {
		f.access = am
		f.accessSet = true
	}
}

// NewFactory acquires the engine lifecycle and creates a fresh security
// Context.
func NewFactory(opts ...Option) (*Factory, error) {
	if err := engine.Acquire(); err != nil {
		return nil, newSecurityError(ErrorTypeInternal, "initialize engine", "", err)
	}
	f := &Factory{logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	f.ctx = newContext()
	f.metrics, _ = GetMetricsCollector(f.logger)
	return f, nil
}

// Close releases the factory's engine reference. The Context dies with the
// factory; sockets already minted keep their live sessions but no new ones
// should be created.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.watcher != nil {
		_ = f.watcher.Close()
		f.watcher = nil
	}
	f.ctx.close()
	engine.Release()
	return nil
}

// SetAccessManager installs or replaces the shared authorization policy.
// Passing nil disables authorization explicitly, suppressing the default
// client manager.
func (f *Factory) SetAccessManager(am AccessManager) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.access = am
	f.accessSet = true
}

// CreateSocket mints an unconnected client-target socket for host:port. The
// caller opens it.
func (f *Factory) CreateSocket(host string, port int) (*Socket, error) {
	return f.CreateSocketFromStream(transport.NewTCPStream(host, port))
}

// CreateSocketFromConn mints a socket over an already-established connection,
// typically one returned by a listener's Accept.
func (f *Factory) CreateSocketFromConn(conn net.Conn) (*Socket, error) {
	if conn == nil {
		return nil, newBadArguments("create socket", "connection is nil")
	}
	return f.CreateSocketFromStream(transport.NewTCPStreamFromConn(conn))
}

// CreateSocketFromStream mints a socket over an arbitrary stream transport.
func (f *Factory) CreateSocketFromStream(st transport.Stream) (*Socket, error) {
	if st == nil {
		return nil, newBadArguments("create socket", "stream is nil")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, newBadArguments("create socket", "factory is closed")
	}
	role := RoleClient
	if f.server {
		role = RoleServer
	}
	// Clients verify servers by default; server-side authorization stays
	// opt-in.
	if role == RoleClient && !f.accessSet {
		f.access = DefaultClientAccessManager{}
		f.accessSet = true
	}
	return newSocket(f.ctx, st, role, f.access, f.logger, f.metrics), nil
}

// SetCipherList restricts the Context to the named cipher suites. The list
// is colon- or comma-separated; it is an error when none of the named
// ciphers are supported.
func (f *Factory) SetCipherList(list string) error {
	ids := parseCipherList(list)
	if list != "" && len(ids) == 0 {
		return newSecurityError(ErrorTypeConfigValidation, "set cipher list",
			"none of the specified ciphers are supported", nil)
	}
	f.ctx.setCipherSuites(ids)
	return nil
}

// SetAuthenticate switches peer verification between required and optional.
func (f *Factory) SetAuthenticate(required bool) {
	f.ctx.setVerifyRequired(required)
}

// SetMinVersion sets the lowest acceptable protocol version.
func (f *Factory) SetMinVersion(v uint16) {
	f.ctx.setMinVersion(v)
}

// LoadCertificate loads the certificate chain presented to peers. Only the
// "PEM" format is supported.
func (f *Factory) LoadCertificate(path, format string) error {
	if path == "" || format == "" {
		return newBadArguments("load certificate", "path or format is empty")
	}
	if format != "PEM" {
		return newSecurityError(ErrorTypeUnsupportedFormat, "load certificate",
			"unsupported certificate format: "+format, nil)
	}
	if err := f.ctx.loadCertificateChain(path); err != nil {
		return newSecurityError(ErrorTypeCertificateLoad, "load certificate", "", err)
	}
	f.logger.Info("certificate chain loaded", "path", path)
	return nil
}

// LoadPrivateKey loads the private key matching the certificate chain. Only
// the "PEM" format is supported; encrypted keys are decrypted through the
// password callback.
func (f *Factory) LoadPrivateKey(path, format string) error {
	if path == "" || format == "" {
		return newBadArguments("load private key", "path or format is empty")
	}
	if format != "PEM" {
		return newSecurityError(ErrorTypeUnsupportedFormat, "load private key",
			"unsupported private key format: "+format, nil)
	}
	if err := f.ctx.loadPrivateKey(path); err != nil {
		return newSecurityError(ErrorTypeCertificateLoad, "load private key", "", err)
	}
	return nil
}

// LoadTrustedCertificates loads the PEM bundle of roots used to verify peer
// chains.
func (f *Factory) LoadTrustedCertificates(path string) error {
	if path == "" {
		return newBadArguments("load trusted certificates", "path is empty")
	}
	if err := f.ctx.loadTrustBundle(path); err != nil {
		return newSecurityError(ErrorTypeCertificateLoad, "load trusted certificates", "", err)
	}
	f.logger.Info("trust bundle loaded", "path", path)
	return nil
}

// OverridePasswordCallback installs the passphrase source for encrypted
// private keys.
func (f *Factory) OverridePasswordCallback(fn PasswordFunc) {
	f.ctx.setPasswordFunc(fn)
}

// WatchCertificateFiles reloads the certificate chain and key into the
// Context whenever either file changes on disk. Must be configured before
// sockets are minted concurrently.
func (f *Factory) WatchCertificateFiles(certPath, keyPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watcher != nil {
		return newBadArguments("watch certificates", "already watching")
	}
	w, err := NewCertificateWatcher([]string{certPath, keyPath}, f.logger, func() {
		if err := f.ctx.loadCertificateChain(certPath); err != nil {
			f.logger.Error("certificate reload failed", "path", certPath, "error", err)
			return
		}
		if err := f.ctx.loadPrivateKey(keyPath); err != nil {
			f.logger.Error("private key reload failed", "path", keyPath, "error", err)
			return
		}
		f.logger.Info("certificate reloaded", "cert", certPath, "key", keyPath)
	})
	if err != nil {
		return newSecurityError(ErrorTypeInternal, "watch certificates", "", err)
	}
	f.watcher = w
	return nil
}
