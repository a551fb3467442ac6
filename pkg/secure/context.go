package secure

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"os"

	"github.com/youmark/pkcs8"

	"github.com/harborgrid/securestream/internal/engine"
)

// Role selects which side of the handshake a socket drives.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// PasswordFunc supplies the passphrase for an encrypted private key. maxLen is
// the longest passphrase the engine accepts; longer results are truncated.
type PasswordFunc func(maxLen int) (string, error)

const maxPassphraseLen = 256

// slotContextState is the fixed lock-table slot guarding context
// configuration against concurrent session creation.
const slotContextState = 7

// Context owns one reusable TLS configuration and manufactures per-connection
// sessions from it. Exactly one Context exists per Factory and it outlives
// every session it creates. Configuration mutators must run before sessions
// are minted concurrently; session creation itself is safe from any number of
// goroutines.
type Context struct {
	cacheLock    uint64
	sessionCache tls.ClientSessionCache

	// The fields below are guarded by the engine lock slot slotContextState.
	minVersion     uint16
	cipherSuites   []uint16
	verifyRequired bool
	certChain      [][]byte
	privateKey     crypto.PrivateKey
	trust          *x509.CertPool
	password       PasswordFunc
}

// newContext requires a live engine reference held by the owning Factory.
func newContext() *Context {
	id := engine.NewDynLock()
	return &Context{
		cacheLock:    id,
		sessionCache: tls.NewLRUClientSessionCache(0),
		minVersion:   tls.VersionTLS12,
	}
}

func (c *Context) close() {
	engine.DestroyDynLock(c.cacheLock)
}

func (c *Context) setCipherSuites(ids []uint16) {
	engine.LockSlot(slotContextState)
	defer engine.UnlockSlot(slotContextState)
	c.cipherSuites = ids
}

func (c *Context) setVerifyRequired(required bool) {
	engine.LockSlot(slotContextState)
	defer engine.UnlockSlot(slotContextState)
	c.verifyRequired = required
}

func (c *Context) setMinVersion(v uint16) {
	engine.LockSlot(slotContextState)
	defer engine.UnlockSlot(slotContextState)
	c.minVersion = v
}

func (c *Context) setPasswordFunc(fn PasswordFunc) {
	engine.LockSlot(slotContextState)
	defer engine.UnlockSlot(slotContextState)
	c.password = fn
}

// loadCertificateChain reads a PEM certificate chain file into the context.
func (c *Context) loadCertificateChain(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read certificate file: %w", err)
	}
	var chain [][]byte
	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			chain = append(chain, block.Bytes)
		}
	}
	if len(chain) == 0 {
		return fmt.Errorf("no certificate PEM data in %s", path)
	}
	if _, err := x509.ParseCertificate(chain[0]); err != nil {
		return fmt.Errorf("parse leaf certificate: %w", err)
	}
	engine.LockSlot(slotContextState)
	defer engine.UnlockSlot(slotContextState)
	c.certChain = chain
	return nil
}

// loadPrivateKey reads a PEM private key file, decrypting it through the
// password callback when the key material is encrypted.
func (c *Context) loadPrivateKey(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read private key file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return fmt.Errorf("no private key PEM data in %s", path)
	}

	var key crypto.PrivateKey
	switch block.Type {
	case "ENCRYPTED PRIVATE KEY":
		pw, perr := c.passphrase()
		if perr != nil {
			return perr
		}
		key, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(pw))
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		return fmt.Errorf("unsupported private key block type %q", block.Type)
	}
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}
	engine.LockSlot(slotContextState)
	defer engine.UnlockSlot(slotContextState)
	c.privateKey = key
	return nil
}

func (c *Context) passphrase() (string, error) {
	engine.LockSlot(slotContextState)
	fn := c.password
	engine.UnlockSlot(slotContextState)
	if fn == nil {
		return "", fmt.Errorf("encrypted private key but no password callback configured")
	}
	pw, err := fn(maxPassphraseLen)
	if err != nil {
		return "", fmt.Errorf("password callback: %w", err)
	}
	if len(pw) > maxPassphraseLen {
		pw = pw[:maxPassphraseLen]
	}
	return pw, nil
}

// loadTrustBundle reads a PEM bundle of trusted roots.
func (c *Context) loadTrustBundle(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read trust bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return fmt.Errorf("no trusted certificates in %s", path)
	}
	engine.LockSlot(slotContextState)
	defer engine.UnlockSlot(slotContextState)
	c.trust = pool
	return nil
}

// configSnapshot is the immutable view a session is created from.
type configSnapshot struct {
	minVersion     uint16
	cipherSuites   []uint16
	verifyRequired bool
	certChain      [][]byte
	privateKey     crypto.PrivateKey
	trust          *x509.CertPool
}

func (c *Context) snapshot() configSnapshot {
	engine.LockSlot(slotContextState)
	defer engine.UnlockSlot(slotContextState)
	return configSnapshot{
		minVersion:     c.minVersion,
		cipherSuites:   c.cipherSuites,
		verifyRequired: c.verifyRequired,
		certChain:      c.certChain,
		privateKey:     c.privateKey,
		trust:          c.trust,
	}
}

func (s configSnapshot) certificate() (*tls.Certificate, error) {
	if len(s.certChain) == 0 {
		return nil, nil
	}
	if s.privateKey == nil {
		return nil, fmt.Errorf("certificate chain loaded but private key is missing")
	}
	leaf, err := x509.ParseCertificate(s.certChain[0])
	if err != nil {
		return nil, fmt.Errorf("parse leaf certificate: %w", err)
	}
	return &tls.Certificate{
		Certificate: s.certChain,
		PrivateKey:  s.privateKey,
		Leaf:        leaf,
	}, nil
}

// verifyRequired reports the context's current verification mode.
func (c *Context) isVerifyRequired() bool {
	engine.LockSlot(slotContextState)
	defer engine.UnlockSlot(slotContextState)
	return c.verifyRequired
}

// newSession allocates a session bound to conn. serverName is the client
// role's configured target hostname; ignored for servers.
func (c *Context) newSession(role Role, conn net.Conn, serverName string, diags *diagnosticQueue) (*tlsSession, error) {
	if conn == nil {
		return nil, newSecurityError(ErrorTypeInternal, "create session",
			"no usable connection to bind the session to", nil)
	}

	snap := c.snapshot()
	cert, err := snap.certificate()
	if err != nil {
		return nil, newSecurityError(ErrorTypeInternal, "create session",
			diags.buildMessage(err), err)
	}

	cfg := &tls.Config{
		MinVersion:   snap.minVersion,
		CipherSuites: snap.cipherSuites,
	}
	if cert != nil {
		cfg.Certificates = []tls.Certificate{*cert}
	}

	sess := &tlsSession{role: role, diags: diags}

	switch role {
	case RoleServer:
		if cert == nil {
			return nil, newSecurityError(ErrorTypeInternal, "create session",
				"server role requires certificate material", nil)
		}
		if snap.verifyRequired {
			cfg.ClientAuth = tls.RequireAndVerifyClientCert
			cfg.ClientCAs = snap.trust
			sess.verified = true
		} else {
			// Engine never requests a certificate in this mode, so the
			// chain-verification result is trivially OK.
			cfg.ClientAuth = tls.NoClientCert
			sess.verified = true
		}
		sess.conn = tls.Server(conn, cfg)
	default:
		cfg.ServerName = serverName
		cfg.ClientSessionCache = lockedSessionCache{id: c.cacheLock, inner: c.sessionCache}
		// Hostname policy belongs to the access manager, so the engine's
		// own hostname check is replaced with chain-only verification.
		cfg.InsecureSkipVerify = true
		if snap.verifyRequired {
			cfg.VerifyPeerCertificate = chainOnlyVerifier(snap.trust)
			sess.verified = true
		} else {
			// Verification was optional: the chain result is computed
			// after the handshake and surfaced during authorization.
			sess.advisoryTrust = snap.trust
		}
		sess.conn = tls.Client(conn, cfg)
	}
	return sess, nil
}

// chainOnlyVerifier validates the peer chain against roots (or the system
// pool) without enforcing a hostname.
func chainOnlyVerifier(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		_, err := verifyPeerChain(rawCerts, roots)
		return err
	}
}

func verifyPeerChain(rawCerts [][]byte, roots *x509.CertPool) ([][]*x509.Certificate, error) {
	if len(rawCerts) == 0 {
		return nil, fmt.Errorf("peer presented no certificate")
	}
	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return nil, fmt.Errorf("parse peer certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}
	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	chains, err := certs[0].Verify(opts)
	if err != nil {
		return nil, err
	}
	return chains, nil
}

// lockedSessionCache guards the shared session cache with one of the engine's
// dynamically created locks.
type lockedSessionCache struct {
	id    uint64
	inner tls.ClientSessionCache
}

func (c lockedSessionCache) Get(key string) (*tls.ClientSessionState, bool) {
	engine.LockDyn(c.id)
	defer engine.UnlockDyn(c.id)
	return c.inner.Get(key)
}

func (c lockedSessionCache) Put(key string, cs *tls.ClientSessionState) {
	engine.LockDyn(c.id)
	defer engine.UnlockDyn(c.id)
	c.inner.Put(key, cs)
}
