package secure

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/youmark/pkcs8"
)

func TestLoadCertificateChain(t *testing.T) {
	ctx := withEngineContext(t)

	caPEM, _, caCert, caKey := generateTestCert(t, testCertSpec{commonName: "test ca", isCA: true})
	leafPEM, _, _, _ := generateTestCert(t, testCertSpec{
		commonName: "svc.example.com",
		dnsNames:   []string{"svc.example.com"},
		parent:     caCert,
		parentKey:  caKey,
	})

	t.Run("single certificate", func(t *testing.T) {
		path := writeTestFile(t, "leaf.pem", leafPEM)
		require.NoError(t, ctx.loadCertificateChain(path))
		assert.Len(t, ctx.snapshot().certChain, 1)
	})

	t.Run("full chain", func(t *testing.T) {
		path := writeTestFile(t, "chain.pem", append(append([]byte{}, leafPEM...), caPEM...))
		require.NoError(t, ctx.loadCertificateChain(path))
		assert.Len(t, ctx.snapshot().certChain, 2)
	})

	t.Run("no certificate data", func(t *testing.T) {
		path := writeTestFile(t, "empty.pem", []byte("not pem at all"))
		assert.Error(t, ctx.loadCertificateChain(path))
	})

	t.Run("missing file", func(t *testing.T) {
		assert.Error(t, ctx.loadCertificateChain("/nonexistent/cert.pem"))
	})
}

func TestLoadPrivateKeyFormats(t *testing.T) {
	ctx := withEngineContext(t)
	_, rsaPEM, _, rsaKey := generateTestCert(t, testCertSpec{commonName: "k"})

	t.Run("pkcs1 rsa", func(t *testing.T) {
		path := writeTestFile(t, "rsa.pem", rsaPEM)
		require.NoError(t, ctx.loadPrivateKey(path))
	})

	t.Run("pkcs8", func(t *testing.T) {
		der, err := x509.MarshalPKCS8PrivateKey(rsaKey)
		require.NoError(t, err)
		path := writeTestFile(t, "pkcs8.pem",
			pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
		require.NoError(t, ctx.loadPrivateKey(path))
	})

	t.Run("ec", func(t *testing.T) {
		ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		der, err := x509.MarshalECPrivateKey(ecKey)
		require.NoError(t, err)
		path := writeTestFile(t, "ec.pem",
			pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))
		require.NoError(t, ctx.loadPrivateKey(path))
	})

	t.Run("encrypted pkcs8 with password callback", func(t *testing.T) {
		der, err := pkcs8.MarshalPrivateKey(rsaKey, []byte("letmein"), nil)
		require.NoError(t, err)
		path := writeTestFile(t, "enc.pem",
			pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: der}))

		ctx.setPasswordFunc(func(maxLen int) (string, error) {
			return "letmein", nil
		})
		require.NoError(t, ctx.loadPrivateKey(path))
	})

	t.Run("encrypted pkcs8 without callback", func(t *testing.T) {
		der, err := pkcs8.MarshalPrivateKey(rsaKey, []byte("letmein"), nil)
		require.NoError(t, err)
		path := writeTestFile(t, "enc2.pem",
			pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: der}))

		ctx.setPasswordFunc(nil)
		assert.Error(t, ctx.loadPrivateKey(path))
	})

	t.Run("unsupported block type", func(t *testing.T) {
		path := writeTestFile(t, "weird.pem",
			pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: []byte{1}}))
		assert.Error(t, ctx.loadPrivateKey(path))
	})
}

func TestPassphraseTruncation(t *testing.T) {
	ctx := withEngineContext(t)
	long := strings.Repeat("p", maxPassphraseLen+40)
	ctx.setPasswordFunc(func(maxLen int) (string, error) {
		return long, nil
	})
	pw, err := ctx.passphrase()
	require.NoError(t, err)
	assert.Len(t, pw, maxPassphraseLen)
}

func TestLoadTrustBundle(t *testing.T) {
	ctx := withEngineContext(t)
	caPEM, _, _, _ := generateTestCert(t, testCertSpec{commonName: "ca", isCA: true})

	require.NoError(t, ctx.loadTrustBundle(writeTestFile(t, "ca.pem", caPEM)))
	assert.NotNil(t, ctx.snapshot().trust)

	assert.Error(t, ctx.loadTrustBundle(writeTestFile(t, "junk.pem", []byte("junk"))))
	assert.Error(t, ctx.loadTrustBundle("/nonexistent/ca.pem"))
}

func TestNewSessionServerRequiresCertificate(t *testing.T) {
	ctx := withEngineContext(t)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	var diags diagnosticQueue
	_, err := ctx.newSession(RoleServer, server, "", &diags)
	require.Error(t, err)
	assert.True(t, IsInternal(err))
}

func TestNewSessionNilConn(t *testing.T) {
	ctx := withEngineContext(t)
	var diags diagnosticQueue
	_, err := ctx.newSession(RoleClient, nil, "svc.example.com", &diags)
	require.Error(t, err)
	assert.True(t, IsInternal(err))
}

func TestNewSessionMissingKeyForChain(t *testing.T) {
	ctx := withEngineContext(t)
	leafPEM, _, _, _ := generateTestCert(t, testCertSpec{commonName: "svc"})
	require.NoError(t, ctx.loadCertificateChain(writeTestFile(t, "leaf.pem", leafPEM)))

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	var diags diagnosticQueue
	_, err := ctx.newSession(RoleClient, client, "svc", &diags)
	require.Error(t, err)
	assert.True(t, IsInternal(err))
}

func TestContextDefaults(t *testing.T) {
	ctx := withEngineContext(t)
	snap := ctx.snapshot()
	assert.EqualValues(t, tls.VersionTLS12, snap.minVersion)
	assert.False(t, snap.verifyRequired)
	assert.False(t, ctx.isVerifyRequired())

	ctx.setVerifyRequired(true)
	assert.True(t, ctx.isVerifyRequired())

	ctx.setMinVersion(tls.VersionTLS13)
	assert.EqualValues(t, tls.VersionTLS13, ctx.snapshot().minVersion)
}
