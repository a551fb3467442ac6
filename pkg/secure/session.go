package secure

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
)

// session is one TLS cryptographic state machine bound to a single
// connection. It is owned exclusively by one Socket.
type session interface {
	Handshake() error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)

	// Shutdown performs one step of the orderly bidirectional shutdown.
	// done reports whether both directions have completed; a second call
	// may be needed to collect the peer's close notification.
	Shutdown() (done bool, err error)

	// ShutdownState returns the shutdown-sent and shutdown-received flags.
	ShutdownState() (sent, received bool)

	// Close releases the session without touching the underlying
	// connection; the wrapped transport owns that.
	Close() error

	// PeerCertificates returns the peer's presented chain, leaf first.
	PeerCertificates() []*x509.Certificate

	// ChainVerified returns nil when the engine's certificate-chain
	// verification result is OK, else the verification failure.
	ChainVerified() error
}

type tlsSession struct {
	conn  *tls.Conn
	role  Role
	diags *diagnosticQueue

	// verified is set at creation when chain verification is enforced (or
	// trivially OK) during the handshake itself. Otherwise the chain is
	// checked advisorily after the handshake against advisoryTrust.
	verified      bool
	advisoryTrust *x509.CertPool

	mu               sync.Mutex
	handshaken       bool
	shutdownSent     bool
	shutdownReceived bool
	verifyErr        error
}

func (s *tlsSession) Handshake() error {
	if err := s.conn.Handshake(); err != nil {
		s.recordDiag(err)
		return err
	}
	s.mu.Lock()
	s.handshaken = true
	s.mu.Unlock()
	if !s.verified {
		s.advisoryVerify()
	}
	return nil
}

// advisoryVerify computes the chain-verification result when the handshake
// did not enforce it, so authorization can still consult it.
func (s *tlsSession) advisoryVerify() {
	peers := s.conn.ConnectionState().PeerCertificates
	if len(peers) == 0 {
		return
	}
	raw := make([][]byte, len(peers))
	for i, cert := range peers {
		raw[i] = cert.Raw
	}
	_, err := verifyPeerChain(raw, s.advisoryTrust)
	s.mu.Lock()
	s.verifyErr = err
	s.mu.Unlock()
}

func (s *tlsSession) Read(p []byte) (int, error) {
	n, err := s.conn.Read(p)
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.mu.Lock()
			s.shutdownReceived = true
			s.mu.Unlock()
		} else {
			s.recordDiag(err)
		}
	}
	return n, err
}

func (s *tlsSession) Write(p []byte) (int, error) {
	n, err := s.conn.Write(p)
	if err != nil {
		s.recordDiag(err)
	}
	return n, err
}

func (s *tlsSession) Shutdown() (bool, error) {
	s.mu.Lock()
	sent, received := s.shutdownSent, s.shutdownReceived
	s.mu.Unlock()

	if sent && received {
		return true, nil
	}
	if !sent {
		if err := s.conn.CloseWrite(); err != nil {
			return false, err
		}
		s.mu.Lock()
		s.shutdownSent = true
		received = s.shutdownReceived
		s.mu.Unlock()
		return received, nil
	}

	// Close notification sent on an earlier step; wait for the peer's.
	var buf [1]byte
	n, err := s.conn.Read(buf[:])
	if errors.Is(err, io.EOF) {
		s.mu.Lock()
		s.shutdownReceived = true
		s.mu.Unlock()
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, fmt.Errorf("unexpected %d data byte(s) during shutdown", n)
}

func (s *tlsSession) ShutdownState() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdownSent, s.shutdownReceived
}

func (s *tlsSession) Close() error {
	return nil
}

func (s *tlsSession) PeerCertificates() []*x509.Certificate {
	s.mu.Lock()
	done := s.handshaken
	s.mu.Unlock()
	if !done {
		return nil
	}
	return s.conn.ConnectionState().PeerCertificates
}

func (s *tlsSession) ChainVerified() error {
	if s.verified {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifyErr
}

// recordDiag pushes protocol-level failures onto the diagnostic queue.
// Transport-level conditions stay out of it; the read-retry logic relies on
// an interrupted syscall leaving the queue empty.
func (s *tlsSession) recordDiag(err error) {
	if isTransportError(err) {
		return
	}
	s.diags.push(err.Error())
}

func isTransportError(err error) bool {
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

var _ session = (*tlsSession)(nil)
