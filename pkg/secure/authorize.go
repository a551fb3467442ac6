package secure

import (
	"context"
	"crypto/x509"
	"encoding/asn1"
	"net"
)

var commonNameOID = asn1.ObjectIdentifier{2, 5, 4, 3}

// authorize runs once per socket, immediately after a successful handshake
// and before the socket is usable. The default is deny: only an explicit
// Allow from the access manager (or the absence of both certificate and
// manager on an optional-verification connection) accepts the peer.
func (s *Socket) authorize() error {
	if err := s.sess.ChainVerified(); err != nil {
		return s.denied("certificate chain verification failed: "+err.Error(), err)
	}

	certs := s.sess.PeerCertificates()
	if len(certs) == 0 {
		if s.ctx.isVerifyRequired() {
			return s.denied("required certificate not present", nil)
		}
		if s.role == RoleServer && s.access != nil {
			// A server requiring authorization must also require a
			// certificate.
			return s.denied("certificate required for authorization", nil)
		}
		// Certificate was optional and there is no manager to consult.
		return nil
	}

	if s.access == nil {
		return nil
	}

	addr := s.stream.RemoteAddr()
	decision := s.access.VerifyAddress(addr)
	if decision != Skip {
		return s.conclude(decision, "remote_address", "access denied based on remote address")
	}

	cert := certs[0]
	decision = s.checkAlternateNames(cert, addr)
	if decision != Skip {
		return s.conclude(decision, "alternate_name", "access denied")
	}

	decision = s.checkCommonNames(cert)
	if decision != Allow {
		return s.conclude(decision, "common_name", "cannot authorize peer")
	}
	return s.conclude(Allow, "common_name", "")
}

// checkAlternateNames walks the certificate's alternate-name list, stopping
// at the first conclusive decision. DNS-typed entries are compared against
// the locally-known hostname for this connection; address-typed entries
// against the raw peer address.
func (s *Socket) checkAlternateNames(cert *x509.Certificate, addr net.Addr) Decision {
	for _, name := range cert.DNSNames {
		if d := s.access.VerifyHostname(s.localHostname(), []byte(name)); d != Skip {
			return d
		}
	}
	for _, ip := range cert.IPAddresses {
		pattern := []byte(ip)
		if ip4 := ip.To4(); ip4 != nil {
			pattern = ip4
		}
		if d := s.access.VerifyAddressPattern(addr, pattern); d != Skip {
			return d
		}
	}
	return Skip
}

// checkCommonNames walks the subject's common-name entries in certificate
// order, stopping at the first conclusive decision.
func (s *Socket) checkCommonNames(cert *x509.Certificate) Decision {
	for _, atv := range cert.Subject.Names {
		if !atv.Type.Equal(commonNameOID) {
			continue
		}
		cn, ok := atv.Value.(string)
		if !ok {
			continue
		}
		if d := s.access.VerifyHostname(s.localHostname(), []byte(cn)); d != Skip {
			return d
		}
	}
	return Skip
}

// localHostname resolves the hostname the peer's certificate names are
// compared against: the peer's hostname for the server role, the configured
// target hostname for the client role.
func (s *Socket) localHostname() string {
	if s.role == RoleServer {
		return s.stream.PeerHost()
	}
	return s.stream.Host()
}

func (s *Socket) conclude(d Decision, source, denyMessage string) error {
	if s.metrics != nil {
		s.metrics.RecordAuthorization(context.Background(), s.role.String(), d.String())
	}
	s.events.LogAuthorizationDecision(context.Background(), s.role.String(),
		d.String(), source, addrString(s.stream.RemoteAddr()))
	if d != Allow {
		return newSecurityError(ErrorTypeAuthorizationDenied, "authorize", denyMessage, nil)
	}
	return nil
}

func (s *Socket) denied(message string, cause error) error {
	if s.metrics != nil {
		s.metrics.RecordAuthorization(context.Background(), s.role.String(), Deny.String())
	}
	return newSecurityError(ErrorTypeAuthorizationDenied, "authorize", message, cause)
}
