package secure

import (
	"bytes"
	"net"
)

// Decision is the tri-state verdict an AccessManager returns for one identity
// check. Skip means the check was inconclusive and evaluation continues with
// the next identity source; it is never a final answer.
type Decision int

const (
	Deny Decision = iota
	Allow
	Skip
)

func (d Decision) String() string {
	switch d {
	case Deny:
		return "deny"
	case Allow:
		return "allow"
	case Skip:
		return "skip"
	}
	return "unknown"
}

// AccessManager decides whether a peer identity is authorized. Implementations
// must never panic; every check returns a Decision.
//
// The three checks correspond to the three identity sources walked after a
// handshake: the peer's network address alone, a hostname against a
// certificate name pattern, and the peer's address against a raw address
// pattern from the certificate.
type AccessManager interface {
	VerifyAddress(addr net.Addr) Decision
	VerifyHostname(host string, pattern []byte) Decision
	VerifyAddressPattern(addr net.Addr, pattern []byte) Decision
}

// DefaultClientAccessManager is the policy installed on client sockets when no
// manager was supplied: no address allow-listing, exact raw-address equality,
// and wildcard hostname matching. Anything it cannot conclusively allow is
// Skip, so exhausting all identity sources still denies.
type DefaultClientAccessManager struct{}

func (DefaultClientAccessManager) VerifyAddress(net.Addr) Decision {
	return Skip
}

func (DefaultClientAccessManager) VerifyHostname(host string, pattern []byte) Decision {
	if host == "" || len(pattern) == 0 {
		return Skip
	}
	if matchHostname(host, pattern) {
		return Allow
	}
	return Skip
}

func (DefaultClientAccessManager) VerifyAddressPattern(addr net.Addr, pattern []byte) Decision {
	ip := addrIP(addr)
	if ip == nil {
		return Skip
	}
	if ip4 := ip.To4(); ip4 != nil {
		if len(pattern) == net.IPv4len && bytes.Equal(ip4, pattern) {
			return Allow
		}
		return Skip
	}
	if ip16 := ip.To16(); ip16 != nil && len(pattern) == net.IPv6len && bytes.Equal(ip16, pattern) {
		return Allow
	}
	return Skip
}

// PermitAllAccessManager allows every peer. Useful when authorization is
// handled entirely by chain verification.
type PermitAllAccessManager struct{}

func (PermitAllAccessManager) VerifyAddress(net.Addr) Decision { return Allow }

func (PermitAllAccessManager) VerifyHostname(string, []byte) Decision { return Allow }

func (PermitAllAccessManager) VerifyAddressPattern(net.Addr, []byte) Decision { return Allow }

// addrIP extracts the IP from a network address, or nil when the address
// family has none.
func addrIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	case *net.IPAddr:
		return a.IP
	case nil:
		return nil
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	return net.ParseIP(host)
}

// matchHostname reports whether a dotted hostname matches a certificate name
// pattern. Comparison is case-insensitive over ASCII only, so the result does
// not depend on the process locale. A single '*' absorbs exactly one
// non-empty dot-delimited label and never crosses a '.'. The pattern and the
// hostname must be consumed exactly together.
func matchHostname(host string, pattern []byte) bool {
	i, j := 0, 0
	for i < len(pattern) && j < len(host) {
		if upperASCII(pattern[i]) == upperASCII(host[j]) {
			i++
			j++
			continue
		}
		if pattern[i] == '*' {
			start := j
			for j < len(host) && host[j] != '.' {
				j++
			}
			if j == start {
				return false
			}
			i++
			continue
		}
		return false
	}
	return i == len(pattern) && j == len(host)
}

// upperASCII folds a-z without consulting the locale; toupper('i') must not
// depend on it.
func upperASCII(c byte) byte {
	if 'a' <= c && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}
