// Package policy provides a Rego-backed AccessManager, letting deployments
// express peer-authorization rules as Open Policy Agent modules instead of
// Go code.
//
// The policy contract is a single entrypoint, data.securestream.access.decision,
// evaluating to one of "allow", "deny", or "skip" for an input document
// describing the identity check being made.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/open-policy-agent/opa/rego"

	"github.com/harborgrid/securestream/pkg/secure"
)

const entrypoint = "data.securestream.access.decision"

// RegoAccessManager evaluates authorization checks against a prepared Rego
// query. It satisfies the AccessManager contract: evaluation failures are
// inconclusive (Skip), never raised, so a broken policy falls through to the
// default-deny outcome.
type RegoAccessManager struct {
	query  rego.PreparedEvalQuery
	logger *slog.Logger
}

// NewRegoAccessManager compiles and prepares the given Rego module.
func NewRegoAccessManager(ctx context.Context, module string, logger *slog.Logger) (*RegoAccessManager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	query, err := rego.New(
		rego.Query(entrypoint),
		rego.Module("access.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare access policy: %w", err)
	}
	return &RegoAccessManager{query: query, logger: logger.With("component", "rego_access")}, nil
}

func (m *RegoAccessManager) VerifyAddress(addr net.Addr) secure.Decision {
	return m.eval(map[string]any{
		"kind":    "address",
		"address": addrHost(addr),
	})
}

func (m *RegoAccessManager) VerifyHostname(host string, pattern []byte) secure.Decision {
	return m.eval(map[string]any{
		"kind":    "hostname",
		"host":    host,
		"pattern": string(pattern),
	})
}

func (m *RegoAccessManager) VerifyAddressPattern(addr net.Addr, pattern []byte) secure.Decision {
	return m.eval(map[string]any{
		"kind":    "address_pattern",
		"address": addrHost(addr),
		"pattern": net.IP(pattern).String(),
	})
}

func (m *RegoAccessManager) eval(input map[string]any) secure.Decision {
	rs, err := m.query.Eval(context.Background(), rego.EvalInput(input))
	if err != nil {
		m.logger.Warn("policy evaluation failed", "kind", input["kind"], "error", err)
		return secure.Skip
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return secure.Skip
	}
	switch rs[0].Expressions[0].Value {
	case "allow":
		return secure.Allow
	case "deny":
		return secure.Deny
	case "skip":
		return secure.Skip
	default:
		m.logger.Warn("policy returned unknown decision",
			"kind", input["kind"],
			"decision", rs[0].Expressions[0].Value)
		return secure.Skip
	}
}

func addrHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

var _ secure.AccessManager = (*RegoAccessManager)(nil)
