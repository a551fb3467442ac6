// Package secure implements a TLS-capable stream transport usable as a
// drop-in secure replacement for a plain socket inside an RPC transport
// stack.
//
// A Factory owns one reusable security Context and mints Sockets for either
// side of the handshake. Each Socket wraps one underlying byte-stream
// connection and drives the handshake lazily on first I/O, so a server can
// accept a connection and defer the handshake cost until the first real
// read or write. After a successful handshake the peer's identity evidence
// (alternate names, subject common names, network address) is walked against
// the configured AccessManager; the default is deny.
package secure
