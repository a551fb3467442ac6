// Package transport defines the byte-stream abstraction the secure layer
// wraps, plus a thin TCP-backed implementation.
//
// The secure socket consumes this contract; it never reaches around it except
// to bind the TLS session to the underlying connection.
package transport

import (
	"io"
	"net"
)

// Stream is a byte-stream connection endpoint. Implementations are expected
// to be used by one goroutine at a time; callers coordinate externally when a
// stream is shared.
type Stream interface {
	io.Reader
	io.Writer

	// Open establishes the connection. Calling Open on an already-open
	// stream is an error.
	Open() error

	// Close tears the connection down. Close on an already-closed stream
	// must be tolerated.
	Close() error

	// IsOpen reports whether the connection is currently established.
	IsOpen() bool

	// Flush forces any buffered bytes onto the wire. Streams without a
	// write buffer return nil.
	Flush() error

	// Conn exposes the underlying connection so a security layer can bind
	// a session directly to it.
	Conn() net.Conn

	// RemoteAddr returns the peer's network address, or nil before the
	// connection is established.
	RemoteAddr() net.Addr

	// Host returns the configured target hostname. Empty for streams
	// created from an accepted connection.
	Host() string

	// PeerHost returns the best-known hostname for the peer, falling back
	// to the peer's address literal.
	PeerHost() string
}
