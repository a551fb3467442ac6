package secure

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/harborgrid/securestream/pkg/transport"
)

// DefaultRecvRetries bounds how many times a read is retried after a
// transient interruption.
const DefaultRecvRetries = 5

// Socket layers a TLS session over one underlying byte-stream connection.
// The handshake is driven lazily by the first read, write, peek, or flush,
// never by Open, so a server can accept a connection and defer the handshake
// cost until the first real I/O.
//
// A Socket is intended for use by one goroutine at a time; callers coordinate
// externally when sharing one.
type Socket struct {
	id      uuid.UUID
	role    Role
	stream  transport.Stream
	ctx     *Context
	access  AccessManager
	events  *EventLogger
	metrics *MetricsCollector

	sess           session
	authzErr       error
	diags          diagnosticQueue
	maxRecvRetries int
	peeked         []byte
}

func newSocket(ctx *Context, st transport.Stream, role Role, access AccessManager, logger *slog.Logger, metrics *MetricsCollector) *Socket {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New()
	return &Socket{
		id:             id,
		role:           role,
		stream:         st,
		ctx:            ctx,
		access:         access,
		events:         NewEventLogger(logger.With("socket_id", id.String())),
		metrics:        metrics,
		maxRecvRetries: DefaultRecvRetries,
	}
}

// Role returns the handshake side this socket drives.
func (s *Socket) Role() Role {
	return s.role
}

// SetMaxRecvRetries overrides the bounded retry count applied to reads
// interrupted at the syscall level.
func (s *Socket) SetMaxRecvRetries(n int) {
	if n > 0 {
		s.maxRecvRetries = n
	}
}

// Open establishes the underlying connection. Client role only: servers
// receive already-accepted connections.
func (s *Socket) Open() error {
	if s.IsOpen() || s.role == RoleServer {
		return newBadArguments("open", "socket already open or server role")
	}
	if err := s.stream.Open(); err != nil {
		return newSecurityError(ErrorTypeIOFailure, "open", "", err)
	}
	return nil
}

// IsOpen reports whether the socket is usable: the underlying connection is
// open, a session exists, and the session has not been shut down in both
// directions.
func (s *Socket) IsOpen() bool {
	if s.sess == nil || !s.stream.IsOpen() {
		return false
	}
	sent, received := s.sess.ShutdownState()
	return !(sent && received)
}

// Peek probes for one readable byte without consuming it. A zero-length
// result means the peer closed (or nothing is readable yet) and is not an
// error; the engine's diagnostic state is cleared instead.
func (s *Socket) Peek() (bool, error) {
	if !s.IsOpen() {
		return false, nil
	}
	if err := s.ensureHandshake(); err != nil {
		return false, err
	}
	if len(s.peeked) > 0 {
		return true, nil
	}
	var buf [1]byte
	n, err := s.sess.Read(buf[:])
	if errors.Is(err, io.EOF) {
		s.diags.clear()
		return false, nil
	}
	if err != nil {
		return false, s.ioFailure("peek", err)
	}
	if n > 0 {
		s.peeked = append(s.peeked, buf[:n]...)
	}
	return n > 0, nil
}

// Read reads up to len(p) bytes from the session. A read interrupted at the
// syscall level with an empty diagnostic queue is retried up to the bounded
// retry count; any other failure raises on first occurrence. A clean
// peer-initiated shutdown surfaces as io.EOF.
func (s *Socket) Read(p []byte) (int, error) {
	if err := s.ensureHandshake(); err != nil {
		return 0, err
	}
	if len(s.peeked) > 0 {
		n := copy(p, s.peeked)
		s.peeked = s.peeked[n:]
		return n, nil
	}
	var lastErr error
	for retries := 0; retries < s.maxRecvRetries; retries++ {
		n, err := s.sess.Read(p)
		if err == nil || errors.Is(err, io.EOF) {
			return n, err
		}
		if errors.Is(err, syscall.EINTR) && s.diags.empty() {
			lastErr = err
			if s.metrics != nil {
				s.metrics.RecordReadRetry(context.Background())
			}
			continue
		}
		return n, s.ioFailure("session read", err)
	}
	return 0, s.ioFailure("session read", lastErr)
}

// Write sends all of p, accumulating partial writes: a short write is an
// expected outcome of the engine, a non-positive one is not and raises
// immediately.
func (s *Socket) Write(p []byte) (int, error) {
	if err := s.ensureHandshake(); err != nil {
		return 0, err
	}
	written := 0
	for written < len(p) {
		n, err := s.sess.Write(p[written:])
		if err != nil {
			return written, s.ioFailure("session write", err)
		}
		if n <= 0 {
			return written, s.ioFailure("session write", io.ErrShortWrite)
		}
		written += n
	}
	return written, nil
}

// Flush forces the underlying write buffering layer onto the wire. A socket
// with no session tolerates Flush silently, since a transport may be flushed
// more than once during teardown.
func (s *Socket) Flush() error {
	if s.sess == nil {
		return nil
	}
	if err := s.ensureHandshake(); err != nil {
		return err
	}
	if err := s.stream.Flush(); err != nil {
		return s.ioFailure("flush", err)
	}
	return nil
}

// Close attempts an orderly bidirectional session shutdown, then always
// closes the underlying connection. Shutdown failures are logged, not
// raised: the socket is being discarded regardless.
func (s *Socket) Close() error {
	if s.sess != nil {
		done, err := s.sess.Shutdown()
		if err == nil && !done {
			_, err = s.sess.Shutdown()
		}
		s.events.LogConnectionEnd(context.Background(), s.role.String(),
			addrString(s.stream.RemoteAddr()), err)
		_ = s.sess.Close()
		s.sess = nil
		s.diags.clear()
		if s.metrics != nil {
			s.metrics.RecordSessionClosed(context.Background(), s.role.String())
		}
	}
	return s.stream.Close()
}

// ensureHandshake lazily creates the session and performs the
// role-appropriate handshake, then authorizes the peer. It no-ops once a
// session exists.
func (s *Socket) ensureHandshake() error {
	if !s.stream.IsOpen() {
		return newNotOpen("handshake")
	}
	if s.sess != nil {
		// A denied peer stays denied; the session is not re-authorized.
		return s.authzErr
	}
	sess, err := s.ctx.newSession(s.role, s.streamConn(), s.stream.Host(), &s.diags)
	if err != nil {
		return err
	}
	s.sess = sess

	op := "client handshake"
	if s.role == RoleServer {
		op = "server handshake"
	}
	start := time.Now()
	if err := sess.Handshake(); err != nil {
		if s.metrics != nil {
			s.metrics.RecordHandshakeError(context.Background(), s.role.String())
		}
		s.events.LogHandshakeFailure(context.Background(), s.role.String(),
			addrString(s.stream.RemoteAddr()), s.stream.Host(), err, time.Since(start))
		return newSecurityError(ErrorTypeHandshakeFailure, op, s.diags.buildMessage(err), err)
	}
	if err := s.authorize(); err != nil {
		s.authzErr = err
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordHandshakeSuccess(context.Background(), s.role.String(), time.Since(start))
	}
	s.events.LogHandshakeSuccess(context.Background(), s.role.String(),
		addrString(s.stream.RemoteAddr()), s.stream.Host(),
		time.Since(start), len(sess.PeerCertificates()))
	return nil
}

// streamConn binds the session to the underlying connection through the
// stream, so flushing the stream flushes session output too.
func (s *Socket) streamConn() net.Conn {
	conn := s.stream.Conn()
	if conn == nil {
		return nil
	}
	return &streamConn{Stream: s.stream, raw: conn}
}

func (s *Socket) ioFailure(op string, cause error) error {
	return newSecurityError(ErrorTypeIOFailure, op, s.diags.buildMessage(cause), cause)
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

// streamConn adapts a transport.Stream to net.Conn so a session can be bound
// to it. Reads and writes go through the stream; everything else delegates to
// the raw connection.
type streamConn struct {
	transport.Stream
	raw net.Conn
}

func (c *streamConn) LocalAddr() net.Addr                { return c.raw.LocalAddr() }
func (c *streamConn) RemoteAddr() net.Addr               { return c.raw.RemoteAddr() }
func (c *streamConn) SetDeadline(t time.Time) error      { return c.raw.SetDeadline(t) }
func (c *streamConn) SetReadDeadline(t time.Time) error  { return c.raw.SetReadDeadline(t) }
func (c *streamConn) SetWriteDeadline(t time.Time) error { return c.raw.SetWriteDeadline(t) }
func (c *streamConn) Close() error                       { return c.raw.Close() }
