package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// TCPStream is the minimal TCP implementation of Stream. It carries no write
// buffer of its own, so Flush is a no-op.
type TCPStream struct {
	host    string
	port    int
	timeout time.Duration
	conn    net.Conn
}

// NewTCPStream returns an unconnected stream targeting host:port.
func NewTCPStream(host string, port int) *TCPStream {
	return &TCPStream{host: host, port: port}
}

// NewTCPStreamFromConn wraps an already-established connection, typically one
// returned by a listener's Accept.
func NewTCPStreamFromConn(conn net.Conn) *TCPStream {
	return &TCPStream{conn: conn}
}

// SetConnectTimeout bounds the dial performed by Open. Zero means no bound.
func (s *TCPStream) SetConnectTimeout(d time.Duration) {
	s.timeout = d
}

func (s *TCPStream) Open() error {
	if s.conn != nil {
		return errors.New("transport: stream already open")
	}
	if s.host == "" {
		return errors.New("transport: no target host configured")
	}
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	conn, err := net.DialTimeout("tcp", addr, s.timeout)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	s.conn = conn
	return nil
}

func (s *TCPStream) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *TCPStream) IsOpen() bool {
	return s.conn != nil
}

func (s *TCPStream) Read(p []byte) (int, error) {
	if s.conn == nil {
		return 0, errors.New("transport: stream not open")
	}
	return s.conn.Read(p)
}

func (s *TCPStream) Write(p []byte) (int, error) {
	if s.conn == nil {
		return 0, errors.New("transport: stream not open")
	}
	return s.conn.Write(p)
}

func (s *TCPStream) Flush() error {
	return nil
}

func (s *TCPStream) Conn() net.Conn {
	return s.conn
}

func (s *TCPStream) RemoteAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.RemoteAddr()
}

func (s *TCPStream) Host() string {
	return s.host
}

func (s *TCPStream) PeerHost() string {
	if s.host != "" {
		return s.host
	}
	addr := s.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

var _ Stream = (*TCPStream)(nil)
