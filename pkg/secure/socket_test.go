package secure

import (
	"crypto/x509"
	"errors"
	"io"
	"log/slog"
	"net"
	"syscall"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborgrid/securestream/pkg/transport"
)

// stubStream is an in-memory transport.Stream for driving the socket state
// machine without a network.
type stubStream struct {
	open     bool
	openErr  error
	host     string
	peer     string
	remote   net.Addr
	flushes  int
	flushErr error
	closes   int
}

func (s *stubStream) Read(p []byte) (int, error)  { return 0, io.EOF }
func (s *stubStream) Write(p []byte) (int, error) { return len(p), nil }

func (s *stubStream) Open() error {
	if s.openErr != nil {
		return s.openErr
	}
	s.open = true
	return nil
}

func (s *stubStream) Close() error {
	s.open = false
	s.closes++
	return nil
}

func (s *stubStream) IsOpen() bool { return s.open }

func (s *stubStream) Flush() error {
	s.flushes++
	return s.flushErr
}

func (s *stubStream) Conn() net.Conn       { return nil }
func (s *stubStream) RemoteAddr() net.Addr { return s.remote }
func (s *stubStream) Host() string         { return s.host }
func (s *stubStream) PeerHost() string     { return s.peer }

var _ transport.Stream = (*stubStream)(nil)

// stubSession scripts session behavior for socket tests.
type stubSession struct {
	readFn           func(p []byte) (int, error)
	writeFn          func(p []byte) (int, error)
	handshakeErr     error
	handshakes       int
	shutdownSent     bool
	shutdownReceived bool
	shutdownErr      error
	shutdowns        int
	closes           int
	peers            []*x509.Certificate
	chainErr         error
}

func (s *stubSession) Handshake() error {
	s.handshakes++
	return s.handshakeErr
}

func (s *stubSession) Read(p []byte) (int, error) {
	if s.readFn == nil {
		return 0, io.EOF
	}
	return s.readFn(p)
}

func (s *stubSession) Write(p []byte) (int, error) {
	if s.writeFn == nil {
		return len(p), nil
	}
	return s.writeFn(p)
}

func (s *stubSession) Shutdown() (bool, error) {
	s.shutdowns++
	if s.shutdownErr != nil {
		return false, s.shutdownErr
	}
	if !s.shutdownSent {
		s.shutdownSent = true
		return s.shutdownReceived, nil
	}
	s.shutdownReceived = true
	return true, nil
}

func (s *stubSession) ShutdownState() (bool, bool) { return s.shutdownSent, s.shutdownReceived }

func (s *stubSession) Close() error {
	s.closes++
	return nil
}

func (s *stubSession) PeerCertificates() []*x509.Certificate { return s.peers }
func (s *stubSession) ChainVerified() error                  { return s.chainErr }

var _ session = (*stubSession)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSocket(st transport.Stream, sess session, role Role) *Socket {
	return &Socket{
		id:             uuid.New(),
		role:           role,
		stream:         st,
		sess:           sess,
		events:         NewEventLogger(discardLogger()),
		maxRecvRetries: DefaultRecvRetries,
	}
}

func TestOpenRejectsServerRole(t *testing.T) {
	s := newTestSocket(&stubStream{}, nil, RoleServer)
	err := s.Open()
	require.Error(t, err)
	assert.True(t, IsBadArguments(err))
}

func TestOpenRejectsAlreadyOpen(t *testing.T) {
	s := newTestSocket(&stubStream{open: true}, &stubSession{}, RoleClient)
	err := s.Open()
	require.Error(t, err)
	assert.True(t, IsBadArguments(err))
}

func TestOpenEstablishesStream(t *testing.T) {
	st := &stubStream{}
	s := newTestSocket(st, nil, RoleClient)
	require.NoError(t, s.Open())
	assert.True(t, st.IsOpen())
}

func TestOpenWrapsStreamFailure(t *testing.T) {
	st := &stubStream{openErr: errors.New("connection refused")}
	s := newTestSocket(st, nil, RoleClient)
	err := s.Open()
	require.Error(t, err)
	assert.True(t, IsIOFailure(err))
}

func TestIsOpen(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		s := newTestSocket(&stubStream{open: true}, nil, RoleClient)
		assert.False(t, s.IsOpen())
	})
	t.Run("stream closed", func(t *testing.T) {
		s := newTestSocket(&stubStream{}, &stubSession{}, RoleClient)
		assert.False(t, s.IsOpen())
	})
	t.Run("live session", func(t *testing.T) {
		s := newTestSocket(&stubStream{open: true}, &stubSession{}, RoleClient)
		assert.True(t, s.IsOpen())
	})
	t.Run("one-sided shutdown still open", func(t *testing.T) {
		sess := &stubSession{shutdownSent: true}
		s := newTestSocket(&stubStream{open: true}, sess, RoleClient)
		assert.True(t, s.IsOpen())
	})
	t.Run("bidirectional shutdown closed", func(t *testing.T) {
		sess := &stubSession{shutdownSent: true, shutdownReceived: true}
		s := newTestSocket(&stubStream{open: true}, sess, RoleClient)
		assert.False(t, s.IsOpen())
	})
}

func TestReadBeforeStreamOpenRaisesNotOpen(t *testing.T) {
	s := newTestSocket(&stubStream{}, nil, RoleClient)
	_, err := s.Read(make([]byte, 4))
	require.Error(t, err)
	assert.True(t, IsNotOpen(err))
}

func TestReadRetriesInterruptedSyscall(t *testing.T) {
	calls := 0
	sess := &stubSession{readFn: func(p []byte) (int, error) {
		calls++
		if calls < 3 {
			return 0, syscall.EINTR
		}
		return copy(p, "data"), nil
	}}
	s := newTestSocket(&stubStream{open: true}, sess, RoleClient)

	buf := make([]byte, 8)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "data", string(buf[:n]))
	assert.Equal(t, 3, calls)
}

func TestReadInterruptWithPendingDiagnosticRaises(t *testing.T) {
	sess := &stubSession{readFn: func(p []byte) (int, error) {
		return 0, syscall.EINTR
	}}
	s := newTestSocket(&stubStream{open: true}, sess, RoleClient)
	s.diags.push("handshake alert")

	_, err := s.Read(make([]byte, 4))
	require.Error(t, err)
	assert.True(t, IsIOFailure(err))
	assert.Contains(t, err.Error(), "handshake alert")
}

func TestReadRetriesAreBounded(t *testing.T) {
	calls := 0
	sess := &stubSession{readFn: func(p []byte) (int, error) {
		calls++
		return 0, syscall.EINTR
	}}
	s := newTestSocket(&stubStream{open: true}, sess, RoleClient)
	s.SetMaxRecvRetries(3)

	_, err := s.Read(make([]byte, 4))
	require.Error(t, err)
	assert.True(t, IsIOFailure(err))
	assert.Equal(t, 3, calls)
}

func TestReadNonInterruptErrorRaisesImmediately(t *testing.T) {
	calls := 0
	sess := &stubSession{readFn: func(p []byte) (int, error) {
		calls++
		return 0, errors.New("record overflow")
	}}
	s := newTestSocket(&stubStream{open: true}, sess, RoleClient)

	_, err := s.Read(make([]byte, 4))
	require.Error(t, err)
	assert.True(t, IsIOFailure(err))
	assert.Equal(t, 1, calls)
}

func TestReadPassesEOFThrough(t *testing.T) {
	s := newTestSocket(&stubStream{open: true}, &stubSession{}, RoleClient)
	n, err := s.Read(make([]byte, 4))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriteAccumulatesPartialWrites(t *testing.T) {
	var got []byte
	sess := &stubSession{writeFn: func(p []byte) (int, error) {
		n := len(p)
		if n > 3 {
			n = 3
		}
		got = append(got, p[:n]...)
		return n, nil
	}}
	s := newTestSocket(&stubStream{open: true}, sess, RoleClient)

	n, err := s.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, len("hello world"), n)
	assert.Equal(t, "hello world", string(got))
}

func TestWriteNonPositiveResultRaises(t *testing.T) {
	sess := &stubSession{writeFn: func(p []byte) (int, error) {
		return 0, nil
	}}
	s := newTestSocket(&stubStream{open: true}, sess, RoleClient)

	_, err := s.Write([]byte("payload"))
	require.Error(t, err)
	assert.True(t, IsIOFailure(err))
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

func TestWriteErrorReportsBytesWritten(t *testing.T) {
	calls := 0
	sess := &stubSession{writeFn: func(p []byte) (int, error) {
		calls++
		if calls == 1 {
			return 4, nil
		}
		return 0, errors.New("broken session")
	}}
	s := newTestSocket(&stubStream{open: true}, sess, RoleClient)

	n, err := s.Write([]byte("12345678"))
	require.Error(t, err)
	assert.True(t, IsIOFailure(err))
	assert.Equal(t, 4, n)
}

func TestPeekClosedSocket(t *testing.T) {
	s := newTestSocket(&stubStream{}, nil, RoleClient)
	ok, err := s.Peek()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPeekDoesNotConsume(t *testing.T) {
	reads := 0
	sess := &stubSession{readFn: func(p []byte) (int, error) {
		reads++
		if reads == 1 {
			return copy(p, "x"), nil
		}
		return 0, io.EOF
	}}
	s := newTestSocket(&stubStream{open: true}, sess, RoleClient)

	ok, err := s.Peek()
	require.NoError(t, err)
	assert.True(t, ok)

	// A second peek reuses the buffered byte.
	ok, err = s.Peek()
	require.NoError(t, err)
	assert.True(t, ok)

	buf := make([]byte, 4)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "x", string(buf[:n]))
}

func TestPeekPeerClosedIsNotAnError(t *testing.T) {
	s := newTestSocket(&stubStream{open: true}, &stubSession{}, RoleClient)
	s.diags.push("stale diagnostic")

	ok, err := s.Peek()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, s.diags.empty(), "peer close must clear diagnostic state")
}

func TestFlushWithoutSessionIsSilent(t *testing.T) {
	st := &stubStream{open: true}
	s := newTestSocket(st, nil, RoleClient)
	require.NoError(t, s.Flush())
	assert.Zero(t, st.flushes)
}

func TestFlushForwardsToStream(t *testing.T) {
	st := &stubStream{open: true}
	s := newTestSocket(st, &stubSession{}, RoleClient)
	require.NoError(t, s.Flush())
	assert.Equal(t, 1, st.flushes)
}

func TestFlushWrapsStreamFailure(t *testing.T) {
	st := &stubStream{open: true, flushErr: errors.New("pipe full")}
	s := newTestSocket(st, &stubSession{}, RoleClient)
	err := s.Flush()
	require.Error(t, err)
	assert.True(t, IsIOFailure(err))
}

func TestCloseRunsOrderlyShutdown(t *testing.T) {
	st := &stubStream{open: true}
	sess := &stubSession{}
	s := newTestSocket(st, sess, RoleClient)
	s.diags.push("leftover")

	require.NoError(t, s.Close())
	assert.Equal(t, 2, sess.shutdowns, "both shutdown steps must run")
	assert.Equal(t, 1, sess.closes)
	assert.Equal(t, 1, st.closes)
	assert.True(t, s.diags.empty())
}

func TestCloseNeverRaisesOnShutdownFailure(t *testing.T) {
	st := &stubStream{open: true}
	sess := &stubSession{shutdownErr: errors.New("peer vanished")}
	s := newTestSocket(st, sess, RoleClient)

	require.NoError(t, s.Close())
	assert.Equal(t, 1, st.closes, "the connection must close regardless")
}

func TestCloseWithoutSession(t *testing.T) {
	st := &stubStream{open: true}
	s := newTestSocket(st, nil, RoleClient)
	require.NoError(t, s.Close())
	assert.Equal(t, 1, st.closes)

	require.NoError(t, s.Close(), "a second close must not raise")
	assert.Equal(t, 2, st.closes)
}

func TestCloseTwiceAfterSession(t *testing.T) {
	st := &stubStream{open: true}
	sess := &stubSession{}
	s := newTestSocket(st, sess, RoleClient)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 2, sess.shutdowns, "shutdown runs only on the first close")
	assert.Equal(t, 1, sess.closes)
	assert.Equal(t, 2, st.closes)
}

func TestSetMaxRecvRetriesIgnoresNonPositive(t *testing.T) {
	s := newTestSocket(&stubStream{}, nil, RoleClient)
	s.SetMaxRecvRetries(0)
	assert.Equal(t, DefaultRecvRetries, s.maxRecvRetries)
	s.SetMaxRecvRetries(-1)
	assert.Equal(t, DefaultRecvRetries, s.maxRecvRetries)
	s.SetMaxRecvRetries(9)
	assert.Equal(t, 9, s.maxRecvRetries)
}
