package secure

import (
	"context"
	"log/slog"
	"time"
)

// EventLogger provides structured logging for transport security events.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger creates an event logger over the supplied structured logger.
func NewEventLogger(logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLogger{
		logger: logger.With("component", "secure_socket"),
	}
}

// LogHandshakeSuccess logs a completed handshake.
func (l *EventLogger) LogHandshakeSuccess(ctx context.Context, role, remoteAddr, serverName string, duration time.Duration, peerCerts int) {
	l.logger.LogAttrs(ctx, slog.LevelDebug, "handshake complete",
		slog.String("event", "handshake_success"),
		slog.String("role", role),
		slog.String("remote_addr", remoteAddr),
		slog.String("server_name", serverName),
		slog.Duration("handshake_duration", duration),
		slog.Int("peer_cert_count", peerCerts),
	)
}

// LogHandshakeFailure logs a failed handshake.
func (l *EventLogger) LogHandshakeFailure(ctx context.Context, role, remoteAddr, serverName string, err error, duration time.Duration) {
	l.logger.LogAttrs(ctx, slog.LevelWarn, "handshake failed",
		slog.String("event", "handshake_failure"),
		slog.String("role", role),
		slog.String("remote_addr", remoteAddr),
		slog.String("server_name", serverName),
		slog.String("error", err.Error()),
		slog.Duration("handshake_duration", duration),
	)
}

// LogAuthorizationDecision logs the outcome of one peer authorization check.
func (l *EventLogger) LogAuthorizationDecision(ctx context.Context, role, decision, source, remoteAddr string) {
	l.logger.LogAttrs(ctx, slog.LevelDebug, "authorization decision",
		slog.String("event", "authorization_decision"),
		slog.String("role", role),
		slog.String("decision", decision),
		slog.String("source", source),
		slog.String("remote_addr", remoteAddr),
	)
}

// LogConnectionEnd logs the teardown of a connection. A shutdown error is
// recorded but never raised; the connection is being discarded regardless.
func (l *EventLogger) LogConnectionEnd(ctx context.Context, role, remoteAddr string, shutdownErr error) {
	if shutdownErr != nil {
		l.logger.LogAttrs(ctx, slog.LevelWarn, "session shutdown failed",
			slog.String("event", "connection_end"),
			slog.String("role", role),
			slog.String("remote_addr", remoteAddr),
			slog.String("error", shutdownErr.Error()),
		)
		return
	}
	l.logger.LogAttrs(ctx, slog.LevelDebug, "connection closed",
		slog.String("event", "connection_end"),
		slog.String("role", role),
		slog.String("remote_addr", remoteAddr),
	)
}
