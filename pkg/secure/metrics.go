package secure

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce     sync.Once
	metricsInitErr  error
	metricsInstance *MetricsCollector
)

// MetricsCollector records transport-security metrics through the
// OpenTelemetry metric API.
type MetricsCollector struct {
	handshakesTotal   metric.Int64Counter
	handshakeErrors   metric.Int64Counter
	handshakeDuration metric.Float64Histogram
	authzDecisions    metric.Int64Counter
	readRetries       metric.Int64Counter
	sessionsActive    metric.Int64UpDownCounter

	logger *slog.Logger
}

// GetMetricsCollector returns the process-wide metrics collector.
func GetMetricsCollector(logger *slog.Logger) (*MetricsCollector, error) {
	metricsOnce.Do(func() {
		metricsInstance, metricsInitErr = newMetricsCollector(logger)
	})
	return metricsInstance, metricsInitErr
}

func newMetricsCollector(logger *slog.Logger) (*MetricsCollector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	meter := otel.GetMeterProvider().Meter("securestream")
	c := &MetricsCollector{logger: logger}

	var err error
	c.handshakesTotal, err = meter.Int64Counter(
		"securestream_handshakes_total",
		metric.WithDescription("Total number of completed TLS handshakes"),
		metric.WithUnit("{handshake}"),
	)
	if err != nil {
		return nil, err
	}
	c.handshakeErrors, err = meter.Int64Counter(
		"securestream_handshake_errors_total",
		metric.WithDescription("Total number of failed TLS handshakes"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}
	c.handshakeDuration, err = meter.Float64Histogram(
		"securestream_handshake_duration_seconds",
		metric.WithDescription("TLS handshake duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	c.authzDecisions, err = meter.Int64Counter(
		"securestream_authorization_decisions_total",
		metric.WithDescription("Peer authorization outcomes by decision"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}
	c.readRetries, err = meter.Int64Counter(
		"securestream_read_retries_total",
		metric.WithDescription("Reads retried after a transient interruption"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}
	c.sessionsActive, err = meter.Int64UpDownCounter(
		"securestream_sessions_active",
		metric.WithDescription("Number of live TLS sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// RecordHandshakeSuccess records a completed handshake and a new live
// session.
func (c *MetricsCollector) RecordHandshakeSuccess(ctx context.Context, role string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("role", role))
	c.handshakesTotal.Add(ctx, 1, attrs)
	c.handshakeDuration.Record(ctx, duration.Seconds(), attrs)
	c.sessionsActive.Add(ctx, 1, attrs)
}

// RecordHandshakeError records a failed handshake.
func (c *MetricsCollector) RecordHandshakeError(ctx context.Context, role string) {
	c.handshakeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordAuthorization records one authorization outcome.
func (c *MetricsCollector) RecordAuthorization(ctx context.Context, role, decision string) {
	c.authzDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", role),
		attribute.String("decision", decision),
	))
}

// RecordReadRetry records one transparently retried read.
func (c *MetricsCollector) RecordReadRetry(ctx context.Context) {
	c.readRetries.Add(ctx, 1)
}

// RecordSessionClosed records a session leaving the live set.
func (c *MetricsCollector) RecordSessionClosed(ctx context.Context, role string) {
	c.sessionsActive.Add(ctx, -1, metric.WithAttributes(attribute.String("role", role)))
}
