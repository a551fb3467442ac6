package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harborgrid/securestream/pkg/config"
	"github.com/harborgrid/securestream/pkg/logging"
	"github.com/harborgrid/securestream/pkg/policy"
	"github.com/harborgrid/securestream/pkg/secure"
	"github.com/harborgrid/securestream/pkg/telemetry"
)

// serveMetrics holds the Prometheus instruments exposed on the admin endpoint.
type serveMetrics struct {
	connectionsTotal  *prometheus.CounterVec
	connectionsActive prometheus.Gauge
	bytesEchoed       prometheus.Counter
}

func newServeMetrics(reg *prometheus.Registry) *serveMetrics {
	factory := promauto.With(reg)
	return &serveMetrics{
		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "securestream_server_connections_total",
			Help: "Accepted connections by outcome.",
		}, []string{"outcome"}),
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "securestream_server_connections_active",
			Help: "Connections currently being served.",
		}),
		bytesEchoed: factory.NewCounter(prometheus.CounterOpts{
			Name: "securestream_server_bytes_echoed_total",
			Help: "Application bytes echoed back to peers.",
		}),
	}
}

// newServeCmd creates the serve command
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept secured connections and echo application data",
		RunE:  runServe,
	}
	cmd.Flags().String("admin-addr", ":9464", "Admin endpoint address for metrics and health")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return fmt.Errorf("failed to get log-level flag: %w", err)
	}
	adminAddr, err := cmd.Flags().GetString("admin-addr")
	if err != nil {
		return fmt.Errorf("failed to get admin-addr flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = logLevel
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: serviceName(cfg.Telemetry.ServiceName, "securestream-server"),
		Endpoint:    cfg.Telemetry.Endpoint,
		Environment: cfg.Telemetry.Environment,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
	})
	if err != nil {
		return fmt.Errorf("telemetry setup failed: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("Telemetry shutdown error", "error", err)
		}
	}()

	factory, err := buildFactory(ctx, cfg, true, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := factory.Close(); err != nil {
			logger.Error("Factory close error", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	metrics := newServeMetrics(registry)
	adminServer := startAdminServer(adminAddr, registry, logger)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Admin server shutdown error", "error", err)
		}
	}()

	listener, err := net.Listen("tcp", cfg.Listen.Address)
	if err != nil {
		return fmt.Errorf("bind listener on %s: %w", cfg.Listen.Address, err)
	}
	logger.Info("Server listening", "addr", listener.Addr().String())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal", "signal", sig.String())
		cancel()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("Server stopped")
				return nil
			}
			logger.Error("Accept failed", "error", err)
			continue
		}
		go serveConn(ctx, factory, conn, metrics, logger)
	}
}

func serveConn(ctx context.Context, factory *secure.Factory, conn net.Conn, metrics *serveMetrics, logger *slog.Logger) {
	tracer := otel.Tracer("securestream/server")
	spanCtx, span := tracer.Start(ctx, "serve_connection")
	span.SetAttributes(attribute.String("net.peer.addr", conn.RemoteAddr().String()))
	defer span.End()

	metrics.connectionsActive.Inc()
	defer metrics.connectionsActive.Dec()

	sock, err := factory.CreateSocketFromConn(conn)
	if err != nil {
		logger.Error("Socket creation failed", "remote", conn.RemoteAddr().String(), "error", err)
		metrics.connectionsTotal.WithLabelValues("error").Inc()
		conn.Close()
		return
	}
	defer func() {
		if err := sock.Close(); err != nil {
			logger.Warn("Socket close error", "error", err)
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := sock.Read(buf)
		if n > 0 {
			if _, werr := sock.Write(buf[:n]); werr != nil {
				recordConnOutcome(metrics, logger, werr)
				return
			}
			if ferr := sock.Flush(); ferr != nil {
				recordConnOutcome(metrics, logger, ferr)
				return
			}
			metrics.bytesEchoed.Add(float64(n))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				metrics.connectionsTotal.WithLabelValues("ok").Inc()
				return
			}
			recordConnOutcome(metrics, logger, err)
			return
		}
		if spanCtx.Err() != nil {
			metrics.connectionsTotal.WithLabelValues("ok").Inc()
			return
		}
	}
}

func recordConnOutcome(metrics *serveMetrics, logger *slog.Logger, err error) {
	outcome := "error"
	switch {
	case secure.IsAuthorizationDenied(err):
		outcome = "denied"
	case secure.IsHandshakeFailure(err):
		outcome = "handshake_failure"
	}
	metrics.connectionsTotal.WithLabelValues(outcome).Inc()
	logger.Warn("Connection ended with error", "outcome", outcome, "error", err)
}

func startAdminServer(addr string, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(mux, "securestream.admin"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin server failed", "error", err)
		}
	}()
	return server
}

// buildFactory assembles a socket factory from configuration, shared by the
// serve and dial commands.
func buildFactory(ctx context.Context, cfg *config.Config, server bool, logger *slog.Logger) (*secure.Factory, error) {
	opts := []secure.Option{secure.WithLogger(logger)}
	if server {
		opts = append(opts, secure.WithServerRole())
	}

	factory, err := secure.NewFactory(opts...)
	if err != nil {
		return nil, err
	}

	cleanup := func(err error) (*secure.Factory, error) {
		factory.Close()
		return nil, err
	}

	sec := cfg.Security
	if sec.MinVersion != "" {
		version, err := config.ParseTLSVersion(sec.MinVersion)
		if err != nil {
			return cleanup(err)
		}
		factory.SetMinVersion(version.Uint16())
	}
	if len(sec.CipherSuites) > 0 {
		if err := factory.SetCipherList(strings.Join(sec.CipherSuites, ":")); err != nil {
			return cleanup(err)
		}
	}
	if sec.CertFile != "" {
		if err := factory.LoadCertificate(sec.CertFile, "PEM"); err != nil {
			return cleanup(err)
		}
		if err := factory.LoadPrivateKey(sec.KeyFile, "PEM"); err != nil {
			return cleanup(err)
		}
	}
	if sec.CAFile != "" {
		if err := factory.LoadTrustedCertificates(sec.CAFile); err != nil {
			return cleanup(err)
		}
	}
	factory.SetAuthenticate(sec.RequireVerify)

	if sec.AccessPolicyFile != "" {
		module, err := os.ReadFile(sec.AccessPolicyFile)
		if err != nil {
			return cleanup(fmt.Errorf("read access policy: %w", err))
		}
		manager, err := policy.NewRegoAccessManager(ctx, string(module), logger)
		if err != nil {
			return cleanup(err)
		}
		factory.SetAccessManager(manager)
	}

	if sec.WatchFiles && sec.CertFile != "" {
		if err := factory.WatchCertificateFiles(sec.CertFile, sec.KeyFile); err != nil {
			return cleanup(err)
		}
	}

	return factory, nil
}

func serviceName(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}
