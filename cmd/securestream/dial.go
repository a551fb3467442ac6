package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harborgrid/securestream/pkg/config"
	"github.com/harborgrid/securestream/pkg/logging"
	"github.com/harborgrid/securestream/pkg/telemetry"
)

// newDialCmd creates the dial command
func newDialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dial",
		Short: "Connect to a secured endpoint, send a message, and print the reply",
		RunE:  runDial,
	}
	cmd.Flags().StringP("message", "m", "ping", "Message to send")
	cmd.Flags().Duration("timeout", 10*time.Second, "Connect timeout")
	return cmd
}

func runDial(cmd *cobra.Command, args []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return fmt.Errorf("failed to get log-level flag: %w", err)
	}
	message, err := cmd.Flags().GetString("message")
	if err != nil {
		return fmt.Errorf("failed to get message flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateDial(); err != nil {
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
		ServiceName: serviceName(cfg.Telemetry.ServiceName, "securestream-client"),
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

	factory, err := buildFactory(ctx, cfg, false, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := factory.Close(); err != nil {
			logger.Error("Factory close error", "error", err)
		}
	}()

	tracer := otel.Tracer("securestream/client")
	_, span := tracer.Start(ctx, "dial")
	span.SetAttributes(
		attribute.String("net.peer.name", cfg.Target.Host),
		attribute.Int("net.peer.port", cfg.Target.Port),
	)
	defer span.End()

	sock, err := factory.CreateSocket(cfg.Target.Host, cfg.Target.Port)
	if err != nil {
		return err
	}
	defer func() {
		if err := sock.Close(); err != nil {
			logger.Warn("Socket close error", "error", err)
		}
	}()

	if err := sock.Open(); err != nil {
		return err
	}

	if _, err := sock.Write([]byte(message)); err != nil {
		return err
	}
	if err := sock.Flush(); err != nil {
		return err
	}

	reply := make([]byte, len(message))
	if _, err := io.ReadFull(sock, reply); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	fmt.Println(string(reply))
	return nil
}
