package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harborgrid/securestream/pkg/logging"
	"github.com/harborgrid/securestream/pkg/secure"
)

// newInspectCmd creates the inspect command
func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect and validate a certificate/key pair",
		RunE:  runInspect,
	}
	cmd.Flags().String("cert", "", "Certificate file to inspect")
	cmd.Flags().String("key", "", "Private key file")
	cmd.Flags().String("format", "text", "Output format: text, json")
	_ = cmd.MarkFlagRequired("cert")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func runInspect(cmd *cobra.Command, args []string) error {
	certFile, err := cmd.Flags().GetString("cert")
	if err != nil {
		return fmt.Errorf("failed to get cert flag: %w", err)
	}
	keyFile, err := cmd.Flags().GetString("key")
	if err != nil {
		return fmt.Errorf("failed to get key flag: %w", err)
	}
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}

	logger := logging.NewLogger(logging.Config{Level: "warn", Format: "text"})

	cert, err := secure.LoadKeyPair(certFile, keyFile, logger)
	if err != nil {
		return err
	}
	info, err := secure.InspectCertificate(cert)
	if err != nil {
		return err
	}

	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "text":
		fmt.Printf("Subject:      %s\n", info.Subject)
		fmt.Printf("Issuer:       %s\n", info.Issuer)
		fmt.Printf("Serial:       %s\n", info.SerialNo)
		fmt.Printf("Not before:   %s\n", info.NotBefore.Format(time.RFC3339))
		fmt.Printf("Not after:    %s\n", info.NotAfter.Format(time.RFC3339))
		if len(info.DNSNames) > 0 {
			fmt.Printf("DNS names:    %s\n", strings.Join(info.DNSNames, ", "))
		}
		if len(info.IPAddresses) > 0 {
			fmt.Printf("IP addresses: %s\n", strings.Join(info.IPAddresses, ", "))
		}
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
