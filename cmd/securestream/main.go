// Package main is the entry point for the securestream binary.
// It provides a CLI for running TLS stream endpoints: a serve command that
// accepts secured connections and echoes application data back, and a dial
// command that connects to a remote endpoint and exchanges a message.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	defaultConfigPath = "securestream.yaml"
	defaultLogLevel   = "info"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for securestream
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "securestream",
		Short: "TLS stream transport endpoints",
		Long: `securestream runs TLS-secured stream endpoints.

The serve command listens for secured connections, authorizes peers against
the configured access policy, and echoes application data back. The dial
command connects to a remote endpoint, sends a message, and prints the reply.

Example:
  securestream serve --config server.yaml
  securestream dial --config client.yaml --message ping`,
	}

	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newDialCmd())
	rootCmd.AddCommand(newInspectCmd())

	return rootCmd
}
