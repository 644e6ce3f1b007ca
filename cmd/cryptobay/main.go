package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "CryptoBay"
	version = "v4.1.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     "cryptobay",
		Short:   "Chat-driven crypto portfolio assistant",
		Version: version,
		Long: `CryptoBay is a chat-driven crypto portfolio assistant: live market data,
a per-user holdings ledger with simulated conversions, and one-shot
directional price alerts.`,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant service",
		Long:  "Starts the HTTP chat shim and the background price-alert watcher.",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "", "Path to the YAML config file")
	serveCmd.Flags().Bool("debug", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
