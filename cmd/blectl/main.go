// Command blectl is the CLI surface over the central/peripheral runtime
// (SPEC_FULL.md's DOMAIN STACK table), grounded on cmd/blim/main.go's
// cobra root command structure: a persistent --log-level flag, one
// subcommand per runtime operation, and Ctrl-C treated as a clean exit
// rather than an error.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "blectl",
	Short: "BLE central runtime CLI",
	Long: `blectl drives the BLE central-role runtime: scan for nearby
peripherals, connect and resolve GATT services/characteristics, read and
write values, subscribe to notifications, and bridge a UART-style
characteristic pair to a PTY device.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "blectl: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(subscribeCmd)
	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(diffCmd)
}
