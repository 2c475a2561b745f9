package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/blecentral/bridge"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge <peripheral-id>",
	Short: "Expose a UART-style characteristic pair as a PTY device",
	Args:  cobra.ExactArgs(1),
	RunE:  runBridge,
}

var (
	bridgeService    string
	bridgeWriteChar  string
	bridgeNotifyChar string
	bridgeBufferSize int
)

func init() {
	bridgeCmd.Flags().StringVar(&bridgeService, "service", "", "GATT service UUID (required)")
	bridgeCmd.Flags().StringVar(&bridgeWriteChar, "write-char", "", "characteristic PTY writes are sent to (required)")
	bridgeCmd.Flags().StringVar(&bridgeNotifyChar, "notify-char", "", "characteristic whose notifications are written to the PTY (required)")
	bridgeCmd.Flags().IntVar(&bridgeBufferSize, "buffer-size", 1024, "PTY read buffer size")
	bridgeCmd.MarkFlagRequired("service")
	bridgeCmd.MarkFlagRequired("write-char")
	bridgeCmd.MarkFlagRequired("notify-char")
}

func runBridge(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	svc, err := mustParseUUID(bridgeService)
	if err != nil {
		return err
	}
	writeChar, err := mustParseUUID(bridgeWriteChar)
	if err != nil {
		return err
	}
	notifyChar, err := mustParseUUID(bridgeNotifyChar)
	if err != nil {
		return err
	}

	c := newCoordinator(logger)
	defer c.PowerOff()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := c.PowerOn(ctx); err != nil {
		return fmt.Errorf("powering on: %w", err)
	}

	serviceFlag := fmt.Sprintf("%s:%s,%s", bridgeService, bridgeWriteChar, bridgeNotifyChar)
	desc, err := parseServiceFlags([]string{serviceFlag})
	if err != nil {
		return err
	}

	p, err := c.RetrievePeripheral(ctx, args[0], desc)
	if err != nil {
		return fmt.Errorf("retrieving peripheral: %w", err)
	}
	if err := c.Connect(ctx, p, desc); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer c.Disconnect(context.Background(), p)

	opts := bridge.DefaultOptions()
	opts.Service = svc
	opts.WriteCharacteristic = writeChar
	opts.NotifyCharacteristic = notifyChar
	opts.BufferSize = bridgeBufferSize

	b := bridge.New(logger)
	name, err := b.Start(ctx, p, opts)
	if err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer b.Stop()

	fmt.Println(color.GreenString("bridge listening on %s, press Ctrl-C to stop", name))

	<-notifyInterrupt()
	return nil
}
