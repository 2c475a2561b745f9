package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

var writeCmd = &cobra.Command{
	Use:   "write <peripheral-id> <service-uuid> <characteristic-uuid> <hex-value>",
	Short: "Write a hex-encoded value to a characteristic",
	Args:  cobra.ExactArgs(4),
	RunE:  runWrite,
}

var writeWithoutResponse bool

func init() {
	writeCmd.Flags().BoolVar(&writeWithoutResponse, "no-response", false,
		"use a write-without-response instead of waiting for a write confirmation")
}

func runWrite(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	svc, err := mustParseUUID(args[1])
	if err != nil {
		return err
	}
	ch, err := mustParseUUID(args[2])
	if err != nil {
		return err
	}
	value, err := hex.DecodeString(args[3])
	if err != nil {
		return fmt.Errorf("invalid hex value %q: %w", args[3], err)
	}

	c := newCoordinator(logger)
	defer c.PowerOff()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := c.PowerOn(ctx); err != nil {
		return fmt.Errorf("powering on: %w", err)
	}

	desc, err := parseServiceFlags([]string{fmt.Sprintf("%s:%s", args[1], args[2])})
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

	if writeWithoutResponse {
		err = p.WriteWithoutResponse(ctx, svc, ch, value)
	} else {
		err = p.Write(ctx, svc, ch, value)
	}
	if err != nil {
		return fmt.Errorf("writing: %w", err)
	}
	return nil
}
