package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

var readCmd = &cobra.Command{
	Use:   "read <peripheral-id> <service-uuid> <characteristic-uuid>",
	Short: "Read a single characteristic value",
	Args:  cobra.ExactArgs(3),
	RunE:  runRead,
}

func runRead(cmd *cobra.Command, args []string) error {
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

	value, err := p.Read(ctx, svc, ch)
	if err != nil {
		return fmt.Errorf("reading: %w", err)
	}
	fmt.Println(hex.EncodeToString(value))
	return nil
}
