package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <peripheral-id> <service-uuid> <characteristic-uuid>",
	Short: "Subscribe to notifications and print each value until interrupted",
	Args:  cobra.ExactArgs(3),
	RunE:  runSubscribe,
}

func runSubscribe(cmd *cobra.Command, args []string) error {
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

	characteristic, err := p.GetCharacteristic(svc, ch)
	if err != nil {
		return fmt.Errorf("resolving characteristic: %w", err)
	}

	values := make(chan []byte, 16)
	handle := characteristic.RegisterOnChange(func(v []byte) {
		select {
		case values <- v:
		default:
		}
	})
	defer handle.Deregister()

	if err := p.EnableNotifications(ctx, svc, ch, true); err != nil {
		return fmt.Errorf("enabling notifications: %w", err)
	}
	defer p.EnableNotifications(context.Background(), svc, ch, false)

	fmt.Println("subscribed, press Ctrl-C to stop")
	interrupt := notifyInterrupt()
	for {
		select {
		case <-interrupt:
			return nil
		case v := <-values:
			fmt.Printf("%s  %s\n", time.Now().Format(time.RFC3339Nano), hex.EncodeToString(v))
		}
	}
}
