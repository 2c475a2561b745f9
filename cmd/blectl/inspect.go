package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/blecentral/model"
	"github.com/srg/blecentral/uuid/sig"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <peripheral-id>",
	Short: "Connect to a peripheral and print its resolved GATT table",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var inspectServices []string

func init() {
	inspectCmd.Flags().StringArrayVar(&inspectServices, "service", nil,
		"service to discover, UUID or UUID:char,char,... (repeatable); required")
}

func runInspect(cmd *cobra.Command, args []string) error {
	if err := requireServiceFlags(inspectServices); err != nil {
		return err
	}
	desc, err := parseServiceFlags(inspectServices)
	if err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	c := newCoordinator(logger)
	defer c.PowerOff()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := c.PowerOn(ctx); err != nil {
		return fmt.Errorf("powering on: %w", err)
	}

	p, err := c.RetrievePeripheral(ctx, args[0], desc)
	if err != nil {
		return fmt.Errorf("retrieving peripheral: %w", err)
	}
	if err := c.Connect(ctx, p, desc); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer c.Disconnect(context.Background(), p)

	for _, sd := range desc.Services {
		svc, err := p.GetService(sd.UUID)
		if err != nil {
			fmt.Printf("%s %s: %v\n", color.RedString("service"), sd.UUID, err)
			continue
		}
		svcName, _ := sig.LookupService(svc.UUID)
		if svcName == "" {
			svcName = svc.UUID.String()
		}
		fmt.Println(color.CyanString("service %s (%s)", svcName, svc.UUID))
		for _, c := range svc.Characteristics() {
			chName := sig.Name(c.UUID)
			fmt.Printf("  %-36s %-20s %s\n", c.UUID, chName, propsString(c.Properties))
		}
	}
	return nil
}

func propsString(p model.Properties) string {
	var out string
	add := func(flag model.Properties, name string) {
		if p.Has(flag) {
			if out != "" {
				out += ","
			}
			out += name
		}
	}
	add(model.PropRead, "read")
	add(model.PropWrite, "write")
	add(model.PropWriteWithoutResponse, "write-no-rsp")
	add(model.PropNotify, "notify")
	add(model.PropIndicate, "indicate")
	return out
}
