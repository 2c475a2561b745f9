package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/spf13/cobra"

	"github.com/srg/blecentral/model"
	"github.com/srg/blecentral/peripheral"
	"github.com/srg/blecentral/uuid/sig"
)

// diffCmd implements SPEC_FULL.md's supplemented "cache-diff debugging"
// feature: render a connected peripheral's resolved GATT table as text
// and, given a --baseline snapshot from a previous run, print a unified
// diff against it — useful for spotting a firmware update that changed
// a device's service layout.
var diffCmd = &cobra.Command{
	Use:   "diff <peripheral-id>",
	Short: "Diff a peripheral's current GATT table against a saved baseline",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiff,
}

var (
	diffServices []string
	diffBaseline string
	diffSave     string
)

func init() {
	diffCmd.Flags().StringArrayVar(&diffServices, "service", nil,
		"service to discover, UUID or UUID:char,char,... (repeatable); required")
	diffCmd.Flags().StringVar(&diffBaseline, "baseline", "", "path to a snapshot saved by a previous --save run")
	diffCmd.Flags().StringVar(&diffSave, "save", "", "write the current snapshot to this path")
}

func runDiff(cmd *cobra.Command, args []string) error {
	if err := requireServiceFlags(diffServices); err != nil {
		return err
	}
	desc, err := parseServiceFlags(diffServices)
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

	current := renderGATTTable(p, desc)

	if diffSave != "" {
		if err := os.WriteFile(diffSave, []byte(current), 0o644); err != nil {
			return fmt.Errorf("saving snapshot: %w", err)
		}
	}

	if diffBaseline == "" {
		fmt.Print(current)
		return nil
	}

	baselineBytes, err := os.ReadFile(diffBaseline)
	if err != nil {
		return fmt.Errorf("reading baseline: %w", err)
	}
	baseline := string(baselineBytes)

	if baseline == current {
		fmt.Println(color.GreenString("no differences"))
		return nil
	}

	edits := myers.ComputeEdits("", baseline, current)
	unified := gotextdiff.ToUnified(diffBaseline, args[0], baseline, edits)
	fmt.Fprint(os.Stdout, colorizeUnified(fmt.Sprint(unified)))
	return nil
}

// renderGATTTable produces a stable text rendering of the services and
// characteristics desc requested, suitable for line-based diffing.
func renderGATTTable(p *peripheral.Peripheral, desc model.DeviceDescription) string {
	var b strings.Builder
	for _, sd := range desc.Services {
		svc, err := p.GetService(sd.UUID)
		if err != nil {
			fmt.Fprintf(&b, "service %s: error: %v\n", sd.UUID, err)
			continue
		}
		name, _ := sig.LookupService(svc.UUID)
		if name == "" {
			name = svc.UUID.String()
		}
		fmt.Fprintf(&b, "service %s (%s)\n", name, svc.UUID)
		for _, ch := range svc.Characteristics() {
			fmt.Fprintf(&b, "  %s %s %s\n", ch.UUID, sig.Name(ch.UUID), propsString(ch.Properties))
		}
	}
	return b.String()
}

func colorizeUnified(diff string) string {
	var b strings.Builder
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "---") || strings.HasPrefix(line, "+++"):
			b.WriteString(color.YellowString(line))
		case strings.HasPrefix(line, "@@"):
			b.WriteString(color.CyanString(line))
		case strings.HasPrefix(line, "-"):
			b.WriteString(color.RedString(line))
		case strings.HasPrefix(line, "+"):
			b.WriteString(color.GreenString(line))
		default:
			b.WriteString(line)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
