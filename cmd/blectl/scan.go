package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/blecentral/model"
	"github.com/srg/blecentral/peripheral"
	"github.com/srg/blecentral/uuid"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for nearby BLE peripherals",
	Long: `Scan starts a discovery session (spec §4.4) and prints a
continuously refreshed table of discovered peripherals until
interrupted with Ctrl-C.`,
	RunE: runScan,
}

var (
	scanMinRSSI      int
	scanStale        time.Duration
	scanAutoConnect  bool
	scanServiceUUIDs []string
)

func init() {
	scanCmd.Flags().IntVar(&scanMinRSSI, "min-rssi", -80, "minimum RSSI to report (spec default -80)")
	scanCmd.Flags().DurationVar(&scanStale, "stale", 8*time.Second, "advertisement stale interval")
	scanCmd.Flags().BoolVar(&scanAutoConnect, "auto-connect", false, "auto-connect to the strongest disconnected peripheral")
	scanCmd.Flags().StringSliceVar(&scanServiceUUIDs, "service", nil, "restrict matching to advertisements of these service UUIDs")
}

func runScan(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	criterion := model.AnyAdvertisement
	if len(scanServiceUUIDs) > 0 {
		wanted := make([]uuid.BTUUID, 0, len(scanServiceUUIDs))
		for _, s := range scanServiceUUIDs {
			u, err := mustParseUUID(s)
			if err != nil {
				return err
			}
			wanted = append(wanted, u)
		}
		criterion = func(ad model.AdvertisementData) bool {
			for _, u := range wanted {
				if model.AdvertisesService(u)(ad) {
					return true
				}
			}
			return false
		}
	}

	cfg := model.DiscoveryConfiguration{
		Descriptions:               []model.DiscoveryDescription{{Criterion: criterion}},
		MinimumRSSI:                scanMinRSSI,
		AdvertisementStaleInterval: scanStale,
		AutoConnect:                scanAutoConnect,
		AutoConnectDebounce:        time.Second,
	}

	c := newCoordinator(logger)
	defer c.PowerOff()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := c.ScanNearbyDevices(ctx, cfg); err != nil {
		return fmt.Errorf("starting scan: %w", err)
	}
	defer c.StopScanning()

	fmt.Println(color.GreenString("scanning... press Ctrl-C to stop"))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	interrupt := notifyInterrupt()

	for {
		select {
		case <-interrupt:
			return nil
		case <-ticker.C:
			printPeripheralTable(c.Peripherals())
		}
	}
}

func printPeripheralTable(peripherals []*peripheral.Peripheral) {
	sort.Slice(peripherals, func(i, j int) bool { return peripherals[i].ID() < peripherals[j].ID() })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tRSSI\tNAME")
	for _, p := range peripherals {
		name := p.Advertisement().LocalName
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p.ID(), p.State(), p.RSSI(), name)
	}
	w.Flush()
}
