package main

import (
	"fmt"

	"github.com/fgeck/wakesleep/internal/services/manager"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether every registered device is awake",
	Long:  `Probe all registered devices in parallel and print a status table.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var checkCmd = &cobra.Command{
	Use:   "check <name>",
	Short: "Show whether one device is awake",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	devices := a.store.List()
	if len(devices) == 0 {
		printWarn("No devices configured. Use 'add device' to add a device.")
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()

	results := a.manager.StatusAll(ctx)
	byName := make(map[string]int, len(results))
	for i, r := range results {
		byName[r.Device] = i
	}

	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		r := results[byName[d.Name]]
		rows = append(rows, []string{
			d.Name,
			d.IPAddress,
			d.MACAddress,
			orNA(d.Hostname),
			statusLabel(r),
			viaLabel(r),
			rttLabel(r),
		})
	}

	fmt.Println(renderTable([]string{"Name", "IP Address", "MAC Address", "Hostname", "Status", "Via", "RTT"}, rows))
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	name := args[0]
	result, err := a.manager.Status(ctx, name)
	if err != nil {
		printError("Device '%s': %s", name, manager.Describe(err))
		return err
	}

	line := fmt.Sprintf("Device '%s' is %s", name, statusLabel(result))
	if result.Awake {
		line += fmt.Sprintf(" (%s, %s)", viaLabel(result), rttLabel(result))
	} else if result.Error != nil && verbose {
		line += fmt.Sprintf(" (%v)", result.Error)
	}
	fmt.Println(line)
	return nil
}
