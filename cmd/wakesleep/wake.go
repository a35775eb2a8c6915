package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fgeck/wakesleep/internal/models"
	"github.com/fgeck/wakesleep/internal/services/manager"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	wakeWait  bool
	wakeForce bool
	wakeAll   bool
)

var wakeCmd = &cobra.Command{
	Use:   "wake [name...]",
	Short: "Wake up one or more devices",
	Long: `Send a Wake-on-LAN magic packet to each named device.

Devices that already answer probes are skipped unless --force is given.
Without names, the registered devices are listed and you pick one (or all).`,
	RunE: runWake,
}

func init() {
	wakeCmd.Flags().BoolVarP(&wakeWait, "wait", "w", false, "wait until the device answers probes")
	wakeCmd.Flags().BoolVarP(&wakeForce, "force", "f", false, "send even if the device looks awake")
	wakeCmd.Flags().BoolVarP(&wakeAll, "all", "a", false, "wake every registered device")
}

func runWake(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	names, err := selectDevices(ctx, a, args, wakeAll, "wake")
	if err != nil || len(names) == 0 {
		return err
	}

	failed := 0
	for _, name := range names {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result, err := a.manager.Wake(ctx, name, manager.WakeOptions{Wait: wakeWait, Force: wakeForce})
		if err != nil {
			failed++
			log.Error().Err(err).Str("device", name).Msg("wake failed")
			printError("Failed to wake '%s': %s", name, manager.Describe(err))
			continue
		}

		switch {
		case result.AlreadyAwake:
			printWarn("Device '%s' is already awake", name)
		case wakeWait && result.DeviceAwake:
			printSuccess("Device '%s' is awake (after %s)", name, result.WaitDuration.Round(time.Second))
		case wakeWait:
			failed++
			printError("Sent wake-up signal to '%s' but it did not come up: %v", name, result.Error)
		default:
			printSuccess("Sent wake-up signal to device '%s'", name)
		}
	}

	return batchResult(failed)
}

// selectDevices resolves the target names: every device with all, the given
// names, or an interactive pick from a numbered status table.
func selectDevices(ctx context.Context, a *app, args []string, all bool, verb string) ([]string, error) {
	devices := a.store.List()

	if all {
		return deviceNames(devices), nil
	}
	if len(args) > 0 {
		return args, nil
	}

	if len(devices) == 0 {
		printWarn("No devices configured. Use 'add device' to add a device.")
		return nil, nil
	}

	results := a.manager.StatusAll(ctx)
	rows := make([][]string, 0, len(results))
	for i, r := range results {
		rows = append(rows, []string{strconv.Itoa(i + 1), r.Device, statusLabel(r)})
	}
	fmt.Println(renderTable([]string{"#", "Name", "Status"}, rows))

	indices, err := newPrompter().pick(fmt.Sprintf("Enter the number of the device to %s", verb), len(results), true)
	if err != nil {
		if errors.Is(err, errInvalidChoice) {
			printError("%v", err)
		}
		return nil, err
	}

	names := make([]string, 0, len(indices))
	for _, i := range indices {
		names = append(names, results[i].Device)
	}
	return names, nil
}

func deviceNames(devices []models.Device) []string {
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		names = append(names, d.Name)
	}
	return names
}
