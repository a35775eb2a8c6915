package main

import (
	"github.com/fgeck/wakesleep/internal/services/manager"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	sleepForce bool
	sleepAll   bool
)

var sleepCmd = &cobra.Command{
	Use:   "sleep [name...]",
	Short: "Put one or more devices to sleep",
	Long: `Connect to each named device over SSH, detect its operating system and
run the matching suspend command, falling back through alternatives:

  Linux    systemctl suspend, pm-suspend, /sys/power/state (each via sudo -n first)
  macOS    pmset sleepnow
  Windows  shutdown /h, SetSuspendState, powercfg + shutdown /h

Devices that do not answer probes are skipped unless --force is given.
Requires SSH credentials, see 'wakesleep add ssh'.`,
	RunE: runSleep,
}

func init() {
	sleepCmd.Flags().BoolVarP(&sleepForce, "force", "f", false, "connect even if the device looks asleep")
	sleepCmd.Flags().BoolVarP(&sleepAll, "all", "a", false, "put every registered device to sleep")
}

func runSleep(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	names, err := selectDevices(ctx, a, args, sleepAll, "sleep")
	if err != nil || len(names) == 0 {
		return err
	}

	failed := 0
	for _, name := range names {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		outcome, err := a.manager.Sleep(ctx, name, sleepForce)
		if err != nil {
			failed++
			log.Error().Err(err).Str("device", name).Msg("sleep failed")
			printError("Failed to put '%s' to sleep: %s", name, manager.Describe(err))
			continue
		}

		if outcome.AlreadyAsleep {
			printWarn("Device '%s' is already sleeping", name)
			continue
		}
		printSuccess("Sent sleep signal to device '%s': %s", name, manager.Summary(outcome))
	}

	return batchResult(failed)
}
