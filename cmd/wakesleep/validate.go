package main

import (
	"fmt"

	"github.com/fgeck/wakesleep/internal/config"
	"github.com/fgeck/wakesleep/internal/services/registry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and device registry",
	Long:  `Load the configuration and the device registry without contacting any device.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := registry.Open(log.Logger, cfg.Registry.Path)
	if err != nil {
		log.Error().Err(err).Str("file", cfg.Registry.Path).Msg("failed to parse device registry")
		return err
	}

	source := configFile
	if source == "" {
		source = config.DefaultFile() + " (defaults if missing)"
	}

	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Config: %s\n", source)
	fmt.Printf("  Registry: %s\n", cfg.Registry.Path)
	fmt.Printf("  Devices: %d\n", len(store.List()))
	fmt.Println()
	fmt.Println("Probe:")
	fmt.Printf("  Ports: %v\n", cfg.Probe.Ports)
	fmt.Printf("  Connect timeout: %s\n", cfg.Probe.ConnectTimeout)
	fmt.Printf("  Echo timeout: %s\n", cfg.Probe.EchoTimeout)
	fmt.Printf("  Echo payload sizes: %d, %d\n", cfg.Probe.EchoPayloadSizes[0], cfg.Probe.EchoPayloadSizes[1])
	if cfg.Probe.Concurrency > 0 {
		fmt.Printf("  Concurrency: %d\n", cfg.Probe.Concurrency)
	} else {
		fmt.Println("  Concurrency: unlimited")
	}
	fmt.Println()
	fmt.Println("SSH:")
	fmt.Printf("  Port: %d\n", cfg.SSH.Port)
	fmt.Printf("  Connect timeout: %s\n", cfg.SSH.ConnectTimeout)
	fmt.Printf("  Command timeout: %s\n", cfg.SSH.CommandTimeout)
	if cfg.SSH.KnownHostsPath != "" {
		fmt.Printf("  Known hosts: %s\n", cfg.SSH.KnownHostsPath)
	} else {
		fmt.Println("  Known hosts: (host keys not checked)")
	}
	fmt.Printf("  Try sudo -n first: %v\n", cfg.SSH.Escalate)
	fmt.Println()
	fmt.Println("Wake-on-LAN:")
	fmt.Printf("  Broadcast: %s:%d\n", cfg.WOL.BroadcastIP, cfg.WOL.Port)
	fmt.Printf("  Wait timeout: %s\n", cfg.WOL.WaitTimeout)
	fmt.Printf("  Poll interval: %s\n", cfg.WOL.PollInterval)
	fmt.Println()
	fmt.Println("Discovery:")
	fmt.Printf("  mDNS: %v\n", cfg.Discovery.MDNS)
	if cfg.Discovery.MDNS {
		fmt.Printf("  mDNS timeout: %s\n", cfg.Discovery.MDNSTimeout)
	}

	return nil
}
