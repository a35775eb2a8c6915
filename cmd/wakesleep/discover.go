package main

import (
	"fmt"
	"strconv"

	"github.com/fgeck/wakesleep/internal/models"
	"github.com/fgeck/wakesleep/internal/services/discovery"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var discoverNoMDNS bool

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List devices seen on the local network",
	Long: `Read the ARP table and resolve hostnames via reverse DNS and mDNS.
Entries already in the registry are marked.`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().BoolVar(&discoverNoMDNS, "no-mdns", false, "skip the mDNS browse")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	settings := a.cfg.Discovery
	if discoverNoMDNS {
		settings.MDNS = false
	}

	candidates, err := discovery.New(log.Logger, settings).Scan(ctx)
	if err != nil {
		printError("Network scan failed: %v", err)
		return err
	}
	if len(candidates) == 0 {
		printWarn("No devices found.")
		return nil
	}

	known := make(map[string]string)
	for _, d := range a.store.List() {
		known[d.MACAddress] = d.Name
	}

	rows := make([][]string, 0, len(candidates))
	for i, c := range candidates {
		rows = append(rows, []string{strconv.Itoa(i + 1), c.IPAddress, c.MACAddress, orNA(c.Hostname), known[c.MACAddress]})
	}
	fmt.Println(renderTable([]string{"#", "IP Address", "MAC Address", "Hostname", "Registered as"}, rows))
	return nil
}

func renderCandidates(candidates []models.Candidate) string {
	rows := make([][]string, 0, len(candidates))
	for i, c := range candidates {
		rows = append(rows, []string{strconv.Itoa(i + 1), c.IPAddress, c.MACAddress, orNA(c.Hostname)})
	}
	return renderTable([]string{"#", "IP Address", "MAC Address", "Hostname"}, rows)
}
