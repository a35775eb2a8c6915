package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/fgeck/wakesleep/internal/models"
	"github.com/fgeck/wakesleep/internal/services/discovery"
	"github.com/fgeck/wakesleep/internal/services/manager"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Flags for non-interactive device input.
var (
	deviceIP       string
	deviceMAC      string
	deviceHostname string
	sshUser        string
	sshKey         string
	removeYes      bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered devices",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new device or configure SSH",
	Long: `Add a new device or configure SSH.

Examples:
  wakesleep add device desk1                        Add a device (scan or manual input)
  wakesleep add device desk1 --ip 192.168.1.10 --mac aa:bb:cc:dd:ee:ff
  wakesleep add ssh desk1                           Configure SSH for a device`,
}

var addDeviceCmd = &cobra.Command{
	Use:   "device [name]",
	Short: "Register a new device",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAddDevice,
}

var addSSHCmd = &cobra.Command{
	Use:   "ssh [name]",
	Short: "Configure SSH credentials for a device",
	Long: `Configure the SSH login used by 'wakesleep sleep'. Give either --key for
key file authentication or leave it out to be prompted for a password.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAddSSH,
}

var editCmd = &cobra.Command{
	Use:   "edit [name]",
	Short: "Change the address details of a device",
	Long:  `Re-enter the IP address, MAC address and hostname of a device. SSH credentials are kept.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runEdit,
}

var removeCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a device",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

func init() {
	for _, cmd := range []*cobra.Command{addDeviceCmd, editCmd} {
		cmd.Flags().StringVar(&deviceIP, "ip", "", "IPv4 address")
		cmd.Flags().StringVar(&deviceMAC, "mac", "", "MAC address (any separator style)")
		cmd.Flags().StringVar(&deviceHostname, "hostname", "", "hostname (optional)")
	}
	addSSHCmd.Flags().StringVarP(&sshUser, "user", "u", "", "SSH username")
	addSSHCmd.Flags().StringVarP(&sshKey, "key", "k", "", "path to the SSH private key")
	removeCmd.Flags().BoolVarP(&removeYes, "yes", "y", false, "do not ask for confirmation")

	addCmd.AddCommand(addDeviceCmd)
	addCmd.AddCommand(addSSHCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	devices := a.store.List()
	if len(devices) == 0 {
		printWarn("No devices configured. Use 'add device' to add a device.")
		return nil
	}

	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, []string{d.Name, d.IPAddress, d.MACAddress, orNA(d.Hostname), credentialLabel(d)})
	}
	fmt.Println(renderTable([]string{"Name", "IP Address", "MAC Address", "Hostname", "SSH"}, rows))
	return nil
}

func runAddDevice(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	p := newPrompter()

	var name string
	if len(args) > 0 {
		name = args[0]
	} else if name, err = p.required("Enter device name"); err != nil {
		return err
	}

	device, err := readDevice(ctx, a, p, name)
	if err != nil {
		printError("Error: %s", manager.Describe(err))
		return err
	}

	if err := a.store.Add(device); err != nil {
		printError("Error: %s", manager.Describe(err))
		return err
	}
	log.Info().Str("device", name).Msg("device added")
	printSuccess("Device '%s' added successfully", name)

	return offerSSHSetup(a, p, name)
}

func runEdit(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	p := newPrompter()

	name, err := argOrPick(a, p, args, "edit")
	if err != nil || name == "" {
		return err
	}
	if _, err := a.store.Get(name); err != nil {
		printError("Device '%s' not found", name)
		return err
	}

	device, err := readDevice(ctx, a, p, name)
	if err != nil {
		printError("Error: %s", manager.Describe(err))
		return err
	}

	if err := a.store.Update(name, device); err != nil {
		printError("Error: %s", manager.Describe(err))
		return err
	}
	log.Info().Str("device", name).Msg("device updated")
	printSuccess("Device '%s' updated successfully", name)

	return offerSSHSetup(a, p, name)
}

func runAddSSH(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	p := newPrompter()

	name, err := argOrPick(a, p, args, "configure SSH")
	if err != nil || name == "" {
		return err
	}
	if _, err := a.store.Get(name); err != nil {
		printError("Device '%s' not found", name)
		return err
	}

	return setupSSH(a, p, name)
}

func runRemove(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	name := args[0]
	if _, err := a.store.Get(name); err != nil {
		printError("Device '%s' not found", name)
		return err
	}

	if !removeYes {
		ok, err := newPrompter().confirm(fmt.Sprintf("Are you sure you want to remove device '%s'?", name), false)
		if err != nil || !ok {
			return err
		}
	}

	if err := a.store.Remove(name); err != nil {
		printError("Error: %s", manager.Describe(err))
		return err
	}
	log.Info().Str("device", name).Msg("device removed")
	printSuccess("Device '%s' removed successfully", name)
	return nil
}

// readDevice builds a device record from flags, a network scan or manual input.
func readDevice(ctx context.Context, a *app, p *prompter, name string) (models.Device, error) {
	if deviceIP != "" || deviceMAC != "" {
		return models.NewDevice(name, deviceIP, deviceMAC, deviceHostname)
	}

	method, err := p.choose("Choose input method", []string{"scan", "manual"}, "scan")
	if err != nil {
		return models.Device{}, err
	}

	if method == "scan" {
		candidate, ok, err := pickCandidate(ctx, a, p)
		if err != nil {
			return models.Device{}, err
		}
		if ok {
			return models.NewDevice(name, candidate.IPAddress, candidate.MACAddress, candidate.Hostname)
		}
	}

	ip, err := p.required("Enter IP address")
	if err != nil {
		return models.Device{}, err
	}
	mac, err := p.required("Enter MAC address")
	if err != nil {
		return models.Device{}, err
	}
	hostname, err := p.ask("Enter hostname (optional)", "")
	if err != nil {
		return models.Device{}, err
	}

	return models.NewDevice(name, ip, mac, hostname)
}

// pickCandidate scans the network and lets the user pick an entry. ok is
// false when the caller should fall back to manual input.
func pickCandidate(ctx context.Context, a *app, p *prompter) (models.Candidate, bool, error) {
	printWarn("Scanning network for devices...")

	candidates, err := discovery.New(log.Logger, a.cfg.Discovery).Scan(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("network scan failed")
		printWarn("Network scan failed. Switching to manual input.")
		return models.Candidate{}, false, nil
	}
	if len(candidates) == 0 {
		printWarn("No devices found. Switching to manual input.")
		return models.Candidate{}, false, nil
	}

	fmt.Println(renderCandidates(candidates))

	indices, err := p.pick("Enter the number of the device to use", len(candidates), false)
	if errors.Is(err, errInvalidChoice) {
		printError("Invalid choice. Switching to manual input.")
		return models.Candidate{}, false, nil
	}
	if err != nil {
		return models.Candidate{}, false, err
	}

	return candidates[indices[0]], true, nil
}

func offerSSHSetup(a *app, p *prompter, name string) error {
	if sshUser != "" || sshKey != "" {
		return setupSSH(a, p, name)
	}

	ok, err := p.confirm("Do you want to setup SSH to be able to use the sleep command?", false)
	if err != nil || !ok {
		return err
	}
	return setupSSH(a, p, name)
}

func setupSSH(a *app, p *prompter, name string) error {
	var err error

	username := sshUser
	if username == "" {
		if username, err = p.required("Enter SSH username"); err != nil {
			return err
		}
	}

	keyPath := sshKey
	if keyPath == "" && sshUser == "" {
		method, err := p.choose("Choose authentication method", []string{"password", "key"}, "password")
		if err != nil {
			return err
		}
		if method == "key" {
			if keyPath, err = p.required("Enter path to SSH private key file"); err != nil {
				return err
			}
		}
	}

	cred := models.Credential{Username: username, KeyPath: keyPath}
	if keyPath == "" {
		if cred.Password, err = p.password("Enter SSH password"); err != nil {
			return err
		}
	}

	if err := a.store.SetCredential(name, cred); err != nil {
		printError("Error: %s", manager.Describe(err))
		return err
	}
	log.Info().Str("device", name).Str("user", username).Msg("SSH credentials saved")
	printSuccess("SSH configuration for device '%s' saved successfully", name)
	return nil
}

// argOrPick returns args[0], or lets the user choose from the registry.
func argOrPick(a *app, p *prompter, args []string, verb string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}

	devices := a.store.List()
	if len(devices) == 0 {
		printWarn("No devices configured. Use 'add device' to add a device.")
		return "", nil
	}

	rows := make([][]string, 0, len(devices))
	for i, d := range devices {
		rows = append(rows, []string{strconv.Itoa(i + 1), d.Name, d.IPAddress, d.MACAddress})
	}
	fmt.Println(renderTable([]string{"#", "Name", "IP Address", "MAC Address"}, rows))

	indices, err := p.pick(fmt.Sprintf("Enter the number of the device to %s", verb), len(devices), false)
	if err != nil {
		if errors.Is(err, errInvalidChoice) {
			printError("%v", err)
		}
		return "", err
	}
	return devices[indices[0]].Name, nil
}
