// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/wakesleep/internal/models"
	"github.com/spf13/viper"
)

// Default values applied when a key is absent.
const (
	DefaultConnectTimeout    = 300 * time.Millisecond
	DefaultEchoTimeout       = time.Second
	DefaultSSHPort           = 22
	DefaultSSHConnectTimeout = 5 * time.Second
	DefaultSSHCommandTimeout = 10 * time.Second
	DefaultBroadcastIP       = "255.255.255.255"
	DefaultWOLPort           = 9
	DefaultWaitTimeout       = 2 * time.Minute
	DefaultPollInterval      = 5 * time.Second
	DefaultMDNSTimeout       = 3 * time.Second
)

// DefaultProbePorts are tried in order: SSH, RDP, SMB, HTTP.
var DefaultProbePorts = []int{22, 3389, 445, 80}

// DefaultEchoPayloadSizes are the payload sizes of the first and confirming echo.
var DefaultEchoPayloadSizes = [2]int{32, 56}

// Dir returns the directory holding wakesleep's files:
// $XDG_CONFIG_HOME/wakesleep, or ~/.config/wakesleep on every platform.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "wakesleep")
	}
	return filepath.Join(models.ExpandHome("~"), ".config", "wakesleep")
}

// DefaultFile returns the config file used when --config is not given.
func DefaultFile() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.AppConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.AppConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

// LoadDefaults returns the configuration used when no file exists.
func (p *Parser) LoadDefaults() (*models.AppConfig, error) {
	return p.parse()
}

// Load reads path if given, else the default file if it exists, else defaults.
func (p *Parser) Load(path string) (*models.AppConfig, error) {
	if path != "" {
		return p.LoadFile(path)
	}
	if _, err := os.Stat(DefaultFile()); err == nil {
		return p.LoadFile(DefaultFile())
	}
	return p.LoadDefaults()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.AppConfig, error) {
	cfg := &models.AppConfig{}

	// Registry.
	cfg.Registry.Path = p.expandPath(p.v.GetString("registry.path"))
	if cfg.Registry.Path == "" {
		cfg.Registry.Path = filepath.Join(Dir(), "devices.yaml")
	}

	// Probe settings.
	cfg.Probe = models.ProbeSettings{
		Ports:          p.v.GetIntSlice("probe.ports"),
		ConnectTimeout: p.v.GetDuration("probe.connect_timeout"),
		EchoTimeout:    p.v.GetDuration("probe.echo_timeout"),
		Concurrency:    p.v.GetInt("probe.concurrency"),
	}

	if len(cfg.Probe.Ports) == 0 {
		cfg.Probe.Ports = append([]int(nil), DefaultProbePorts...)
	}
	if cfg.Probe.ConnectTimeout == 0 {
		cfg.Probe.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Probe.EchoTimeout == 0 {
		cfg.Probe.EchoTimeout = DefaultEchoTimeout
	}

	sizes := p.v.GetIntSlice("probe.echo_payload_sizes")
	switch len(sizes) {
	case 0:
		cfg.Probe.EchoPayloadSizes = DefaultEchoPayloadSizes
	case 2:
		cfg.Probe.EchoPayloadSizes = [2]int{sizes[0], sizes[1]}
	default:
		return nil, fmt.Errorf("probe.echo_payload_sizes must list exactly two sizes")
	}

	// SSH settings.
	cfg.SSH = models.SSHSettings{
		Port:           p.v.GetInt("ssh.port"),
		ConnectTimeout: p.v.GetDuration("ssh.connect_timeout"),
		CommandTimeout: p.v.GetDuration("ssh.command_timeout"),
		KnownHostsPath: p.expandPath(p.v.GetString("ssh.known_hosts")),
		Escalate:       true,
	}

	if p.v.IsSet("ssh.escalate") {
		cfg.SSH.Escalate = p.v.GetBool("ssh.escalate")
	}
	if cfg.SSH.Port == 0 {
		cfg.SSH.Port = DefaultSSHPort
	}
	if cfg.SSH.ConnectTimeout == 0 {
		cfg.SSH.ConnectTimeout = DefaultSSHConnectTimeout
	}
	if cfg.SSH.CommandTimeout == 0 {
		cfg.SSH.CommandTimeout = DefaultSSHCommandTimeout
	}
	if !p.v.IsSet("ssh.known_hosts") {
		cfg.SSH.KnownHostsPath = filepath.Join(Dir(), "known_hosts")
	}

	// Wake-on-LAN settings.
	cfg.WOL = models.WOLSettings{
		BroadcastIP:  p.v.GetString("wol.broadcast_ip"),
		Port:         p.v.GetInt("wol.port"),
		WaitTimeout:  p.v.GetDuration("wol.wait_timeout"),
		PollInterval: p.v.GetDuration("wol.poll_interval"),
	}

	if cfg.WOL.BroadcastIP == "" {
		cfg.WOL.BroadcastIP = DefaultBroadcastIP
	}
	if cfg.WOL.Port == 0 {
		cfg.WOL.Port = DefaultWOLPort
	}
	if cfg.WOL.WaitTimeout == 0 {
		cfg.WOL.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.WOL.PollInterval == 0 {
		cfg.WOL.PollInterval = DefaultPollInterval
	}

	// Discovery settings.
	cfg.Discovery = models.DiscoverySettings{
		MDNS:        p.v.GetBool("discovery.mdns"),
		MDNSTimeout: p.v.GetDuration("discovery.mdns_timeout"),
	}

	if cfg.Discovery.MDNSTimeout == 0 {
		cfg.Discovery.MDNSTimeout = DefaultMDNSTimeout
	}

	return cfg, nil
}

// expandPath expands environment variables and a leading ~.
func (p *Parser) expandPath(s string) string {
	return models.ExpandHome(os.ExpandEnv(s))
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.AppConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.Registry.Path == "" {
		return fmt.Errorf("registry.path is required")
	}

	if len(cfg.Probe.Ports) == 0 {
		return fmt.Errorf("probe.ports must list at least one port")
	}
	for _, port := range cfg.Probe.Ports {
		if port < 1 || port > 65535 {
			return fmt.Errorf("probe.ports: %d is not a valid TCP port", port)
		}
	}

	if cfg.Probe.ConnectTimeout <= 0 || cfg.Probe.EchoTimeout <= 0 {
		return fmt.Errorf("probe timeouts must be positive")
	}

	for _, size := range cfg.Probe.EchoPayloadSizes {
		if size < 1 || size > 1472 {
			return fmt.Errorf("probe.echo_payload_sizes: %d is out of range 1-1472", size)
		}
	}
	if cfg.Probe.EchoPayloadSizes[0] == cfg.Probe.EchoPayloadSizes[1] {
		return fmt.Errorf("probe.echo_payload_sizes must differ")
	}

	if cfg.Probe.Concurrency < 0 {
		return fmt.Errorf("probe.concurrency must not be negative")
	}

	if cfg.SSH.Port < 1 || cfg.SSH.Port > 65535 {
		return fmt.Errorf("ssh.port: %d is not a valid TCP port", cfg.SSH.Port)
	}

	if cfg.SSH.ConnectTimeout <= 0 || cfg.SSH.CommandTimeout <= 0 {
		return fmt.Errorf("ssh timeouts must be positive")
	}

	if _, err := models.ParseIPv4(cfg.WOL.BroadcastIP); err != nil {
		return fmt.Errorf("wol.broadcast_ip: %w", err)
	}

	if cfg.WOL.Port < 1 || cfg.WOL.Port > 65535 {
		return fmt.Errorf("wol.port: %d is not a valid UDP port", cfg.WOL.Port)
	}

	return nil
}
