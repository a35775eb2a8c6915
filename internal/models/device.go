package models

import (
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
)

// Device is a registered network device.
type Device struct {
	Name       string
	IPAddress  string
	MACAddress string // canonical lower-case colon form
	Hostname   string // optional
	Credential *Credential
}

// NewDevice validates and normalizes a device record.
func NewDevice(name, ipAddress, macAddress, hostname string) (Device, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, " \t\r\n") {
		return Device{}, &ValidationError{Field: "name", Value: name, Reason: "must be non-empty and contain no whitespace"}
	}

	ip, err := ParseIPv4(ipAddress)
	if err != nil {
		return Device{}, err
	}

	mac, err := NormalizeMAC(macAddress)
	if err != nil {
		return Device{}, err
	}

	return Device{
		Name:       name,
		IPAddress:  ip,
		MACAddress: mac,
		Hostname:   strings.TrimSpace(hostname),
	}, nil
}

// HardwareAddr returns the parsed MAC address.
func (d Device) HardwareAddr() (net.HardwareAddr, error) {
	return net.ParseMAC(d.MACAddress)
}

// HasCredential reports whether a usable SSH credential is configured.
func (d Device) HasCredential() bool {
	return d.Credential != nil && d.Credential.Populated()
}

// NormalizeMAC accepts colon, hyphen, dot or bare notation and returns the
// address as six lower-case colon separated octets.
func NormalizeMAC(s string) (string, error) {
	bare := strings.NewReplacer(":", "", "-", "", ".", "").Replace(strings.TrimSpace(s))
	if len(bare) != 12 {
		return "", &ValidationError{Field: "mac_address", Value: s, Reason: "must contain exactly 12 hex digits"}
	}

	var b strings.Builder
	for i, r := range strings.ToLower(bare) {
		if !isHex(r) {
			return "", &ValidationError{Field: "mac_address", Value: s, Reason: "must contain exactly 12 hex digits"}
		}
		if i > 0 && i%2 == 0 {
			b.WriteByte(':')
		}
		b.WriteRune(r)
	}

	return b.String(), nil
}

// ParseIPv4 accepts only a dotted quad with four decimal octets in 0-255.
func ParseIPv4(s string) (string, error) {
	s = strings.TrimSpace(s)
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return "", &ValidationError{Field: "ip_address", Value: s, Reason: "must be a dotted-quad IPv4 address"}
	}
	return addr.String(), nil
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
}

// Credential holds SSH login details for a device. Exactly one of Password
// and KeyPath is set.
type Credential struct {
	Username string
	Password string
	KeyPath  string
}

// CredentialMode identifies which secret a credential carries.
type CredentialMode int

// Credential modes.
const (
	CredentialNone CredentialMode = iota
	CredentialPassword
	CredentialKeyFile
)

// NewPasswordCredential builds a password credential.
func NewPasswordCredential(username, password string) (*Credential, error) {
	c := &Credential{Username: username, Password: password}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewKeyCredential builds a key file credential.
func NewKeyCredential(username, keyPath string) (*Credential, error) {
	c := &Credential{Username: username, KeyPath: keyPath}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Mode returns the secret form in use. A password wins over a key path for
// records written by older versions that carry both.
func (c *Credential) Mode() CredentialMode {
	switch {
	case c == nil:
		return CredentialNone
	case c.Password != "":
		return CredentialPassword
	case c.KeyPath != "":
		return CredentialKeyFile
	default:
		return CredentialNone
	}
}

// Populated reports whether the credential can be used to log in.
func (c *Credential) Populated() bool {
	return c != nil && c.Username != "" && c.Mode() != CredentialNone
}

// Validate enforces a username and exactly one secret.
func (c *Credential) Validate() error {
	if c == nil {
		return &ValidationError{Field: "ssh_config", Reason: "credential is required"}
	}
	if strings.TrimSpace(c.Username) == "" {
		return &ValidationError{Field: "ssh_config.username", Reason: "username is required"}
	}
	if c.Password == "" && c.KeyPath == "" {
		return &ValidationError{Field: "ssh_config", Reason: "either password or key_path must be provided"}
	}
	if c.Password != "" && c.KeyPath != "" {
		return &ValidationError{Field: "ssh_config", Reason: "password and key_path are mutually exclusive"}
	}
	return nil
}

// ResolvedKeyPath expands a leading ~ in KeyPath.
func (c *Credential) ResolvedKeyPath() string {
	return ExpandHome(c.KeyPath)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
