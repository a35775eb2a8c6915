// Package models contains the data structures used throughout wakesleep.
package models

import "time"

// AppConfig holds the complete wakesleep configuration.
type AppConfig struct {
	Registry  RegistrySettings
	Probe     ProbeSettings
	SSH       SSHSettings
	WOL       WOLSettings
	Discovery DiscoverySettings
}

// RegistrySettings locates the device registry file.
type RegistrySettings struct {
	Path string
}

// ProbeSettings tunes liveness detection.
type ProbeSettings struct {
	Ports            []int
	ConnectTimeout   time.Duration // per TCP connect
	EchoTimeout      time.Duration // per ICMP echo
	EchoPayloadSizes [2]int        // first and confirming echo payload sizes
	Concurrency      int           // 0 means one task per device
}

// SSHSettings tunes remote sessions.
type SSHSettings struct {
	Port           int
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	KnownHostsPath string // empty disables host key recording
	Escalate       bool   // try sudo -n before plain commands on Linux
}

// WOLSettings holds defaults for wake requests.
type WOLSettings struct {
	BroadcastIP  string
	Port         int
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

// DiscoverySettings tunes network discovery.
type DiscoverySettings struct {
	MDNS        bool
	MDNSTimeout time.Duration
}
