package models

import "time"

// WOLConfig holds Wake-on-LAN configuration for one wake request.
type WOLConfig struct {
	Target       Device // probed while waiting
	MACAddress   string
	BroadcastIP  string
	Port         int
	Wait         bool          // poll until the device answers probes
	Timeout      time.Duration // max time to wait for the device
	PollInterval time.Duration // how often to probe while waiting
}

// WOLResult holds the result of a Wake-on-LAN operation.
type WOLResult struct {
	AlreadyAwake bool // nothing was sent because the device answered probes
	PacketSent   bool
	DeviceAwake  bool
	WaitDuration time.Duration
	Error        error
}
