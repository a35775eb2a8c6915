package models

import "time"

// OSFamily is the classified operating system of a remote device.
type OSFamily int

// Supported OS families.
const (
	OSUnknown OSFamily = iota
	OSLinux
	OSMacOS
	OSWindows
)

func (f OSFamily) String() string {
	switch f {
	case OSLinux:
		return "Linux"
	case OSMacOS:
		return "macOS"
	case OSWindows:
		return "Windows"
	default:
		return "Unknown"
	}
}

// ExecResult is the outcome of a synchronous remote command.
type ExecResult struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

// SleepAttempt records one ladder entry that was tried.
type SleepAttempt struct {
	Command string
	Waited  bool   // false for fire-and-forget
	Output  string // combined stdout/stderr, trimmed
	Error   error
}

// SleepOutcome holds the result of a sleep dispatch.
type SleepOutcome struct {
	Device        string
	AlreadyAsleep bool // nothing was sent because the device did not answer probes
	Family        OSFamily
	Success       bool
	Command       string // command that succeeded, or first accepted for fire-and-forget
	Confirmed     bool   // false when success is inferred from a dropped session or no feedback
	Attempts      []SleepAttempt
	Duration      time.Duration
}

// SleepRequest asks to put a registered device to sleep.
type SleepRequest struct {
	DeviceName string
}

// SleepResponse answers a SleepRequest.
type SleepResponse struct {
	Outcome *SleepOutcome
	Detail  string
}
