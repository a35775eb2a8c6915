package models

import "time"

// Verdict is the outcome class of a liveness probe.
type Verdict int

// Probe verdicts. VerdictAsleep means every probe ran and nothing answered;
// VerdictErrored means a probing primitive itself failed. Both report Awake == false.
const (
	VerdictAsleep Verdict = iota
	VerdictAwake
	VerdictErrored
)

func (v Verdict) String() string {
	switch v {
	case VerdictAwake:
		return "awake"
	case VerdictErrored:
		return "errored"
	default:
		return "asleep"
	}
}

// Channel names the detection channel that produced a verdict.
type Channel string

// Detection channels.
const (
	ChannelNone Channel = "none"
	ChannelTCP  Channel = "tcp"
	ChannelICMP Channel = "icmp"
)

// ProbeResult holds the liveness verdict for one device at one point in time.
type ProbeResult struct {
	Device   string
	Awake    bool
	Verdict  Verdict
	Channel  Channel
	Port     int           // TCP port that accepted, when Channel is tcp
	RTT      time.Duration // round trip of the deciding probe
	Duration time.Duration // total time spent probing
	Error    error         // last primitive error, diagnostic only
}

// ProbeRequest asks whether a registered device is awake.
type ProbeRequest struct {
	DeviceName string
}

// ProbeResponse answers a ProbeRequest.
type ProbeResponse struct {
	Awake  bool
	Result ProbeResult
}
