package sleep

import (
	"slices"

	"github.com/fgeck/wakesleep/internal/models"
)

const escalationPrefix = "sudo -n "

// linuxSuspend lists the suspend mechanisms in preference order. The
// privileged form wraps commands whose redirect must run as root.
var linuxSuspend = []struct {
	plain      string
	privileged string
}{
	{"systemctl suspend", escalationPrefix + "systemctl suspend"},
	{"pm-suspend", escalationPrefix + "pm-suspend"},
	{"echo mem > /sys/power/state", escalationPrefix + "sh -c 'echo mem > /sys/power/state'"},
}

var macOSSuspend = []string{
	"pmset sleepnow",
}

var windowsSuspend = []string{
	"shutdown /h",
	"rundll32.exe powrprof.dll,SetSuspendState 0,1,0",
	"powercfg /hibernate on && shutdown /h",
}

// ladder is the ordered command list for one OS family.
type ladder struct {
	family   models.OSFamily
	commands []string
	confirm  bool // wait for each command's exit status before moving on
}

func ladderFor(family models.OSFamily, escalate bool) ladder {
	switch family {
	case models.OSLinux:
		return ladder{family: family, commands: linuxLadder(escalate), confirm: true}
	case models.OSMacOS:
		return ladder{family: family, commands: slices.Clone(macOSSuspend), confirm: true}
	case models.OSWindows:
		return ladder{family: family, commands: slices.Clone(windowsSuspend), confirm: true}
	default:
		all := linuxLadder(escalate)
		all = append(all, macOSSuspend...)
		all = append(all, windowsSuspend...)
		return ladder{family: models.OSUnknown, commands: all, confirm: false}
	}
}

func linuxLadder(escalate bool) []string {
	commands := make([]string, 0, 2*len(linuxSuspend))
	for _, c := range linuxSuspend {
		if escalate {
			commands = append(commands, c.privileged)
		}
		commands = append(commands, c.plain)
	}
	return commands
}

// Commands returns the suspend commands tried for family, in order.
func Commands(family models.OSFamily, escalate bool) []string {
	return ladderFor(family, escalate).commands
}
