// Package classify implements the static suspicion heuristic and the
// kill-eligibility check for observed connections.
//
// The heuristic is deliberately conservative and noisy: it flags
// unrecognized software on high ephemeral ports and expects user rules
// to override its false positives. User rules always win (see the rules
// package); this package only computes the pre-rule verdict.
package classify

import (
	"strconv"
)

// EphemeralPortThreshold is the lowest port of the IANA dynamic range.
// Traffic above it from an unrecognized process is flagged.
const EphemeralPortThreshold = 49152

// suspiciousPorts are historically malware-associated listener ports.
var suspiciousPorts = map[string]struct{}{
	"1337":  {}, // elite
	"4444":  {}, // metasploit default
	"5554":  {}, // sasser
	"6666":  {}, // irc backdoors
	"6667":  {},
	"6697":  {},
	"9001":  {}, // tor default
	"12345": {}, // netbus
	"27374": {}, // sub7
	"31337": {}, // back orifice
	"54321": {},
}

// knownProcesses are common applications and tools whose high-port
// traffic is expected. Membership suppresses the ephemeral-port rule
// only; the suspicious-port rule applies to everyone.
var knownProcesses = map[string]struct{}{
	// Browsers
	"Safari":          {},
	"Google Chrome":   {},
	"Google":          {},
	"Chrome":          {},
	"firefox":         {},
	"Firefox":         {},
	"Brave Browser":   {},
	"Brave":           {},
	"Microsoft Edge":  {},
	"Arc":             {},
	"Opera":           {},
	// Communication
	"Slack":    {},
	"Discord":  {},
	"zoom.us":  {},
	"Telegram": {},
	"WhatsApp": {},
	"Signal":   {},
	"Messages": {},
	"FaceTime": {},
	"Mail":     {},
	// Media
	"Spotify": {},
	"Music":   {},
	"TV":      {},
	// Dev tools
	"Code":     {},
	"Electron": {},
	"node":     {},
	"java":     {},
	"python3":  {},
	"ssh":      {},
	"curl":     {},
	"wget":     {},
	"git":      {},
	"git-remote-https": {},
	"Docker":             {},
	"com.docker.backend": {},
	"Terminal":           {},
	"iTerm2":             {},
	// Storage/sync
	"Dropbox":        {},
	"OneDrive":       {},
	"Creative Cloud": {},
}

// systemProcesses are OS daemons. They are never kill-eligible and
// their high-port traffic is expected.
var systemProcesses = map[string]struct{}{
	"launchd":        {},
	"kernel_task":    {},
	"mDNSResponder":  {},
	"rapportd":       {},
	"sharingd":       {},
	"nsurlsessiond":  {},
	"trustd":         {},
	"apsd":           {},
	"timed":          {},
	"cloudd":         {},
	"configd":        {},
	"syslogd":        {},
	"notifyd":        {},
	"securityd":      {},
	"bluetoothd":     {},
	"coreaudiod":     {},
	"WindowServer":   {},
	"loginwindow":    {},
	"identityservicesd": {},
	"netbiosd":          {},
	"airportd":          {},
	"systemstats":       {},
	"WiFiAgent":         {},
	"AMPDeviceDiscoveryAgent": {},
}

// IsSuspicious is the pure suspicion heuristic over (process name,
// remote port, remote address). Rule order:
//  1. a known-bad port is suspicious regardless of process;
//  2. a numeric port above the ephemeral threshold is suspicious unless
//     the process is a known application or system daemon;
//  3. everything else is not suspicious.
func IsSuspicious(processName, remotePort, remoteAddress string) bool {
	_ = remoteAddress // reserved for future address-based checks

	if _, bad := suspiciousPorts[remotePort]; bad {
		return true
	}

	port, err := strconv.Atoi(remotePort)
	if err != nil {
		return false
	}
	if port > EphemeralPortThreshold && !IsKnownProcess(processName) {
		return true
	}

	return false
}

// IsKnownProcess reports whether the name is in the curated set of
// recognized applications or system daemons.
func IsKnownProcess(name string) bool {
	if _, ok := knownProcesses[name]; ok {
		return true
	}
	_, ok := systemProcesses[name]
	return ok
}

// IsSystemProcess reports whether the name is a protected OS daemon.
func IsSystemProcess(name string) bool {
	_, ok := systemProcesses[name]
	return ok
}

// Killable reports whether a process with this name may be offered for
// termination. System daemons are never killable.
func Killable(name string) bool {
	return !IsSystemProcess(name)
}
