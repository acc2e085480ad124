package util

import (
	"regexp"
)

// Hostname and MAC hints are attacker-supplied and only ever displayed to
// the approving user; they carry no trust. Format checks keep garbage out
// of the dashboard.
var (
	macAddressRe = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)
	hostnameRe   = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._-]{0,253}[a-zA-Z0-9])?$`)
)

// ValidMacAddress reports whether s is a colon-separated MAC address.
func ValidMacAddress(s string) bool {
	return macAddressRe.MatchString(s)
}

// ValidHostname reports whether s is a plausible hostname (max 255 chars).
func ValidHostname(s string) bool {
	return len(s) <= 255 && hostnameRe.MatchString(s)
}
