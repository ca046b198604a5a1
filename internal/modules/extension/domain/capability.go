package domain

import "strings"

const (
	// CapabilityPrefix is the reserved protocol prefix under which peers
	// advertise extension capability.
	CapabilityPrefix = "/uc/extension/"

	// DefaultVersion is used when a manifest carries no version string.
	DefaultVersion = "1.0.0"
)

// CapabilityID builds the protocol identifier a peer advertises for an
// extension: /uc/extension/{id}/{version}.
func CapabilityID(extensionID, version string) string {
	if version == "" {
		version = DefaultVersion
	}
	return CapabilityPrefix + extensionID + "/" + version
}

// ParseCapabilityID parses an advertised protocol identifier. It requires
// exactly two non-empty slash-delimited segments after the reserved prefix;
// anything else is not an extension capability.
func ParseCapabilityID(s string) (extensionID, version string, ok bool) {
	rest, found := strings.CutPrefix(s, CapabilityPrefix)
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
