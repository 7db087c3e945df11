// Package version implements protocol-version parsing and negotiation.
package version

import (
	"strconv"
	"strings"
)

// RPC is the protocol version string set on every request and response.
const RPC = "1.0"

// RPCSupportedString is the space-separated list of major versions this
// core accepts on incoming messages.
const RPCSupportedString = "1"

// RPCSupported is the parsed form of RPCSupportedString.
var RPCSupported = ParseSupported(RPCSupportedString)

// Parse splits a "MAJOR.MINOR" version string. An empty string is treated
// as "1.0", matching the rule that responses missing a version default to
// 1.0 (requests missing a parseable version are instead rejected by the
// caller). A malformed string yields major -1, which never matches a
// supported major.
func Parse(v string) (major, minor int) {
	if v == "" {
		return 1, 0
	}

	parts := strings.Split(v, ".")
	if len(parts) != 2 {
		return -1, 0
	}

	var err error
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return -1, 0
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return -1, 0
	}
	return major, minor
}

// ParseSupported parses a space-separated list of supported major versions.
func ParseSupported(vs string) []int {
	parts := strings.Split(vs, " ")
	res := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil
		}
		res = append(res, n)
	}
	return res
}

// IsSupported reports whether v's major version is in the supported set.
func IsSupported(supported []int, v string) bool {
	major, _ := Parse(v)
	for _, s := range supported {
		if major == s {
			return true
		}
	}
	return false
}

// Format renders the list of supported majors as the space-separated wire
// form carried by __supProtMajVer.
func Format(supported []int) string {
	parts := make([]string, len(supported))
	for i, v := range supported {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}
