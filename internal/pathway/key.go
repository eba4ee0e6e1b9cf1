package pathway

import (
	"strconv"
	"strings"
)

// LoopbackAddress is the canonical form every loopback alias collapses to.
const LoopbackAddress = "127.0.0.1"

// Wildcard is the port marker meaning "any source port".
const Wildcard = "*"

// keyDelimiter separates the address and port parts of a key.
const keyDelimiter = "_"

// loopbackAliases lists the addresses treated as the local host.
var loopbackAliases = map[string]struct{}{
	LoopbackAddress: {},
	"0.0.0.0":       {},
	"localhost":     {},
}

// Normalize maps any recognized loopback alias to LoopbackAddress.
// All other addresses are returned unchanged.
func Normalize(address string) string {
	if _, ok := loopbackAliases[address]; ok {
		return LoopbackAddress
	}
	return address
}

// FormatKey builds the lookup key for an address and optional port.
// An empty port, the wildcard marker, or "0" yields the address-only key.
func FormatKey(address, port string) string {
	address = Normalize(address)
	if isWildcardPort(port) {
		return address
	}
	return address + keyDelimiter + port
}

// PortKey is FormatKey for a numeric port.
func PortKey(address string, port int) string {
	return FormatKey(address, strconv.Itoa(port))
}

// SplitKey splits a key into its address and port parts.
// hasPort is false for address-only keys.
func SplitKey(key string) (address, port string, hasPort bool) {
	idx := strings.LastIndex(key, keyDelimiter)
	if idx < 0 {
		return key, "", false
	}
	return key[:idx], key[idx+1:], true
}

func isWildcardPort(port string) bool {
	port = strings.TrimSpace(port)
	return port == "" || port == Wildcard || port == "0"
}
