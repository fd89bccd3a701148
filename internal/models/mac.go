package models

import "strings"

// CanonicalMAC uppercases and colon-separates a 48-bit MAC string so that
// registry lookups and wire payloads always agree on one representation,
// per §4.7's decoding rule.
func CanonicalMAC(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.ReplaceAll(raw, "-", ":")
	return strings.ToUpper(raw)
}
