package sentinel

import "strings"

// NormalizeAddress lowercases, trims and collapses internal whitespace.
func NormalizeAddress(address string) string {
	return strings.Join(strings.Fields(strings.ToLower(address)), " ")
}

// NormalizeID canonicalizes license and permit numbers for comparison.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.Join(strings.Fields(id), ""))
}
