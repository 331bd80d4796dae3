// Package dedup collapses leads that point at the same property.
package dedup

import "github.com/JakeFAU/municipal-sentinel/internal/sentinel"

// Dedupe keeps the first lead seen for each normalized address and preserves
// input order. The empty address is a key like any other.
func Dedupe(leads []sentinel.Lead) []sentinel.Lead {
	out := make([]sentinel.Lead, 0, len(leads))
	seen := make(map[string]struct{}, len(leads))
	for _, lead := range leads {
		key := sentinel.NormalizeAddress(lead.Address)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, lead)
	}
	return out
}
