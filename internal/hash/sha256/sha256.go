// Package sha256 provides SHA-256 hashing utilities.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements sentinel.Hasher using SHA-256.
type Hasher struct {
	size int
}

// New returns a SHA-256 hasher producing the full hex digest.
func New() *Hasher {
	return &Hasher{}
}

// NewTruncated returns a hasher that keeps the first size hex characters.
// It is used to derive short stable keys such as meeting IDs.
func NewTruncated(size int) *Hasher {
	return &Hasher{size: size}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.size > 0 && h.size < len(digest) {
		return digest[:h.size], nil
	}
	return digest, nil
}
