// Package object defines the primitive value types shared across the
// engine: content hashes, revision identifiers, and JSON canonicalization.
package object

import (
	"bytes"
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Hash is the content hash of a value, a block, or a pack.
type Hash []byte

// Sum returns the SHA3-256 hash of the given bytes. SHA3-256 is used for
// every value, revision, block and pack hash in the engine.
func Sum(data []byte) Hash {
	sum := sha3.Sum256(data)
	return Hash(sum[:])
}

// Equal returns true if the two hashes are byte-identical.
func (h Hash) Equal(other Hash) bool {
	return bytes.Equal(h, other)
}

// String returns the hex representation of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h)
}

// IsZero returns true if the hash carries no bytes.
func (h Hash) IsZero() bool {
	return len(h) == 0
}

// ParseHash decodes a hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}
