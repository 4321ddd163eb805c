// Package idgen generates random identifiers for domain rows. Every entity
// carries a typed prefix ("txn_", "stl_", "mch_", "exc_", "adj_", "led_",
// "rul_", "wh_") so an id is self-describing in logs and API payloads.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

func mustRand(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return b
}

// WithPrefix returns prefix followed by 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	return prefix + hex.EncodeToString(mustRand(12))
}

// New returns a UUID-shaped random id for callers that need no prefix.
func New() string {
	b := mustRand(16)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}

// Hex returns a random hex string of numBytes bytes.
func Hex(numBytes int) string {
	return hex.EncodeToString(mustRand(numBytes))
}
