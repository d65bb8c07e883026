// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// TraceID generates a 128-bit trace identifier as 32 lowercase hex chars.
func TraceID() string {
	return Hex(16)
}

// SpanID generates a 64-bit span identifier as 16 lowercase hex chars.
// The all-zero ID is reserved as "no span" and is never returned.
func SpanID() string {
	for {
		b := make([]byte, 8)
		if _, err := rand.Read(b); err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		zero := true
		for _, v := range b {
			if v != 0 {
				zero = false
				break
			}
		}
		if !zero {
			return hex.EncodeToString(b)
		}
	}
}

// WithPrefix generates a random ID with a prefix (e.g. "risk_", "txn_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
