// Package ids generates the short hex identifiers used for tasks and
// notifications. IDs are 8 lowercase hex characters derived from a hash of
// the entity's content plus a nonce, retried on collision.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Length is the identifier length in hex characters.
const Length = 8

// maxNonces bounds collision retries per generation attempt.
const maxNonces = 32

// Hash derives a candidate id from entity content and a nonce.
func Hash(parts string, timestamp time.Time, nonce int) string {
	payload := fmt.Sprintf("%s|%d|%d", parts, timestamp.UnixNano(), nonce)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:Length]
}

// Generate produces a unique id, probing taken() for collisions.
// taken returns whether a candidate is already in use.
func Generate(parts string, timestamp time.Time, taken func(id string) (bool, error)) (string, error) {
	for nonce := 0; nonce < maxNonces; nonce++ {
		candidate := Hash(parts, timestamp, nonce)
		inUse, err := taken(candidate)
		if err != nil {
			return "", fmt.Errorf("checking id collision: %w", err)
		}
		if !inUse {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique id after %d nonces", maxNonces)
}

// Valid reports whether id is a well-formed 8-char lowercase hex identifier.
func Valid(id string) bool {
	if len(id) != Length {
		return false
	}
	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
