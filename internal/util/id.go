package util

import (
	"crypto/rand"
	"encoding/hex"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// ShortRef abbreviates a revision identifier for log lines and messages.
func ShortRef(rev string) string {
	if len(rev) <= 8 {
		return rev
	}
	return rev[:8]
}
