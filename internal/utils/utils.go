package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashEmail creates a consistent hash for logging without exposing PII
func HashEmail(email string) string {
	hash := sha256.Sum256([]byte(email))
	return hex.EncodeToString(hash[:])[:12]
}
