package auth

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// KeyDigest returns a BLAKE2b-256 digest of an API key for cache keys.
// This is NOT for credential storage, only for cache key derivation.
func KeyDigest(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
