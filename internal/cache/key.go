package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// keySetKeyPrefix namespaces key-set documents inside the store.
const keySetKeyPrefix = "jwks:"

// KeySetKey returns the store key for an issuer's key-set document.
// Issuers that differ only by a trailing slash share one key.
func KeySetKey(issuer string) string {
	return keySetKeyPrefix + HashKey(strings.TrimRight(issuer, "/"))
}

// HashKey hashes a key to a fixed length.
func HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
