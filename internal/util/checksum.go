package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex returns the hex-encoded SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256String is SHA256Hex for strings, used to key secrets without storing them.
func SHA256String(s string) string {
	return SHA256Hex([]byte(s))
}
