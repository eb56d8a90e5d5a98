package phone

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashingMethod is the only digest scheme accepted on the pre-hashed
// submission path.
const HashingMethod = "sha256"

// digestLen is the hex length of a SHA-256 digest.
const digestLen = 64

// Digest returns the lowercase hex SHA-256 of a canonical phone number.
func Digest(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// IsWellFormedDigest reports whether s is a lowercase hex SHA-256 digest.
func IsWellFormedDigest(s string) bool {
	if len(s) != digestLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
