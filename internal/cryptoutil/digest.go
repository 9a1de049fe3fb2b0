package cryptoutil

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// DigestPrefix marks an algorithm-qualified digest, as written by OCI tooling.
const DigestPrefix = "sha256:"

// SHA256Hex returns the lowercase hex SHA-256 of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashEqual compares two SHA-256 digests in constant time. Either side may
// carry DigestPrefix or upper-case hex.
func HashEqual(a, b string) bool {
	a, b = normalize(a), normalize(b)
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func normalize(d string) string {
	d = strings.TrimSpace(d)
	if len(d) >= len(DigestPrefix) && strings.EqualFold(d[:len(DigestPrefix)], DigestPrefix) {
		d = d[len(DigestPrefix):]
	}
	return strings.ToLower(d)
}
