package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// RandomToken returns a URL-safe, base64-encoded CSPRNG value of at least
// 128 bits of entropy. byteLen is the number of raw random bytes before
// encoding; 32 bytes (256 bits) is the default used for authorization codes
// and reset tokens.
func RandomToken(byteLen int) (string, error) {
	if byteLen < 16 {
		byteLen = 16
	}
	buf := make([]byte, byteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", ErrInvalidKey(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns a cryptographic digest of an opaque token or compact
// JWS, used so raw tokens never need to be kept at rest: repositories index
// and compare by this hash instead of the literal token string.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// constantTimeEqual compares two strings in constant time regardless of
// where they first differ, guarding against timing side-channels on client
// secret and PKCE challenge comparisons.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		// Still run a constant-time compare against a same-length buffer so
		// comparison time does not leak length information beyond this check.
		subtle.ConstantTimeCompare([]byte(a), []byte(a))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ConstantTimeEqual exposes the constant-time string comparison for callers
// outside this package (client secret checks, bearer token comparisons).
func ConstantTimeEqual(a, b string) bool {
	return constantTimeEqual(a, b)
}
