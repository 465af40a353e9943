package crypto

import "golang.org/x/crypto/bcrypt"

// MinBcryptCost is the minimum cost factor this package will hash at,
// regardless of what is requested.
const MinBcryptCost = 10

// HashPassword hashes a plaintext password with bcrypt at the given cost,
// clamped to MinBcryptCost.
func HashPassword(plaintext string, cost int) (string, error) {
	if cost < MinBcryptCost {
		cost = MinBcryptCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", ErrHashFailed(err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether plaintext matches a stored bcrypt hash.
func VerifyPassword(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
