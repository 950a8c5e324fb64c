package pkg

import (
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor used for new password hashes.
const DefaultBcryptCost = 10

// bcrypt only reads the first 72 bytes of its input
const maxBcryptPasswordLen = 72

// HashPasswordWithCost hashes the password with a fresh random salt on every call.
// Passwords longer than bcrypt accepts are pre-hashed with SHA-256.
func HashPasswordWithCost(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	bytes, err := bcrypt.GenerateFromPassword(bcryptInput(password), cost)
	return BytesToString(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	if bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(password)) == nil {
		return true
	}
	if len(password) <= maxBcryptPasswordLen {
		return false
	}
	// hashes written by tools that truncate long passwords to 72 bytes
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password[:maxBcryptPasswordLen])) == nil
}

func bcryptInput(password string) []byte {
	if len(password) <= maxBcryptPasswordLen {
		return []byte(password)
	}
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}
