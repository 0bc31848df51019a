package auth

import (
	"crypto/sha256"
	"crypto/subtle"

	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize = 16
	KeySize  = 32
)

// HashPassword derives a PBKDF2-HMAC-SHA256 key from password and salt.
func HashPassword(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, KeySize, sha256.New)
}

// VerifyPassword recomputes the hash and compares it in constant time.
func VerifyPassword(password string, salt, hash []byte, iterations int) bool {
	candidate := HashPassword(password, salt, iterations)
	return subtle.ConstantTimeCompare(candidate, hash) == 1
}
