package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword derives a one-way salted hash of the plaintext. bcrypt
// embeds the salt in the returned hash, so there is no separate salt to
// store.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether candidate matches the stored hash. The
// comparison recomputes the hash with the embedded salt; plaintext is
// never compared to plaintext.
func CheckPassword(storedHash, candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(candidate)) == nil
}

// BurnHash runs a throwaway bcrypt computation. Authenticate calls it
// when the email is unknown so a response-time measurement cannot
// reveal whether an account exists.
func BurnHash(candidate string) {
	_, _ = bcrypt.GenerateFromPassword([]byte(candidate), bcrypt.DefaultCost)
}
