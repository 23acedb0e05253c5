package apikey

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt cost factor used for admin key hashing
const DefaultCost = bcrypt.DefaultCost

// Hash generates a bcrypt hash of an admin API key
func Hash(key string, cost int) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("api key is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return string(hash), nil
}

// Matches reports whether provided equals the plain key or verifies
// against the bcrypt hash. Either may be empty.
func Matches(provided, plain, hash string) bool {
	if provided == "" {
		return false
	}
	if plain != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(plain)) == 1 {
		return true
	}
	return hash != "" && bcrypt.CompareHashAndPassword([]byte(hash), []byte(provided)) == nil
}
