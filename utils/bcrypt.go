package utils

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns nil for an empty password; parties without a login keep a NULL hash.
func HashPassword(s string) (*string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	b, err := bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	hashed := string(b)
	return &hashed, nil
}

func ComparePassword(hashed string, normal string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(normal))
}
