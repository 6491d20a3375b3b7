// Package credentials provides the opaque hash/compare contract used for
// passwords, PINs and system-generated temporary passwords.
package credentials

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Service hashes and verifies secrets.
type Service struct {
	cost int
}

// NewService uses the bcrypt default cost unless overridden.
func NewService() *Service {
	return &Service{cost: bcrypt.DefaultCost}
}

// WithCost lowers or raises the bcrypt cost (tests use the minimum).
func (s *Service) WithCost(cost int) *Service {
	if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
		s.cost = cost
	}
	return s
}

// Hash digests a secret.
func (s *Service) Hash(secret string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(digest), nil
}

// Compare reports whether secret matches digest.
func (s *Service) Compare(secret, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret)) == nil
}

// temporary passwords avoid ambiguous characters so they survive SMS delivery.
const tempPasswordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghjkmnpqrstuvwxyz23456789"

// GenerateTemporaryPassword returns a random credential of the given length
// (minimum 8). It must be replaced on first verified login.
func GenerateTemporaryPassword(length int) (string, error) {
	if length < 8 {
		length = 8
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate temporary password: %w", err)
	}
	for i, b := range buf {
		buf[i] = tempPasswordAlphabet[int(b)%len(tempPasswordAlphabet)]
	}
	return string(buf), nil
}
