package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultHashCost matches bcrypt.DefaultCost.
const DefaultHashCost = bcrypt.DefaultCost

// Hasher produces salted bcrypt digests with a fixed cost.
type Hasher struct {
	cost int
}

// NewHasher validates the cost factor. Zero selects DefaultHashCost.
func NewHasher(cost int) (*Hasher, error) {
	if cost == 0 {
		cost = DefaultHashCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: bcrypt cost %d outside [%d,%d]", ErrInvalidInput, cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Hasher{cost: cost}, nil
}

// Cost returns the configured work factor.
func (h *Hasher) Cost() int { return h.cost }

// Hash hashes plaintext password using bcrypt. Every call draws a fresh salt.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) == 0 {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: password exceeds 72 bytes", ErrInvalidInput)
		}
		return "", err
	}
	return string(hash), nil
}

// Verify compares plaintext password with stored digest in constant time. Malformed or
// empty digests simply fail.
func (h *Hasher) Verify(password, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}
