package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrHashMismatch is returned when a secret does not match its stored hash.
var ErrHashMismatch = errors.New("hash mismatch")

// Hasher produces salted one-way hashes of passwords and refresh token secrets.
// Input is keyed with the server-side pepper (HMAC-SHA256, hex) before bcrypt
// adds the per-record salt. The pepper is never stored.
type Hasher struct {
	pepper []byte
	cost   int
}

// NewHasher returns a Hasher with the given pepper and bcrypt cost.
func NewHasher(pepper string, cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{pepper: []byte(pepper), cost: cost}
}

// Hash returns the bcrypt hash of the peppered secret.
func (h *Hasher) Hash(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword(h.peppered(secret), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify compares secret against hash. It returns ErrHashMismatch when they differ.
func (h *Hasher) Verify(secret, hash string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), h.peppered(secret))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrHashMismatch
	}
	return err
}

func (h *Hasher) peppered(secret string) []byte {
	mac := hmac.New(sha256.New, h.pepper)
	_, _ = mac.Write([]byte(secret))
	return []byte(hex.EncodeToString(mac.Sum(nil)))
}
