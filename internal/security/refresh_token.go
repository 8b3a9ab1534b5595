package security

import (
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
)

const (
	refreshSecretBytes = 32
	refreshSeparator   = "."
	maxRefreshTokenLen = 512
)

// RefreshToken is a raw refresh token split into its public lookup identifier
// and its private verifier. Only the verifier hash is ever persisted.
type RefreshToken struct {
	LookupID string
	Secret   string
}

// String renders the token handed to clients.
func (t RefreshToken) String() string {
	return t.LookupID + refreshSeparator + t.Secret
}

// GenerateRefreshToken returns a new random refresh token.
func GenerateRefreshToken() (RefreshToken, error) {
	buf := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{
		LookupID: uuid.NewString(),
		Secret:   base64.RawURLEncoding.EncodeToString(buf),
	}, nil
}

// ParseRefreshToken splits raw into lookup id and secret. ok is false for
// empty or oversized input and for anything without a uuid lookup prefix;
// such input can never name a stored record.
func ParseRefreshToken(raw string) (token RefreshToken, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxRefreshTokenLen {
		return RefreshToken{}, false
	}
	lookup, secret, found := strings.Cut(raw, refreshSeparator)
	if !found || secret == "" {
		return RefreshToken{}, false
	}
	if _, err := uuid.Parse(lookup); err != nil {
		return RefreshToken{}, false
	}
	return RefreshToken{LookupID: lookup, Secret: secret}, true
}
