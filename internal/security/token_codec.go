package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/eventhub-auth/internal/models"
	appErrors "github.com/noah-isme/eventhub-auth/pkg/errors"
)

// TokenCodecConfig configures access token signing.
type TokenCodecConfig struct {
	Secret   string
	Issuer   string
	Audience []string
	Now      func() time.Time
}

// TokenCodec signs and verifies HS256 access tokens.
type TokenCodec struct {
	secret   []byte
	issuer   string
	audience []string
	now      func() time.Time
}

// NewTokenCodec constructs a codec. An empty secret is rejected.
func NewTokenCodec(cfg TokenCodecConfig) (*TokenCodec, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token codec: signing secret missing")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TokenCodec{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		now:      now,
	}, nil
}

// Sign issues an access token for identity valid for ttl.
func (c *TokenCodec) Sign(identity *models.UserIdentity, ttl time.Duration) (string, *models.AccessTokenClaims, error) {
	issuedAt := c.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl)
	roles := make([]string, len(identity.Roles))
	copy(roles, identity.Roles)

	claims := &models.AccessTokenClaims{
		Email: identity.Email,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    c.issuer,
			Subject:   strconv.FormatInt(identity.ID, 10),
			Audience:  c.audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign access token: %w", err)
	}
	return signed, claims, nil
}

// Verify parses tokenString. A token whose signature is valid but whose exp has
// passed yields ErrTokenExpired; any other failure yields ErrInvalidSignature.
func (c *TokenCodec) Verify(tokenString string) (*models.AccessTokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	if len(c.audience) > 0 {
		opts = append(opts, jwt.WithAudience(c.audience[0]))
	}

	claims := &models.AccessTokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, appErrors.WrapAs(err, appErrors.ErrTokenExpired, "")
		}
		return nil, appErrors.WrapAs(err, appErrors.ErrInvalidSignature, "")
	}
	if !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrInvalidSignature, "")
	}
	if _, err := claims.UserID(); err != nil {
		return nil, appErrors.WrapAs(err, appErrors.ErrInvalidSignature, "invalid token subject")
	}
	return claims, nil
}
