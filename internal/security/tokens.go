package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"device-lock-control-plane/internal/token"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
)

// AccessClaims holds JWT claims for an owner access token. Subject is the owner (user) id.
type AccessClaims struct {
	jwt.RegisteredClaims
}

// TokenProvider issues and validates owner access tokens. Accounts live outside this
// service; the provider only needs to agree with the account service on keys, issuer and audience.
type TokenProvider struct {
	keys      *token.Keys
	issuer    string
	audience  string
	accessTTL time.Duration
}

// NewTokenProvider returns a TokenProvider using keys for signing and verification.
func NewTokenProvider(keys *token.Keys, issuer, audience string, accessTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		keys:      keys,
		issuer:    issuer,
		audience:  audience,
		accessTTL: accessTTL,
	}
}

// IssueAccess issues an access JWT for the owner. Used by the dev seed and tests; in
// production tokens come from the account service.
func (p *TokenProvider) IssueAccess(ownerID string) (string, time.Time, error) {
	if !p.keys.CanSign() {
		return "", time.Time{}, token.ErrNoSigningKey
	}
	now := time.Now().UTC()
	expiresAt := now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   ownerID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(p.keys.SigningMethod(), claims).SignedString(p.keys.SigningKey())
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateAccess parses and validates the access token (signature, exp, iss, aud) and
// returns the owner id.
func (p *TokenProvider) ValidateAccess(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(*jwt.Token) (interface{}, error) {
		return p.keys.VerificationKey(), nil
	},
		jwt.WithValidMethods([]string{p.keys.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
