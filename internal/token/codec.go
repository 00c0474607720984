// Package token issues and verifies the compact signed credentials exchanged between the
// control plane and device agents: single-use provisioning tokens and time-bound lock tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"

	"device-lock-control-plane/internal/clock"
)

// Kind distinguishes provisioning tokens from lock tokens. It travels as the typ claim.
type Kind string

const (
	KindProvision Kind = "provision"
	KindLock      Kind = "lock"
)

const (
	// MaxProvisionTTL caps the lifetime of provisioning tokens.
	MaxProvisionTTL = 15 * time.Minute
	// DefaultLeeway is the clock skew tolerated on iat.
	DefaultLeeway = 2 * time.Minute
	// LockGrace is added past lockUntil when computing a lock token's exp.
	LockGrace = 5 * time.Minute
)

// Claims is the decoded content of a token.
type Claims struct {
	Kind      Kind
	DeviceID  string
	OwnerID   string
	Audience  string
	Issuer    string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
	// LockUntil and IssuedAtServer are set on lock tokens only.
	LockUntil      time.Time
	IssuedAtServer time.Time
}

// Newer reports whether c was issued after other. Lock tokens are ordered by
// IssuedAtServer, then by jti (xid ids sort by creation time).
func (c Claims) Newer(other Claims) bool {
	if !c.IssuedAtServer.Equal(other.IssuedAtServer) {
		return c.IssuedAtServer.After(other.IssuedAtServer)
	}
	return c.ID > other.ID
}

type wireClaims struct {
	jwt.RegisteredClaims
	Typ            Kind   `json:"typ"`
	Owner          string `json:"owner,omitempty"`
	LockUntil      *int64 `json:"lockUntil,omitempty"`
	IssuedAtServer *int64 `json:"issuedAtServer,omitempty"`
}

// Codec signs and verifies tokens for a single issuer.
type Codec struct {
	keys   *Keys
	issuer string
	clock  clock.Clock
	leeway time.Duration
}

// Option configures a Codec.
type Option func(*Codec)

// WithLeeway sets the clock skew tolerated on iat. It is never applied to exp.
func WithLeeway(d time.Duration) Option {
	return func(c *Codec) {
		if d >= 0 {
			c.leeway = d
		}
	}
}

// NewCodec returns a Codec. clk may be nil for the real clock.
func NewCodec(keys *Keys, issuer string, clk clock.Clock, opts ...Option) *Codec {
	if clk == nil {
		clk = clock.Real{}
	}
	c := &Codec{keys: keys, issuer: issuer, clock: clk, leeway: DefaultLeeway}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Issue signs a token of the given kind valid for ttl from now. DeviceID, OwnerID and
// Audience come from claims; for lock tokens LockUntil must be set and IssuedAtServer
// defaults to now. Provisioning TTLs are clamped to MaxProvisionTTL.
// It returns the token and the claims exactly as Verify will report them.
func (c *Codec) Issue(claims Claims, kind Kind, ttl time.Duration) (string, Claims, error) {
	if !c.keys.CanSign() {
		return "", Claims{}, ErrNoSigningKey
	}
	if kind != KindProvision && kind != KindLock {
		return "", Claims{}, fmt.Errorf("token: unknown kind %q", kind)
	}
	if claims.DeviceID == "" || claims.Audience == "" {
		return "", Claims{}, errors.New("token: device id and audience are required")
	}
	if ttl <= 0 {
		return "", Claims{}, errors.New("token: ttl must be positive")
	}
	if kind == KindProvision && ttl > MaxProvisionTTL {
		ttl = MaxProvisionTTL
	}
	now := c.clock.Now().Truncate(time.Second)

	out := Claims{
		Kind:      kind,
		DeviceID:  claims.DeviceID,
		OwnerID:   claims.OwnerID,
		Audience:  claims.Audience,
		Issuer:    c.issuer,
		ID:        xid.NewWithTime(now).String(),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl.Truncate(time.Second)),
	}
	wc := wireClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        out.ID,
			Subject:   out.DeviceID,
			Issuer:    out.Issuer,
			Audience:  jwt.ClaimStrings{out.Audience},
			IssuedAt:  jwt.NewNumericDate(out.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(out.ExpiresAt),
		},
		Typ:   kind,
		Owner: out.OwnerID,
	}
	if kind == KindLock {
		if claims.LockUntil.IsZero() {
			return "", Claims{}, errors.New("token: lock token requires lockUntil")
		}
		out.LockUntil = claims.LockUntil.UTC().Truncate(time.Second)
		out.IssuedAtServer = claims.IssuedAtServer.UTC().Truncate(time.Second)
		if claims.IssuedAtServer.IsZero() {
			out.IssuedAtServer = now
		}
		lu, ias := out.LockUntil.Unix(), out.IssuedAtServer.Unix()
		wc.LockUntil, wc.IssuedAtServer = &lu, &ias
	}

	signed, err := jwt.NewWithClaims(c.keys.method, wc).SignedString(c.keys.signKey)
	if err != nil {
		return "", Claims{}, fmt.Errorf("token: sign: %w", err)
	}
	return signed, out, nil
}

// Verify checks a token and returns its claims. The audience and kind are checked on
// the decoded payload before the signature, so a token minted for another consumer is
// rejected as ErrAudienceMismatch regardless of who signed it.
func (c *Codec) Verify(tokenString, expectedAudience string, kind Kind) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithoutClaimsValidation(),
		jwt.WithValidMethods([]string{c.keys.Alg()}),
	)

	var unverified wireClaims
	if _, _, err := parser.ParseUnverified(tokenString, &unverified); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !containsAudience(unverified.Audience, expectedAudience) {
		return Claims{}, ErrAudienceMismatch
	}
	if unverified.Typ != kind {
		return Claims{}, fmt.Errorf("%w: got %q, want %q", ErrKindMismatch, unverified.Typ, kind)
	}

	var wc wireClaims
	_, err := parser.ParseWithClaims(tokenString, &wc, func(*jwt.Token) (interface{}, error) {
		return c.keys.verifyKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if wc.Issuer != c.issuer {
		return Claims{}, fmt.Errorf("%w: unexpected issuer %q", ErrSignatureInvalid, wc.Issuer)
	}

	claims, err := fromWire(&wc, expectedAudience)
	if err != nil {
		return Claims{}, err
	}

	now := c.clock.Now()
	if claims.IssuedAt.After(now.Add(c.leeway)) {
		return Claims{}, fmt.Errorf("%w: issued in the future", ErrMalformed)
	}
	if !now.Before(claims.ExpiresAt) {
		return Claims{}, ErrExpired
	}
	return claims, nil
}

func fromWire(wc *wireClaims, audience string) (Claims, error) {
	if wc.Subject == "" || wc.ID == "" || wc.IssuedAt == nil || wc.ExpiresAt == nil {
		return Claims{}, fmt.Errorf("%w: missing sub, jti, iat or exp", ErrMalformed)
	}
	c := Claims{
		Kind:      wc.Typ,
		DeviceID:  wc.Subject,
		OwnerID:   wc.Owner,
		Audience:  audience,
		Issuer:    wc.Issuer,
		ID:        wc.ID,
		IssuedAt:  wc.IssuedAt.Time.UTC(),
		ExpiresAt: wc.ExpiresAt.Time.UTC(),
	}
	if wc.Typ == KindLock {
		if wc.LockUntil == nil || wc.IssuedAtServer == nil {
			return Claims{}, fmt.Errorf("%w: lock token without lockUntil", ErrMalformed)
		}
		c.LockUntil = time.Unix(*wc.LockUntil, 0).UTC()
		c.IssuedAtServer = time.Unix(*wc.IssuedAtServer, 0).UTC()
	}
	return c, nil
}

func containsAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
