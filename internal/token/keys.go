package token

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSigningKey is returned by Issue when the codec only holds a verification key.
var ErrNoSigningKey = errors.New("token: no signing key configured")

// Keys holds the signing method and key material for a Codec.
// Devices normally hold verify-only keys; only the server holds a signing key.
type Keys struct {
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
}

// NewHMACKeys returns HS256 keys for a shared secret. The same secret signs and verifies.
func NewHMACKeys(secret []byte) (*Keys, error) {
	if len(secret) < 32 {
		return nil, errors.New("token: HMAC secret must be at least 32 bytes")
	}
	return &Keys{method: jwt.SigningMethodHS256, signKey: secret, verifyKey: secret}, nil
}

// NewAsymmetricKeys returns RS256 or ES256 keys depending on the public key type.
// priv may be nil for a verify-only codec.
func NewAsymmetricKeys(priv crypto.Signer, pub crypto.PublicKey) (*Keys, error) {
	if pub == nil && priv != nil {
		pub = priv.Public()
	}
	var method jwt.SigningMethod
	switch pub.(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return nil, errors.New("token: public key must be RSA or ECDSA P-256")
	}
	k := &Keys{method: method, verifyKey: pub}
	if priv != nil {
		k.signKey = priv
	}
	return k, nil
}

// Alg returns the JWS algorithm name (HS256, RS256 or ES256).
func (k *Keys) Alg() string {
	return k.method.Alg()
}

// CanSign reports whether the keys include signing material.
func (k *Keys) CanSign() bool {
	return k.signKey != nil
}

// SigningMethod returns the jwt signing method for these keys.
func (k *Keys) SigningMethod() jwt.SigningMethod {
	return k.method
}

// SigningKey returns the key passed to SignedString, or nil for verify-only keys.
func (k *Keys) SigningKey() interface{} {
	return k.signKey
}

// VerificationKey returns the key used to check signatures.
func (k *Keys) VerificationKey() interface{} {
	return k.verifyKey
}
