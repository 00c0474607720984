package token

import "errors"

// Verification failures. Every error returned by Codec.Verify wraps exactly one of these.
var (
	ErrExpired          = errors.New("token expired")
	ErrAudienceMismatch = errors.New("token audience mismatch")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrMalformed        = errors.New("token malformed")
	ErrKindMismatch     = errors.New("token kind mismatch")
)

// IsTokenError reports whether err is one of the token verification failures.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrAudienceMismatch) ||
		errors.Is(err, ErrSignatureInvalid) ||
		errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrKindMismatch)
}
