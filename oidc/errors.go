package oidc

import "errors"

// Verification failures. Each maps to one stable kind so callers can
// report an actionable reason without exposing key material.
var (
	// ErrMalformedHeader is returned when the token or its header cannot be decoded
	ErrMalformedHeader = errors.New("malformed token header")

	// ErrUnknownKeyID is returned when the token's kid is absent from the provider key set
	ErrUnknownKeyID = errors.New("unknown signing key id")

	// ErrExpiredSignature is returned when the token's exp has passed
	ErrExpiredSignature = errors.New("token signature has expired")

	// ErrInvalidClaims is returned on issuer, audience or other registered claim mismatch
	ErrInvalidClaims = errors.New("invalid token claims")

	// ErrSignatureInvalid is returned for any other signature failure,
	// including an algorithm that does not match the signing key
	ErrSignatureInvalid = errors.New("token signature verification failed")

	// ErrKeyFetch is returned when discovery or JWKS retrieval fails.
	// It is a transport failure, not a token failure.
	ErrKeyFetch = errors.New("failed to fetch signing keys")
)

// Stable kind names, used in logs, metrics labels and error details.
const (
	KindMalformedHeader  = "malformed_header"
	KindUnknownKeyID     = "unknown_key_id"
	KindExpiredSignature = "expired_signature"
	KindInvalidClaims    = "invalid_claims"
	KindSignatureInvalid = "signature_invalid"
	KindKeyFetch         = "key_fetch"
)

// ErrorKind returns the stable kind name of a verification error,
// or an empty string when err did not come from this package.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrKeyFetch):
		return KindKeyFetch
	case errors.Is(err, ErrMalformedHeader):
		return KindMalformedHeader
	case errors.Is(err, ErrUnknownKeyID):
		return KindUnknownKeyID
	case errors.Is(err, ErrExpiredSignature):
		return KindExpiredSignature
	case errors.Is(err, ErrInvalidClaims):
		return KindInvalidClaims
	case errors.Is(err, ErrSignatureInvalid):
		return KindSignatureInvalid
	default:
		return ""
	}
}

// Detail returns a human-readable message for a verification error that
// is safe to return to clients.
func Detail(err error) string {
	switch ErrorKind(err) {
	case KindKeyFetch:
		return "Unable to fetch identity provider signing keys"
	case KindMalformedHeader:
		return "Invalid token header"
	case KindUnknownKeyID:
		return "Token signed with an unknown key"
	case KindExpiredSignature:
		return "Token has expired"
	case KindInvalidClaims:
		return "Invalid token claims"
	case KindSignatureInvalid:
		return "Invalid token signature"
	default:
		return "Invalid token"
	}
}

// IsTokenError reports whether err is a client-side token failure (401),
// as opposed to a key transport failure (500).
func IsTokenError(err error) bool {
	kind := ErrorKind(err)
	return kind != "" && kind != KindKeyFetch
}
