package oidc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeyResolver resolves a signing key by kid
type KeyResolver interface {
	PublicKey(ctx context.Context, kid string) (*SigningKey, error)
}

// VerifierConfig holds the expected issuer and the two audiences
type VerifierConfig struct {
	Issuer string
	// ClientID is the expected audience of ID tokens
	ClientID string
	// Audience is the expected audience of access tokens (the API audience)
	Audience string
	Leeway   time.Duration
}

// Verifier validates JWT signatures and registered claims against keys
// from a KeyResolver.
type Verifier struct {
	keys     KeyResolver
	issuer   string
	clientID string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// NewVerifier creates a Verifier
func NewVerifier(keys KeyResolver, cfg VerifierConfig) *Verifier {
	return &Verifier{
		keys:     keys,
		issuer:   strings.TrimSuffix(cfg.Issuer, "/"),
		clientID: cfg.ClientID,
		audience: cfg.Audience,
		leeway:   cfg.Leeway,
		now:      time.Now,
	}
}

// VerifyIDToken verifies an ID token; its audience is the client id
func (v *Verifier) VerifyIDToken(ctx context.Context, token string) (*Claims, error) {
	return v.Verify(ctx, token, v.clientID)
}

// VerifyAccessToken verifies an access token; its audience is the API audience
func (v *Verifier) VerifyAccessToken(ctx context.Context, token string) (*Claims, error) {
	return v.Verify(ctx, token, v.audience)
}

// Verify checks the token signature with the key named by its kid, using
// only the algorithm recorded for that key, then the issuer, the given
// audience and the expiry.
func (v *Verifier) Verify(ctx context.Context, token, audience string) (*Claims, error) {
	if audience == "" {
		return nil, fmt.Errorf("%w: no expected audience", ErrInvalidClaims)
	}

	kid, err := headerKeyID(token)
	if err != nil {
		return nil, err
	}

	key, err := v.keys.PublicKey(ctx, kid)
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return key.Material, nil },
		jwt.WithValidMethods([]string{key.Algorithm}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, classify(err)
	}

	return claims, nil
}

// headerKeyID reads the kid from the token header without verifying anything
func headerKeyID(token string) (string, error) {
	if strings.Count(token, ".") != 2 {
		return "", fmt.Errorf("%w: token must have three segments", ErrMalformedHeader)
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if _, ok := parsed.Header["alg"].(string); !ok {
		return "", fmt.Errorf("%w: missing alg", ErrMalformedHeader)
	}
	kid, ok := parsed.Header["kid"].(string)
	if !ok || kid == "" {
		return "", fmt.Errorf("%w: missing kid", ErrMalformedHeader)
	}
	return kid, nil
}

// classify maps golang-jwt errors onto our error kinds. Expiry is checked
// first because it is reported alongside the generic invalid-claims error.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpiredSignature, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued),
		errors.Is(err, jwt.ErrTokenInvalidClaims):
		return fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	default:
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
}
