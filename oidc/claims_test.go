package oidc

import (
	"fmt"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func TestClaims_Names(t *testing.T) {
	tests := []struct {
		name      string
		claims    Claims
		wantFirst string
		wantLast  string
	}{
		{"given and family", Claims{GivenName: "Ada", FamilyName: "Lovelace"}, "Ada", "Lovelace"},
		{"full name split on first space", Claims{Name: "Grace Hopper"}, "Grace", "Hopper"},
		{"single token name", Claims{Name: "Madonna"}, "Madonna", ""},
		{"remainder kept whole", Claims{Name: "Mary Ann Evans"}, "Mary", "Ann Evans"},
		{"explicit names win over full name", Claims{GivenName: "Ada", Name: "Augusta Ada King"}, "Ada", ""},
		{"nothing", Claims{}, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, last := tt.claims.Names()
			assert.Equal(t, tt.wantFirst, first)
			assert.Equal(t, tt.wantLast, last)
		})
	}
}

func TestClaims_Username(t *testing.T) {
	sub := jwt.RegisteredClaims{Subject: "kp_123"}

	assert.Equal(t, "ada", (&Claims{RegisteredClaims: sub, PreferredUsername: "ada", Email: "ada@example.com"}).Username())
	assert.Equal(t, "ada@example.com", (&Claims{RegisteredClaims: sub, Email: "ada@example.com"}).Username())
	assert.Equal(t, "kp_123", (&Claims{RegisteredClaims: sub}).Username())
	assert.Equal(t, "", (&Claims{}).Username())
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err    error
		kind   string
		detail string
	}{
		{ErrMalformedHeader, KindMalformedHeader, "Invalid token header"},
		{ErrUnknownKeyID, KindUnknownKeyID, "Token signed with an unknown key"},
		{ErrExpiredSignature, KindExpiredSignature, "Token has expired"},
		{ErrInvalidClaims, KindInvalidClaims, "Invalid token claims"},
		{ErrSignatureInvalid, KindSignatureInvalid, "Invalid token signature"},
		{ErrKeyFetch, KindKeyFetch, "Unable to fetch identity provider signing keys"},
		{assert.AnError, "", "Invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			wrapped := fmt.Errorf("verify: %w", tt.err)
			assert.Equal(t, tt.kind, ErrorKind(wrapped))
			assert.Equal(t, tt.detail, Detail(wrapped))
		})
	}

	assert.Equal(t, "", ErrorKind(nil))
}

func TestClaims_NamesFamilyOnlyFallsBackToFullName(t *testing.T) {
	first, last := (&Claims{FamilyName: "Lovelace", Name: "Ada King"}).Names()
	assert.Equal(t, "Ada", first)
	assert.Equal(t, "King", last)
}
