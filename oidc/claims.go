package oidc

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the verified payload of an ID or access token
type Claims struct {
	jwt.RegisteredClaims
	Email             string `json:"email,omitempty"`
	GivenName         string `json:"given_name,omitempty"`
	FamilyName        string `json:"family_name,omitempty"`
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
}

// Names returns first and last name. A given_name claim selects the
// explicit given/family pair; otherwise the full name is split on its
// first space.
func (c *Claims) Names() (first, last string) {
	if c.GivenName != "" {
		return c.GivenName, c.FamilyName
	}
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return "", ""
	}
	first, last, _ = strings.Cut(name, " ")
	return first, strings.TrimSpace(last)
}

// Username returns the preferred username, else the email, else the subject
func (c *Claims) Username() string {
	switch {
	case c.PreferredUsername != "":
		return c.PreferredUsername
	case c.Email != "":
		return c.Email
	default:
		return c.Subject
	}
}
