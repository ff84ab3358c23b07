// Package oidctest runs an in-process OpenID provider for tests: discovery,
// JWKS and token endpoints backed by a generated RSA key.
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/require"
)

// Default client registration used by the fake provider
const (
	ClientID     = "portal-client"
	ClientSecret = "portal-secret"
	Audience     = "https://api.portal.test"
)

// Grant is what the token endpoint returns for one authorization code
type Grant struct {
	IDToken     string
	AccessToken string
	ExpiresIn   int
}

// Provider is a fake identity provider
type Provider struct {
	Server *httptest.Server
	Issuer string

	mu     sync.RWMutex
	keys   map[string]*rsa.PrivateKey
	kid    string
	seq    int
	grants map[string]Grant

	tokenStatus int
	jwksStatus  int
	lastForm    map[string]string

	DiscoveryHits atomic.Int32
	JWKSHits      atomic.Int32
	TokenHits     atomic.Int32
}

// NewProvider starts a provider; it is closed with the test
func NewProvider(t testing.TB) *Provider {
	t.Helper()

	p := &Provider{
		keys:   make(map[string]*rsa.PrivateKey),
		grants: make(map[string]Grant),
	}
	p.RotateKey(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("/.well-known/jwks.json", p.handleJWKS)
	mux.HandleFunc("/oauth2/token", p.handleToken)

	p.Server = httptest.NewServer(mux)
	p.Issuer = p.Server.URL
	t.Cleanup(p.Server.Close)

	return p
}

// KeyID returns the kid of the current signing key
func (p *Provider) KeyID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.kid
}

// RotateKey adds a new signing key and makes it current; older keys stay published
func (p *Provider) RotateKey(t testing.TB) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.kid = fmt.Sprintf("kid-%d", p.seq)
	p.keys[p.kid] = key
	return p.kid
}

// RemoveKey unpublishes a key
func (p *Provider) RemoveKey(kid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.keys, kid)
}

// Sign signs claims with the current key using RS256
func (p *Provider) Sign(t testing.TB, claims jwt.Claims) string {
	t.Helper()
	p.mu.RLock()
	kid, key := p.kid, p.keys[p.kid]
	p.mu.RUnlock()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

// Claims returns registered claims valid for an hour for the given audience
func (p *Provider) Claims(subject, audience string) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Issuer:    p.Issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
}

// IDToken mints an ID token for the client with the given profile claims
func (p *Provider) IDToken(t testing.TB, subject string, profile map[string]string) string {
	t.Helper()
	claims := jwt.MapClaims{}
	registered := p.Claims(subject, ClientID)
	claims["iss"] = registered.Issuer
	claims["sub"] = registered.Subject
	claims["aud"] = ClientID
	claims["iat"] = registered.IssuedAt.Unix()
	claims["exp"] = registered.ExpiresAt.Unix()
	for k, v := range profile {
		claims[k] = v
	}
	return p.Sign(t, claims)
}

// AccessToken mints an access token for the API audience
func (p *Provider) AccessToken(t testing.TB, subject string) string {
	t.Helper()
	return p.Sign(t, p.Claims(subject, Audience))
}

// Grant registers the tokens returned for an authorization code
func (p *Provider) Grant(code string, grant Grant) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.grants[code] = grant
}

func (p *Provider) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	p.DiscoveryHits.Add(1)
	writeJSON(w, http.StatusOK, map[string]string{
		"issuer":                 p.Issuer,
		"jwks_uri":               p.Issuer + "/.well-known/jwks.json",
		"authorization_endpoint": p.Issuer + "/oauth2/auth",
		"token_endpoint":         p.Issuer + "/oauth2/token",
	})
}

func (p *Provider) handleJWKS(w http.ResponseWriter, r *http.Request) {
	p.JWKSHits.Add(1)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.jwksStatus != 0 {
		http.Error(w, "jwks unavailable", p.jwksStatus)
		return
	}

	set := jwk.NewSet()
	for kid, private := range p.keys {
		key, err := jwk.Import(&private.PublicKey)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = key.Set(jwk.KeyIDKey, kid)
		_ = key.Set(jwk.AlgorithmKey, "RS256")
		_ = key.Set(jwk.KeyUsageKey, "sig")
		_ = set.AddKey(key)
	}
	writeJSON(w, http.StatusOK, set)
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	p.TokenHits.Add(1)

	if err := r.ParseForm(); err != nil || r.Method != http.MethodPost {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	form := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}

	p.mu.Lock()
	p.lastForm = form
	grant, ok := p.grants[form["code"]]
	status := p.tokenStatus
	p.mu.Unlock()

	switch {
	case status != 0:
		writeJSON(w, status, map[string]string{"error": "server_error", "error_description": "provider unavailable"})
	case form["grant_type"] != "authorization_code":
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	case form["client_id"] != ClientID || form["client_secret"] != ClientSecret:
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
	case !ok:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "unknown authorization code"})
	default:
		body := map[string]interface{}{"token_type": "Bearer"}
		if grant.AccessToken != "" {
			body["access_token"] = grant.AccessToken
		}
		if grant.IDToken != "" {
			body["id_token"] = grant.IDToken
		}
		if grant.ExpiresIn > 0 {
			body["expires_in"] = grant.ExpiresIn
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// FailTokenEndpoint makes the token endpoint answer with status; zero restores it
func (p *Provider) FailTokenEndpoint(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenStatus = status
}

// FailJWKS makes the JWKS endpoint answer with status; zero restores it
func (p *Provider) FailJWKS(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jwksStatus = status
}

// Form returns the last form posted to the token endpoint
func (p *Provider) Form() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastForm
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
