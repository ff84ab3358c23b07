package services

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/validation-portal/config"
	"github.com/upb/validation-portal/internal/oidctest"
)

func oidcConfig(p *oidctest.Provider) config.OIDCConfig {
	return config.OIDCConfig{
		IssuerURL:             p.Issuer,
		ClientID:              oidctest.ClientID,
		ClientSecret:          oidctest.ClientSecret,
		RedirectURI:           "https://portal.test/api/callback",
		Audience:              oidctest.Audience,
		AuthorizationEndpoint: p.Issuer + "/oauth2/auth",
		TokenEndpoint:         p.Issuer + "/oauth2/token",
		Scopes:                []string{"openid", "profile", "email"},
		HTTPTimeout:           5 * time.Second,
	}
}

func TestOIDCTokenExchanger_AuthCodeURL(t *testing.T) {
	provider := oidctest.NewProvider(t)
	exchanger := NewOIDCTokenExchanger(oidcConfig(provider), provider.Server.Client())

	raw := exchanger.AuthCodeURL("state-123")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, provider.Issuer+"/oauth2/auth", u.Scheme+"://"+u.Host+u.Path)
	q := u.Query()
	assert.Equal(t, oidctest.ClientID, q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "openid profile email", q.Get("scope"))
	assert.Equal(t, "https://portal.test/api/callback", q.Get("redirect_uri"))
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Empty(t, q.Get("client_secret"))

	// Building the URL makes no network call
	assert.Equal(t, int32(0), provider.TokenHits.Load())
}

func TestOIDCTokenExchanger_Exchange(t *testing.T) {
	provider := oidctest.NewProvider(t)
	exchanger := NewOIDCTokenExchanger(oidcConfig(provider), provider.Server.Client())

	idToken := provider.IDToken(t, "kp_ada", nil)
	accessToken := provider.AccessToken(t, "kp_ada")
	provider.Grant("code-1", oidctest.Grant{IDToken: idToken, AccessToken: accessToken, ExpiresIn: 600})

	tokens, err := exchanger.Exchange(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, idToken, tokens.IDToken)
	assert.Equal(t, accessToken, tokens.AccessToken)
	assert.InDelta(t, 600, tokens.ExpiresIn, 2)

	form := provider.Form()
	assert.Equal(t, "authorization_code", form["grant_type"])
	assert.Equal(t, "code-1", form["code"])
	assert.Equal(t, "https://portal.test/api/callback", form["redirect_uri"])
	assert.Equal(t, oidctest.ClientID, form["client_id"])
	assert.Equal(t, oidctest.ClientSecret, form["client_secret"])
	assert.Equal(t, oidctest.Audience, form["audience"])
}

func TestOIDCTokenExchanger_DefaultLifetime(t *testing.T) {
	provider := oidctest.NewProvider(t)
	exchanger := NewOIDCTokenExchanger(oidcConfig(provider), provider.Server.Client())
	provider.Grant("code-1", oidctest.Grant{AccessToken: "opaque"})

	tokens, err := exchanger.Exchange(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, 3600, tokens.ExpiresIn)
	assert.Empty(t, tokens.IDToken)
}

func TestOIDCTokenExchanger_ProviderRejects(t *testing.T) {
	provider := oidctest.NewProvider(t)
	exchanger := NewOIDCTokenExchanger(oidcConfig(provider), provider.Server.Client())

	_, err := exchanger.Exchange(context.Background(), "unknown-code")
	require.Error(t, err)

	var exchangeErr *ExchangeError
	require.True(t, errors.As(err, &exchangeErr))
	assert.Equal(t, http.StatusBadRequest, exchangeErr.Status)
	assert.Contains(t, exchangeErr.Body, "invalid_grant")

	provider.FailTokenEndpoint(http.StatusBadGateway)
	_, err = exchanger.Exchange(context.Background(), "unknown-code")
	require.True(t, errors.As(err, &exchangeErr))
	assert.Equal(t, http.StatusBadGateway, exchangeErr.Status)
	assert.Contains(t, exchangeErr.Body, "provider unavailable")
}

func TestOIDCTokenExchanger_TransportFailure(t *testing.T) {
	provider := oidctest.NewProvider(t)
	exchanger := NewOIDCTokenExchanger(oidcConfig(provider), provider.Server.Client())
	provider.Server.Close()

	_, err := exchanger.Exchange(context.Background(), "code-1")
	require.Error(t, err)

	var exchangeErr *ExchangeError
	assert.False(t, errors.As(err, &exchangeErr))
}

func TestOIDCTokenExchanger_NotConfigured(t *testing.T) {
	exchanger := NewOIDCTokenExchanger(config.OIDCConfig{}, nil)

	_, err := exchanger.Exchange(context.Background(), "code-1")
	assert.True(t, IsConfigurationError(err))
}
