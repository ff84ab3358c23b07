package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/upb/validation-portal/config"
	"golang.org/x/oauth2"
)

// defaultTokenLifetime is used when the provider omits expires_in
const defaultTokenLifetime = 3600

// Tokens are the credentials returned by the provider's token endpoint
type Tokens struct {
	IDToken     string
	AccessToken string
	// ExpiresIn is the access token lifetime in seconds
	ExpiresIn int
}

// ExchangeError is a non-2xx answer from the token endpoint
type ExchangeError struct {
	Status int
	Body   string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token endpoint returned %d: %s", e.Status, e.Body)
}

// TokenExchanger trades an authorization code for tokens
type TokenExchanger interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Tokens, error)
}

// OIDCTokenExchanger exchanges authorization codes with the identity provider
type OIDCTokenExchanger struct {
	oauth      *oauth2.Config
	audience   string
	httpClient *http.Client
}

// NewOIDCTokenExchanger creates a token exchanger. A nil client gets one bounded by cfg.HTTPTimeout.
func NewOIDCTokenExchanger(cfg config.OIDCConfig, httpClient *http.Client) *OIDCTokenExchanger {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &OIDCTokenExchanger{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthorizationEndpoint,
				TokenURL: cfg.TokenEndpoint,
				// The provider expects client credentials in the form body
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		audience:   cfg.Audience,
		httpClient: httpClient,
	}
}

// AuthCodeURL builds the provider authorization URL for the given state
func (e *OIDCTokenExchanger) AuthCodeURL(state string) string {
	return e.oauth.AuthCodeURL(state)
}

// Exchange performs the server-to-server code exchange. Non-2xx answers
// return an *ExchangeError; network failures and timeouts come back as-is.
func (e *OIDCTokenExchanger) Exchange(ctx context.Context, code string) (*Tokens, error) {
	if e.oauth.ClientID == "" || e.oauth.Endpoint.TokenURL == "" {
		return nil, NewDomainError(ErrorTypeConfiguration, "identity provider not configured", nil)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	tok, err := e.oauth.Exchange(ctx, code, oauth2.SetAuthURLParam("audience", e.audience))
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			status := 0
			if retrieveErr.Response != nil {
				status = retrieveErr.Response.StatusCode
			}
			return nil, &ExchangeError{Status: status, Body: strings.TrimSpace(string(retrieveErr.Body))}
		}
		return nil, fmt.Errorf("token request failed: %w", err)
	}

	tokens := &Tokens{
		AccessToken: tok.AccessToken,
		ExpiresIn:   defaultTokenLifetime,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		tokens.IDToken = idToken
	}
	if !tok.Expiry.IsZero() {
		if secs := int(time.Until(tok.Expiry).Round(time.Second).Seconds()); secs > 0 {
			tokens.ExpiresIn = secs
		}
	}
	return tokens, nil
}
