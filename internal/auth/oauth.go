package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/joshdurbin/fitnerd/internal/config"
	"golang.org/x/oauth2"
)

const (
	scopes         = "activity:read_all"
	requestTimeout = 30 * time.Second
)

// StravaOAuthConfig returns an OAuth2 config for the configured Strava application.
func StravaOAuthConfig(cfg *config.Strava) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthorizeURL(),
			TokenURL:  cfg.TokenURL(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: cfg.RedirectURL,
		Scopes:      []string{scopes},
	}
}

// TokenResponse is the credential shape we persist.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	TokenType    string `json:"token_type"`
}

// Athlete is the subset of the athlete object Strava returns with the initial grant.
type Athlete struct {
	ID       int64
	Username string
}

// TokenFromOAuth2 converts an oauth2.Token to our TokenResponse. Strava sends an
// absolute expires_at alongside expires_in; the absolute value wins when present.
func TokenFromOAuth2(token *oauth2.Token) *TokenResponse {
	expiresAt := token.Expiry.Unix()
	if v, ok := token.Extra("expires_at").(float64); ok && v > 0 {
		expiresAt = int64(v)
	}
	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &TokenResponse{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expiresAt,
		TokenType:    tokenType,
	}
}

// AthleteFromToken reads the athlete object embedded in an authorization_code grant.
func AthleteFromToken(token *oauth2.Token) (Athlete, error) {
	raw, ok := token.Extra("athlete").(map[string]interface{})
	if !ok {
		return Athlete{}, errors.New("token response has no athlete")
	}
	id, ok := raw["id"].(float64)
	if !ok || id <= 0 {
		return Athlete{}, errors.New("token response athlete has no id")
	}
	athlete := Athlete{ID: int64(id)}
	if username, ok := raw["username"].(string); ok {
		athlete.Username = username
	}
	return athlete, nil
}

// AuthCodeURL builds the provider authorize URL. state round-trips to the callback.
func AuthCodeURL(oc *oauth2.Config, state string) string {
	return oc.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "force"))
}

// Exchange trades an authorization code for the first credential and the athlete
// it belongs to.
func Exchange(ctx context.Context, oc *oauth2.Config, code string) (*TokenResponse, Athlete, error) {
	token, err := oc.Exchange(withHTTPClient(ctx), code)
	if err != nil {
		return nil, Athlete{}, fmt.Errorf("token exchange failed: %w", err)
	}
	athlete, err := AthleteFromToken(token)
	if err != nil {
		return nil, Athlete{}, err
	}
	return TokenFromOAuth2(token), athlete, nil
}

// RefreshAccessToken runs the refresh_token grant.
func RefreshAccessToken(ctx context.Context, oc *oauth2.Config, refreshToken string) (*TokenResponse, error) {
	// An already expired token forces the TokenSource to refresh.
	oldToken := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour),
	}

	newToken, err := oc.TokenSource(withHTTPClient(ctx), oldToken).Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	return TokenFromOAuth2(newToken), nil
}

// IsTokenExpired reports whether now is past the stored expiry.
func IsTokenExpired(expiresAt int64, now time.Time) bool {
	return now.Unix() > expiresAt
}

func withHTTPClient(ctx context.Context) context.Context {
	if _, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: requestTimeout})
}
