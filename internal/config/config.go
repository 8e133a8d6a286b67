// Package config loads the Strava application credentials and endpoints from
// the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Strava holds the API application settings. Credentials and webhook
// settings have no default.
type Strava struct {
	ClientID          string        `env:"STRAVA_CLIENT_ID"`
	ClientSecret      string        `env:"STRAVA_CLIENT_SECRET"`
	CallbackURL       string        `env:"STRAVA_CB_URL"`
	VerifyToken       string        `env:"STRAVA_SUB_VERIFY_TOKEN"`
	RedirectURL       string        `env:"STRAVA_REDIRECT_URL, default=http://localhost:8080/callback"`
	APIURL            string        `env:"STRAVA_API_URL, default=https://www.strava.com/api/v3"`
	OAuthURL          string        `env:"STRAVA_OAUTH_URL, default=https://www.strava.com/oauth"`
	WebhookCreateWait time.Duration `env:"STRAVA_WEBHOOK_CREATE_DELAY, default=6s"`
}

// Load reads the configuration from the process environment.
func Load(ctx context.Context) (*Strava, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Strava, error) {
	var cfg Strava
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("loading strava config: %w", err)
	}
	return &cfg, nil
}

// RequireClient reports an error when the OAuth client credentials are missing.
func (c *Strava) RequireClient() error {
	var errs []error
	if c.ClientID == "" {
		errs = append(errs, errors.New("STRAVA_CLIENT_ID is not set"))
	}
	if c.ClientSecret == "" {
		errs = append(errs, errors.New("STRAVA_CLIENT_SECRET is not set"))
	}
	return errors.Join(errs...)
}

// RequireWebhook reports an error when the push subscription settings are missing.
func (c *Strava) RequireWebhook() error {
	errs := []error{c.RequireClient()}
	if c.CallbackURL == "" {
		errs = append(errs, errors.New("STRAVA_CB_URL is not set"))
	}
	if c.VerifyToken == "" {
		errs = append(errs, errors.New("STRAVA_SUB_VERIFY_TOKEN is not set"))
	}
	return errors.Join(errs...)
}

// AuthorizeURL and TokenURL are derived from OAuthURL.
func (c *Strava) AuthorizeURL() string { return c.OAuthURL + "/authorize" }
func (c *Strava) TokenURL() string     { return c.OAuthURL + "/token" }
