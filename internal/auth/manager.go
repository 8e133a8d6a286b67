package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/joshdurbin/fitnerd/internal/db"
	"github.com/joshdurbin/fitnerd/internal/logging"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// ErrNoCredential means the user never connected or has since deauthorized.
var ErrNoCredential = errors.New("no stored credential for user")

// RefreshObserver is told about every refresh attempt.
type RefreshObserver func(userID int64, err error)

// TokenManager hands out valid access tokens, refreshing stored credentials
// when they have expired. Concurrent refreshes for one user share a single
// upstream call so a rotated refresh token is never used twice.
type TokenManager struct {
	queries  *db.Queries
	oauth    *oauth2.Config
	group    singleflight.Group
	now      func() time.Time
	observer RefreshObserver
}

func NewTokenManager(queries *db.Queries, oc *oauth2.Config) *TokenManager {
	return &TokenManager{
		queries: queries,
		oauth:   oc,
		now:     time.Now,
	}
}

// OnRefresh registers fn to observe refresh attempts.
func (m *TokenManager) OnRefresh(fn RefreshObserver) {
	m.observer = fn
}

// AccessToken returns a usable access token for the user, refreshing first if
// the stored one has expired. A refresh failure is returned as is; callers
// must not fall back to the stale token.
func (m *TokenManager) AccessToken(ctx context.Context, userID int64) (string, error) {
	cred, err := m.load(ctx, userID)
	if err != nil {
		return "", err
	}
	if !IsTokenExpired(cred.ExpiresAt, m.now()) {
		return cred.AccessToken, nil
	}

	tokens, err := m.refresh(ctx, userID, false)
	if err != nil {
		return "", err
	}
	return tokens.AccessToken, nil
}

// ForceRefresh refreshes the user's credential regardless of expiry.
func (m *TokenManager) ForceRefresh(ctx context.Context, userID int64) (*TokenResponse, error) {
	return m.refresh(ctx, userID, true)
}

// SaveGrant stores the credential from an initial authorization.
func (m *TokenManager) SaveGrant(ctx context.Context, userID int64, tokens *TokenResponse) error {
	return m.save(ctx, userID, tokens)
}

func (m *TokenManager) refresh(ctx context.Context, userID int64, force bool) (*TokenResponse, error) {
	v, err, shared := m.group.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		// Re-read inside the flight: a caller that lost the race may find the
		// credential already rotated.
		cred, err := m.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		if !force && !IsTokenExpired(cred.ExpiresAt, m.now()) {
			return credentialTokens(cred), nil
		}

		log := logging.ForUser(userID)
		log.Debug().Int64("expires_at", cred.ExpiresAt).Msg("refreshing access token")

		tokens, err := RefreshAccessToken(ctx, m.oauth, cred.RefreshToken)
		if m.observer != nil {
			m.observer(userID, err)
		}
		if err != nil {
			log.Warn().Err(err).Msg("token refresh failed")
			return nil, err
		}
		if err := m.save(ctx, userID, tokens); err != nil {
			return nil, fmt.Errorf("saving refreshed tokens: %w", err)
		}

		log.Info().
			Str("expires_at", time.Unix(tokens.ExpiresAt, 0).Format(time.RFC3339)).
			Msg("access token refreshed")
		return tokens, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logging.ForUser(userID).Debug().Msg("joined in-flight token refresh")
	}
	return v.(*TokenResponse), nil
}

func (m *TokenManager) load(ctx context.Context, userID int64) (db.Credential, error) {
	cred, err := m.queries.GetCredential(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return db.Credential{}, ErrNoCredential
	}
	if err != nil {
		return db.Credential{}, fmt.Errorf("loading credential: %w", err)
	}
	return cred, nil
}

func (m *TokenManager) save(ctx context.Context, userID int64, tokens *TokenResponse) error {
	return m.queries.UpsertCredential(ctx, db.UpsertCredentialParams{
		UserID:       userID,
		TokenType:    tokens.TokenType,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
	})
}

func credentialTokens(c db.Credential) *TokenResponse {
	return &TokenResponse{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		ExpiresAt:    c.ExpiresAt,
		TokenType:    c.TokenType,
	}
}
